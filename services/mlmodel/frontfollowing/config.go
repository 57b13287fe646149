package frontfollowing

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/frontfollow/frontfollow/utils"
)

// Per-timestep modality widths and the fixed layer hyperparameters.
const (
	IRRows     = 32
	IRCols     = 24
	IRWidth    = IRRows * IRCols
	SkinWidth  = 32
	LegWidth   = 4
	NumClasses = 7

	irFilters    = 3
	irKernelSize = 3
	irPoolSize   = 3
	irPoolStride = 2
	skinUnits    = 10
	lstmUnits    = 32
	headUnits1   = 128
	headUnits2   = 64
	dropoutRate  = 0.5
)

// WindowConfig fixes the layout of one input window: W timesteps of an infrared frame, an
// optional skin frame and a leg frame, stored modality by modality.
type WindowConfig struct {
	WindowWidth int  `json:"window_width"`
	IRWidth     int  `json:"ir_width"`
	SkinWidth   int  `json:"skin_width"`
	LegWidth    int  `json:"leg_width"`
	IncludeSkin bool `json:"include_skin"`
	MultiOutput bool `json:"multi_output"`
}

// NewWindowConfig returns a validated config with the standard modality widths.
func NewWindowConfig(windowWidth int, includeSkin, multiOutput bool) (WindowConfig, error) {
	cfg := WindowConfig{
		WindowWidth: windowWidth,
		IRWidth:     IRWidth,
		SkinWidth:   SkinWidth,
		LegWidth:    LegWidth,
		IncludeSkin: includeSkin,
		MultiOutput: multiOutput,
	}
	return cfg, cfg.Validate()
}

// Validate returns a ConfigurationError when the window cannot be built.
func (cfg WindowConfig) Validate() error {
	if cfg.WindowWidth <= 0 {
		return newConfigurationError("window width must be positive, got %d", cfg.WindowWidth)
	}
	if cfg.IRWidth <= 0 || cfg.LegWidth <= 0 || (cfg.IncludeSkin && cfg.SkinWidth <= 0) {
		return newConfigurationError("modality widths must be positive, got ir=%d skin=%d leg=%d",
			cfg.IRWidth, cfg.SkinWidth, cfg.LegWidth)
	}
	if cfg.IRWidth != IRRows*IRCols {
		return newConfigurationError("infrared width %d does not reshape to %dx%d", cfg.IRWidth, IRRows, IRCols)
	}
	return nil
}

// TimestepWidth is the number of raw values per timestep across the used modalities.
func (cfg WindowConfig) TimestepWidth() int {
	w := cfg.IRWidth + cfg.LegWidth
	if cfg.IncludeSkin {
		w += cfg.SkinWidth
	}
	return w
}

// InputLength is the length of a raw window.
func (cfg WindowConfig) InputLength() int {
	return cfg.WindowWidth * cfg.TimestepWidth()
}

// Key identifies the architecture, for example in the checkpoint registry.
func (cfg WindowConfig) Key() string {
	return fmt.Sprintf("w%d-skin%d-multi%d-ir%d-skinw%d-leg%d",
		cfg.WindowWidth, boolToInt(cfg.IncludeSkin), boolToInt(cfg.MultiOutput), cfg.IRWidth, cfg.SkinWidth, cfg.LegWidth)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Config is the JSON configuration of a front-following model.
type Config struct {
	WindowWidth    int      `json:"window_width" jsonschema:"minimum=1"`
	IncludeSkin    bool     `json:"include_skin"`
	MultiOutput    bool     `json:"multi_output"`
	CheckpointPath string   `json:"checkpoint_path,omitempty"`
	Seed           int64    `json:"seed,omitempty"`
	NumWorkers     int      `json:"num_workers,omitempty" jsonschema:"minimum=0"`
	Labels         []string `json:"labels,omitempty" jsonschema:"minItems=7,maxItems=7"`
}

// ConfigSchema describes the JSON form of Config.
func ConfigSchema() *jsonschema.Schema {
	return jsonschema.Reflect(&Config{})
}

// Validate ensures all parts of the config are valid and returns the files it depends on.
func (conf *Config) Validate(path string) ([]string, error) {
	if conf.WindowWidth == 0 {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "window_width")
	}
	if _, err := NewWindowConfig(conf.WindowWidth, conf.IncludeSkin, conf.MultiOutput); err != nil {
		return nil, utils.NewConfigValidationError(path, err)
	}
	if conf.NumWorkers < 0 {
		return nil, utils.NewConfigValidationError(path, errors.Errorf("num_workers must not be negative, got %d", conf.NumWorkers))
	}
	if conf.Labels != nil && len(conf.Labels) != NumClasses {
		return nil, utils.NewConfigValidationError(path, errors.Errorf("expected %d labels, got %d", NumClasses, len(conf.Labels)))
	}
	var deps []string
	if conf.CheckpointPath != "" {
		deps = append(deps, conf.CheckpointPath)
	}
	return deps, nil
}

// WindowConfig returns the window layout described by the config.
func (conf *Config) WindowConfig() (WindowConfig, error) {
	return NewWindowConfig(conf.WindowWidth, conf.IncludeSkin, conf.MultiOutput)
}
