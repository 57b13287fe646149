package cli

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/frontfollow/frontfollow/logging"
	"github.com/frontfollow/frontfollow/services/mlmodel/frontfollowing"
	"github.com/frontfollow/frontfollow/utils"
)

// newLogger writes to the app's error writer, and to a rotating file when --log-file is set. The
// returned func closes the file.
func newLogger(c *cli.Context) (logging.Logger, func()) {
	logger := logging.NewBlankLogger("frontfollow")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if !c.Bool(flagDebug) {
		logger.SetLevel(logging.INFO)
	}
	path := c.Path(flagLogFile)
	if path == "" {
		return logger, func() {}
	}
	fileAppender := logging.NewFileAppender(path)
	logger.AddAppender(fileAppender)
	return logger, func() {
		if err := fileAppender.Close(); err != nil {
			warningf(c.App.ErrWriter, "closing log file: %v", err)
		}
	}
}

// expandPath is the --name path flag with a leading ~ expanded.
func expandPath(c *cli.Context, name string) (string, error) {
	path := c.Path(name)
	if path == "" {
		return "", nil
	}
	return utils.ExpandHomeDir(path)
}

// modelConfig reads the --config file, when given, and applies the model flags that were set
// on top of it.
func modelConfig(c *cli.Context) (*frontfollowing.Config, error) {
	conf := &frontfollowing.Config{}
	path, err := expandPath(c, flagConfig)
	if err != nil {
		return nil, err
	}
	if path != "" {
		//nolint:gosec
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading model configuration")
		}
		if err := json.Unmarshal(data, conf); err != nil {
			return nil, errors.Wrapf(err, "decoding model configuration %q", path)
		}
	}

	if c.IsSet(flagWindowWidth) || conf.WindowWidth == 0 {
		conf.WindowWidth = c.Int(flagWindowWidth)
	}
	if c.IsSet(flagSkin) {
		conf.IncludeSkin = c.Bool(flagSkin)
	}
	if c.IsSet(flagMultiOutput) {
		conf.MultiOutput = c.Bool(flagMultiOutput)
	}
	if c.IsSet(flagSeed) {
		conf.Seed = c.Int64(flagSeed)
	}
	if c.IsSet(flagWorkers) {
		conf.NumWorkers = c.Int(flagWorkers)
	}
	if c.IsSet(flagCheckpoint) {
		if conf.CheckpointPath, err = expandPath(c, flagCheckpoint); err != nil {
			return nil, err
		}
	}
	if _, err := conf.Validate(flagConfig); err != nil {
		return nil, err
	}
	return conf, nil
}

func newModel(c *cli.Context, logger logging.Logger) (*frontfollowing.Model, error) {
	conf, err := modelConfig(c)
	if err != nil {
		return nil, err
	}
	return frontfollowing.New(c.Context, conf, logger)
}
