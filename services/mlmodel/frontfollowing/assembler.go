package frontfollowing

import (
	"github.com/frontfollow/frontfollow/ml/nn"
)

// Frames are the per-timestep slices of one raw window. Each entry aliases the raw input.
type Frames struct {
	IR   [][]float64
	Skin [][]float64
	Leg  [][]float64
}

// SliceFrames cuts a raw window into per-timestep frames at fixed offsets. The input is laid out
// as the infrared block, the skin block when skin is included, then the leg block. Skin values
// are never read when skin is excluded.
func SliceFrames(cfg WindowConfig, x []float64) (Frames, error) {
	if len(x) != cfg.InputLength() {
		return Frames{}, &ShapeMismatchError{What: "window input", Expected: cfg.InputLength(), Actual: len(x)}
	}
	w := cfg.WindowWidth
	irBlock := x[:cfg.IRWidth*w]
	rest := x[cfg.IRWidth*w:]
	var skinBlock []float64
	if cfg.IncludeSkin {
		skinBlock = rest[:cfg.SkinWidth*w]
		rest = rest[cfg.SkinWidth*w:]
	}
	legBlock := rest

	var frames Frames
	var err error
	if frames.IR, err = splitBlock("infrared block", irBlock, w); err != nil {
		return Frames{}, err
	}
	if cfg.IncludeSkin {
		if frames.Skin, err = splitBlock("skin block", skinBlock, w); err != nil {
			return Frames{}, err
		}
	}
	if frames.Leg, err = splitBlock("leg block", legBlock, w); err != nil {
		return Frames{}, err
	}
	return frames, nil
}

// splitBlock cuts block into w equally long frames.
func splitBlock(what string, block []float64, w int) ([][]float64, error) {
	if w <= 0 {
		return nil, newConfigurationError("window width must be positive, got %d", w)
	}
	if len(block)%w != 0 {
		return nil, &ShapeMismatchError{What: what + " (multiple of window width)", Expected: len(block) - len(block)%w, Actual: len(block)}
	}
	width := len(block) / w
	frames := make([][]float64, w)
	for t := range frames {
		frames[t] = block[t*width : (t+1)*width]
	}
	return frames, nil
}

// Assembler runs the shared frame encoders over every timestep of a window and concatenates
// their outputs, timestep by timestep, as (infrared, skin, leg).
type Assembler struct {
	cfg  WindowConfig
	ir   nn.Layer
	skin nn.Layer
}

// NewAssembler pairs the encoders with the window layout. skin must be nil exactly when the
// layout excludes skin.
func NewAssembler(cfg WindowConfig, ir, skin nn.Layer) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ir == nil || ir.InputSize() != cfg.IRWidth {
		return nil, newConfigurationError("infrared encoder does not take %d values", cfg.IRWidth)
	}
	if cfg.IncludeSkin != (skin != nil) {
		return nil, newConfigurationError("skin encoder presence does not match include_skin=%v", cfg.IncludeSkin)
	}
	if skin != nil && skin.InputSize() != cfg.SkinWidth {
		return nil, newConfigurationError("skin encoder does not take %d values", cfg.SkinWidth)
	}
	return &Assembler{cfg: cfg, ir: ir, skin: skin}, nil
}

// FeatureWidth is the number of features per timestep after encoding.
func (a *Assembler) FeatureWidth() int {
	f := a.ir.OutputSize() + a.cfg.LegWidth
	if a.skin != nil {
		f += a.skin.OutputSize()
	}
	return f
}

// OutputLength is the length of the assembled feature vector.
func (a *Assembler) OutputLength() int {
	return a.cfg.WindowWidth * a.FeatureWidth()
}

// Params returns the encoder parameters.
func (a *Assembler) Params() []*nn.Param {
	params := a.ir.Params()
	if a.skin != nil {
		params = append(params, a.skin.Params()...)
	}
	return params
}

// Forward encodes one raw window. The backward closure accumulates encoder gradients from every
// timestep; gradients with respect to the raw input are not returned.
func (a *Assembler) Forward(p *nn.Pass, x []float64) ([]float64, func(dy []float64), error) {
	frames, err := SliceFrames(a.cfg, x)
	if err != nil {
		return nil, nil, err
	}
	w := a.cfg.WindowWidth
	irBacks := make([]nn.Backward, w)
	skinBacks := make([]nn.Backward, w)
	out := make([]float64, 0, a.OutputLength())
	for t := 0; t < w; t++ {
		var irOut []float64
		irOut, irBacks[t] = a.ir.Forward(p, frames.IR[t])
		out = append(out, irOut...)
		if a.skin != nil {
			var skinOut []float64
			skinOut, skinBacks[t] = a.skin.Forward(p, frames.Skin[t])
			out = append(out, skinOut...)
		}
		out = append(out, frames.Leg[t]...)
	}

	irSize := a.ir.OutputSize()
	return out, func(dy []float64) {
		f := a.FeatureWidth()
		for t := 0; t < w; t++ {
			step := dy[t*f : (t+1)*f]
			irBacks[t](step[:irSize])
			if a.skin != nil {
				skinBacks[t](step[irSize : irSize+a.skin.OutputSize()])
			}
		}
	}, nil
}
