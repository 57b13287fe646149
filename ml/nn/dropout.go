package nn

import (
	"github.com/pkg/errors"
)

// Dropout zeroes each element with probability Rate while training and scales the survivors by
// 1/(1-Rate). Outside of training it is the identity.
type Dropout struct {
	name string
	size int
	Rate float64
}

// NewDropout returns a dropout layer over vectors of the given size.
func NewDropout(name string, size int, rate float64) (*Dropout, error) {
	if size <= 0 {
		return nil, errors.Errorf("dropout layer %q needs a positive size, got %d", name, size)
	}
	if rate < 0 || rate >= 1 {
		return nil, errors.Errorf("dropout layer %q rate must be in [0, 1), got %v", name, rate)
	}
	return &Dropout{name: name, size: size, Rate: rate}, nil
}

// Name returns the layer name.
func (d *Dropout) Name() string { return d.name }

// InputSize is the vector size.
func (d *Dropout) InputSize() int { return d.size }

// OutputSize is the vector size.
func (d *Dropout) OutputSize() int { return d.size }

// Params is empty.
func (d *Dropout) Params() []*Param { return nil }

// Forward applies a fresh mask when p is a training pass.
func (d *Dropout) Forward(p *Pass, x []float64) ([]float64, Backward) {
	checkSize(d.name, d.size, x)
	if p == nil || !p.Training || d.Rate == 0 {
		return x, identityBackward
	}
	keep := 1 - d.Rate
	mask := make([]float64, len(x))
	y := make([]float64, len(x))
	for i := range x {
		if p.Rand.Float64() < keep {
			mask[i] = 1 / keep
			y[i] = x[i] * mask[i]
		}
	}
	return y, func(dy []float64) []float64 {
		dx := make([]float64, len(dy))
		for i := range dy {
			dx[i] = dy[i] * mask[i]
		}
		return dx
	}
}
