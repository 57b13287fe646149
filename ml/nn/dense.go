package nn

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dense is a fully connected layer y = act(x·K + b) with K stored row-major as (in, out).
type Dense struct {
	name       string
	in, out    int
	activation Activation

	Kernel *Param
	Bias   *Param
}

// NewDense returns a dense layer with a glorot uniform kernel and a zero bias.
func NewDense(name string, in, out int, activation Activation, rng *rand.Rand) (*Dense, error) {
	if in <= 0 || out <= 0 {
		return nil, errors.Errorf("dense layer %q needs positive sizes, got in=%d out=%d", name, in, out)
	}
	if err := activation.Validate(); err != nil {
		return nil, errors.Wrapf(err, "dense layer %q", name)
	}
	d := &Dense{
		name:       name,
		in:         in,
		out:        out,
		activation: activation,
		Kernel:     newParam(name+"/kernel", in, out),
		Bias:       newParam(name+"/bias", out),
	}
	glorotUniform(rng, d.Kernel.Value, in, out)
	return d, nil
}

// Name returns the layer name.
func (d *Dense) Name() string { return d.name }

// InputSize is the width of the input vector.
func (d *Dense) InputSize() int { return d.in }

// OutputSize is the number of units.
func (d *Dense) OutputSize() int { return d.out }

// Activation returns the activation applied to the output.
func (d *Dense) Activation() Activation { return d.activation }

// Params returns the kernel and the bias.
func (d *Dense) Params() []*Param { return []*Param{d.Kernel, d.Bias} }

// Forward computes the layer output for one example.
func (d *Dense) Forward(_ *Pass, x []float64) ([]float64, Backward) {
	checkSize(d.name, d.in, x)
	kernel := mat.NewDense(d.in, d.out, d.Kernel.Value)
	z := mat.NewVecDense(d.out, nil)
	z.MulVec(kernel.T(), mat.NewVecDense(d.in, x))
	y := z.RawVector().Data
	floats.Add(y, d.Bias.Value)
	d.activation.apply(y)

	return y, func(dy []float64) []float64 {
		dz := d.activation.gradient(y, dy)
		floats.Add(d.Bias.Grad, dz)
		for i, xi := range x {
			if xi == 0 {
				continue
			}
			floats.AddScaled(d.Kernel.Grad[i*d.out:(i+1)*d.out], xi, dz)
		}
		dx := mat.NewVecDense(d.in, nil)
		dx.MulVec(kernel, mat.NewVecDense(d.out, dz))
		return dx.RawVector().Data
	}
}
