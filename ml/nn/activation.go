package nn

import (
	"math"

	"github.com/pkg/errors"

	"github.com/frontfollow/frontfollow/ml"
)

// Activation names an elementwise (or, for softmax, vector) nonlinearity applied after a
// layer's affine transform.
type Activation string

// The supported activations.
const (
	Linear  Activation = "linear"
	ReLU    Activation = "relu"
	Tanh    Activation = "tanh"
	Sigmoid Activation = "sigmoid"
	Softmax Activation = "softmax"
)

// Validate returns an error for unknown activations.
func (a Activation) Validate() error {
	switch a {
	case Linear, ReLU, Tanh, Sigmoid, Softmax:
		return nil
	default:
		return errors.Errorf("unknown activation %q", string(a))
	}
}

// apply overwrites z with the activated values.
func (a Activation) apply(z []float64) {
	switch a {
	case ReLU:
		for i, v := range z {
			if v < 0 {
				z[i] = 0
			}
		}
	case Tanh:
		for i, v := range z {
			z[i] = math.Tanh(v)
		}
	case Sigmoid:
		for i, v := range z {
			z[i] = sigmoid(v)
		}
	case Softmax:
		copy(z, ml.Softmax(z))
	case Linear:
	}
}

// gradient returns the gradient with respect to the pre-activation given the activated output y
// and the gradient dy of the output.
func (a Activation) gradient(y, dy []float64) []float64 {
	dz := make([]float64, len(dy))
	switch a {
	case ReLU:
		for i := range dy {
			if y[i] > 0 {
				dz[i] = dy[i]
			}
		}
	case Tanh:
		for i := range dy {
			dz[i] = dy[i] * (1 - y[i]*y[i])
		}
	case Sigmoid:
		for i := range dy {
			dz[i] = dy[i] * y[i] * (1 - y[i])
		}
	case Softmax:
		dot := 0.0
		for i := range dy {
			dot += dy[i] * y[i]
		}
		for i := range dy {
			dz[i] = y[i] * (dy[i] - dot)
		}
	case Linear:
		copy(dz, dy)
	}
	return dz
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
