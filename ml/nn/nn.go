// Package nn implements the small set of neural network layers the front-following model is
// built from, together with the losses and optimizers used to train it.
//
// A layer's Forward returns its output and a Backward closure bound to that single call. Calling
// the closure with the gradient of the output accumulates the gradients of the layer's
// parameters and returns the gradient of the input. Because every call gets its own closure, one
// layer instance can be evaluated several times inside the same graph (for example once per
// timestep) and all of those uses contribute to the same parameter gradients.
package nn

import (
	"fmt"
	"math/rand"
)

// Backward propagates the gradient of a layer output back to the layer input.
type Backward func(dy []float64) []float64

// Layer is a differentiable function with trainable parameters.
type Layer interface {
	Name() string
	InputSize() int
	OutputSize() int
	Params() []*Param
	Forward(p *Pass, x []float64) ([]float64, Backward)
}

// Pass carries the mode of one forward evaluation. Dropout only draws from Rand when Training is
// set.
type Pass struct {
	Training bool
	Rand     *rand.Rand
}

// Inference returns a pass with every stochastic layer disabled.
func Inference() *Pass {
	return &Pass{}
}

// Training returns a pass with dropout enabled, drawing masks from rng.
func Training(rng *rand.Rand) *Pass {
	return &Pass{Training: true, Rand: rng}
}

// Param is a named trainable array with its accumulated gradient.
type Param struct {
	Name  string
	Shape []int
	Value []float64
	Grad  []float64
}

func newParam(name string, shape ...int) *Param {
	size := 1
	for _, s := range shape {
		size *= s
	}
	return &Param{
		Name:  name,
		Shape: shape,
		Value: make([]float64, size),
		Grad:  make([]float64, size),
	}
}

// Size is the number of scalars in the parameter.
func (p *Param) Size() int {
	return len(p.Value)
}

// ZeroGrad resets the accumulated gradient.
func (p *Param) ZeroGrad() {
	clear(p.Grad)
}

// CountParams returns the number of trainable scalars in params.
func CountParams(params []*Param) int {
	total := 0
	for _, p := range params {
		total += p.Size()
	}
	return total
}

// ZeroGrads resets the gradients of all params.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// Argmax returns the index of the largest entry of v, or -1 when v is empty.
func Argmax(v []float64) int {
	best := -1
	for i, x := range v {
		if best < 0 || x > v[best] {
			best = i
		}
	}
	return best
}

// checkSize guards the internal size contract between layers. A mismatch here is a wiring bug
// in the graph, not bad user input, which is validated before it reaches a layer.
func checkSize(layer string, expected int, x []float64) {
	if len(x) != expected {
		panic(fmt.Sprintf("nn: layer %q expects %d inputs but got %d", layer, expected, len(x)))
	}
}

func identityBackward(dy []float64) []float64 {
	return dy
}
