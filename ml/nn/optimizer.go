package nn

import (
	"math"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Name() string
	Step(params []*Param)
}

// Default RMSProp hyperparameters.
const (
	DefaultLearningRate = 0.001
	DefaultRho          = 0.9
	DefaultEpsilon      = 1e-7
)

// RMSProp scales each update by a running root mean square of the gradient.
type RMSProp struct {
	LearningRate float64
	Rho          float64
	Epsilon      float64

	meanSquare map[*Param][]float64
}

// NewRMSProp returns an RMSProp optimizer with the default hyperparameters.
func NewRMSProp() *RMSProp {
	return &RMSProp{
		LearningRate: DefaultLearningRate,
		Rho:          DefaultRho,
		Epsilon:      DefaultEpsilon,
	}
}

// Name returns "rmsprop".
func (o *RMSProp) Name() string { return "rmsprop" }

// Step applies one update to every param.
func (o *RMSProp) Step(params []*Param) {
	if o.meanSquare == nil {
		o.meanSquare = map[*Param][]float64{}
	}
	for _, p := range params {
		ms, ok := o.meanSquare[p]
		if !ok {
			ms = make([]float64, p.Size())
			o.meanSquare[p] = ms
		}
		for i, g := range p.Grad {
			ms[i] = o.Rho*ms[i] + (1-o.Rho)*g*g
			p.Value[i] -= o.LearningRate * g / (math.Sqrt(ms[i]) + o.Epsilon)
		}
	}
}

// Reset forgets the running averages, for example after parameters were reloaded.
func (o *RMSProp) Reset() {
	o.meanSquare = nil
}

// SGD is plain gradient descent.
type SGD struct {
	LearningRate float64
}

// Name returns "sgd".
func (o *SGD) Name() string { return "sgd" }

// Step applies one update to every param.
func (o *SGD) Step(params []*Param) {
	for _, p := range params {
		for i, g := range p.Grad {
			p.Value[i] -= o.LearningRate * g
		}
	}
}
