package nn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LSTM is a single long short-term memory layer that consumes a whole sequence and returns only
// its final hidden state. Gates are packed in the order input, forget, cell, output; the
// recurrent activation is sigmoid and the cell activation tanh. The state starts at zero for
// every sequence.
type LSTM struct {
	name      string
	timesteps int
	features  int
	units     int

	// Kernel is (features, 4*units), RecurrentKernel is (units, 4*units).
	Kernel          *Param
	RecurrentKernel *Param
	Bias            *Param
}

// NewLSTM returns an LSTM with a glorot uniform input kernel, an orthogonal recurrent kernel and
// a bias that is zero except for a forget gate bias of one.
func NewLSTM(name string, timesteps, features, units int, rng *rand.Rand) (*LSTM, error) {
	if timesteps <= 0 || features <= 0 || units <= 0 {
		return nil, errors.Errorf("lstm layer %q needs positive sizes, got timesteps=%d features=%d units=%d",
			name, timesteps, features, units)
	}
	l := &LSTM{
		name:            name,
		timesteps:       timesteps,
		features:        features,
		units:           units,
		Kernel:          newParam(name+"/kernel", features, 4*units),
		RecurrentKernel: newParam(name+"/recurrent_kernel", units, 4*units),
		Bias:            newParam(name+"/bias", 4*units),
	}
	glorotUniform(rng, l.Kernel.Value, features, 4*units)
	copy(l.RecurrentKernel.Value, orthogonal(rng, units, 4*units))
	for i := units; i < 2*units; i++ {
		l.Bias.Value[i] = 1
	}
	return l, nil
}

// Name returns the layer name.
func (l *LSTM) Name() string { return l.name }

// InputSize is timesteps*features; the sequence is laid out one timestep after another.
func (l *LSTM) InputSize() int { return l.timesteps * l.features }

// OutputSize is the number of units.
func (l *LSTM) OutputSize() int { return l.units }

// Timesteps is the fixed sequence length.
func (l *LSTM) Timesteps() int { return l.timesteps }

// Params returns the kernel, the recurrent kernel and the bias.
func (l *LSTM) Params() []*Param { return []*Param{l.Kernel, l.RecurrentKernel, l.Bias} }

type lstmStep struct {
	x, hPrev, cPrev []float64
	i, f, g, o      []float64
	tanhC           []float64
}

// Forward runs the sequence and returns the last hidden state.
func (l *LSTM) Forward(_ *Pass, x []float64) ([]float64, Backward) {
	checkSize(l.name, l.InputSize(), x)
	u := l.units
	kernel := mat.NewDense(l.features, 4*u, l.Kernel.Value)
	recurrent := mat.NewDense(u, 4*u, l.RecurrentKernel.Value)

	h := make([]float64, u)
	c := make([]float64, u)
	steps := make([]lstmStep, l.timesteps)
	for t := range steps {
		xt := x[t*l.features : (t+1)*l.features]
		z := mat.NewVecDense(4*u, nil)
		z.MulVec(kernel.T(), mat.NewVecDense(l.features, xt))
		zr := mat.NewVecDense(4*u, nil)
		zr.MulVec(recurrent.T(), mat.NewVecDense(u, h))
		gates := z.RawVector().Data
		floats.Add(gates, zr.RawVector().Data)
		floats.Add(gates, l.Bias.Value)

		s := lstmStep{
			x: xt, hPrev: h, cPrev: c,
			i: gates[0:u], f: gates[u : 2*u], g: gates[2*u : 3*u], o: gates[3*u : 4*u],
			tanhC: make([]float64, u),
		}
		hNext := make([]float64, u)
		cNext := make([]float64, u)
		for k := 0; k < u; k++ {
			s.i[k] = sigmoid(s.i[k])
			s.f[k] = sigmoid(s.f[k])
			s.g[k] = math.Tanh(s.g[k])
			s.o[k] = sigmoid(s.o[k])
			cNext[k] = s.f[k]*c[k] + s.i[k]*s.g[k]
			s.tanhC[k] = math.Tanh(cNext[k])
			hNext[k] = s.o[k] * s.tanhC[k]
		}
		steps[t] = s
		h, c = hNext, cNext
	}

	return h, func(dy []float64) []float64 {
		dx := make([]float64, len(x))
		dh := append([]float64(nil), dy...)
		dc := make([]float64, u)
		dz := make([]float64, 4*u)
		for t := len(steps) - 1; t >= 0; t-- {
			s := steps[t]
			for k := 0; k < u; k++ {
				do := dh[k] * s.tanhC[k]
				dck := dc[k] + dh[k]*s.o[k]*(1-s.tanhC[k]*s.tanhC[k])
				di := dck * s.g[k]
				dg := dck * s.i[k]
				df := dck * s.cPrev[k]
				dc[k] = dck * s.f[k]

				dz[k] = di * s.i[k] * (1 - s.i[k])
				dz[u+k] = df * s.f[k] * (1 - s.f[k])
				dz[2*u+k] = dg * (1 - s.g[k]*s.g[k])
				dz[3*u+k] = do * s.o[k] * (1 - s.o[k])
			}
			floats.Add(l.Bias.Grad, dz)
			for j, xv := range s.x {
				floats.AddScaled(l.Kernel.Grad[j*4*u:(j+1)*4*u], xv, dz)
			}
			for j, hv := range s.hPrev {
				floats.AddScaled(l.RecurrentKernel.Grad[j*4*u:(j+1)*4*u], hv, dz)
			}
			dzVec := mat.NewVecDense(4*u, dz)
			dxt := mat.NewVecDense(l.features, dx[t*l.features:(t+1)*l.features])
			dxt.MulVec(kernel, dzVec)
			dhPrev := mat.NewVecDense(u, nil)
			dhPrev.MulVec(recurrent, dzVec)
			dh = dhPrev.RawVector().Data
		}
		return dx
	}
}
