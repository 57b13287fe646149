package nn

import (
	"math"
	"math/rand"
	"testing"

	"go.viam.com/test"
)

const finiteDelta = 1e-6

func randomVector(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

// projectedLoss reduces a layer output to a scalar with fixed random weights so every output
// element contributes to the gradient.
func projectedLoss(y, weights []float64) float64 {
	total := 0.0
	for i := range y {
		total += y[i] * weights[i]
	}
	return total
}

// checkGradients compares the analytic gradients of layer against central differences. The
// pass factory lets dropout reuse one mask for every evaluation.
func checkGradients(t *testing.T, layer Layer, newPass func() *Pass) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	x := randomVector(rng, layer.InputSize())
	weights := randomVector(rng, layer.OutputSize())

	ZeroGrads(layer.Params())
	y, back := layer.Forward(newPass(), x)
	test.That(t, y, test.ShouldHaveLength, layer.OutputSize())
	dx := back(weights)
	test.That(t, dx, test.ShouldHaveLength, layer.InputSize())

	loss := func() float64 {
		out, _ := layer.Forward(newPass(), x)
		return projectedLoss(out, weights)
	}
	closeEnough := func(analytic, numeric float64) {
		t.Helper()
		tol := 1e-5 + 1e-4*math.Max(math.Abs(analytic), math.Abs(numeric))
		test.That(t, math.Abs(analytic-numeric), test.ShouldBeLessThanOrEqualTo, tol)
	}

	for i := range x {
		orig := x[i]
		x[i] = orig + finiteDelta
		plus := loss()
		x[i] = orig - finiteDelta
		minus := loss()
		x[i] = orig
		closeEnough(dx[i], (plus-minus)/(2*finiteDelta))
	}
	for _, p := range layer.Params() {
		for i := range p.Value {
			orig := p.Value[i]
			p.Value[i] = orig + finiteDelta
			plus := loss()
			p.Value[i] = orig - finiteDelta
			minus := loss()
			p.Value[i] = orig
			closeEnough(p.Grad[i], (plus-minus)/(2*finiteDelta))
		}
	}
}

func randomizeBias(rng *rand.Rand, params ...*Param) {
	for _, p := range params {
		copy(p.Value, randomVector(rng, p.Size()))
	}
}

func TestDenseGradients(t *testing.T) {
	for _, act := range []Activation{Linear, ReLU, Tanh, Sigmoid, Softmax} {
		t.Run(string(act), func(t *testing.T) {
			rng := rand.New(rand.NewSource(1))
			d, err := NewDense("dense", 5, 4, act, rng)
			test.That(t, err, test.ShouldBeNil)
			randomizeBias(rng, d.Bias)
			checkGradients(t, d, Inference)
		})
	}
}

func TestDenseValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := NewDense("dense", 0, 4, ReLU, rng)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldEqual, `dense layer "dense" needs positive sizes, got in=0 out=4`)
	_, err = NewDense("dense", 4, 4, Activation("swish"), rng)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "swish")
}

func TestConvGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	c, err := NewConv2D("conv", Shape3D{Height: 5, Width: 4, Channels: 2}, 3, 3, ReLU, rng)
	test.That(t, err, test.ShouldBeNil)
	randomizeBias(rng, c.Bias)
	test.That(t, c.OutputSize(), test.ShouldEqual, 5*4*3)
	checkGradients(t, c, Inference)
}

func TestConvSamePadding(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	c, err := NewConv2D("conv", Shape3D{Height: 3, Width: 3, Channels: 1}, 1, 3, Linear, rng)
	test.That(t, err, test.ShouldBeNil)
	for i := range c.Kernel.Value {
		c.Kernel.Value[i] = 1
	}
	y, _ := c.Forward(Inference(), []float64{
		1, 1, 1,
		1, 1, 1,
		1, 1, 1,
	})
	// Each output sums the in-bounds part of its 3x3 neighbourhood.
	test.That(t, y, test.ShouldResemble, []float64{
		4, 6, 4,
		6, 9, 6,
		4, 6, 4,
	})
}

func TestMaxPool(t *testing.T) {
	pool, err := NewMaxPool2D("pool", Shape3D{Height: 32, Width: 24, Channels: 3}, 3, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pool.OutputShape(), test.ShouldResemble, Shape3D{Height: 15, Width: 11, Channels: 3})
	test.That(t, pool.OutputSize(), test.ShouldEqual, 495)

	small, err := NewMaxPool2D("pool", Shape3D{Height: 3, Width: 3, Channels: 1}, 2, 1)
	test.That(t, err, test.ShouldBeNil)
	y, back := small.Forward(Inference(), []float64{
		1, 5, 2,
		3, 4, 9,
		0, 8, 7,
	})
	test.That(t, y, test.ShouldResemble, []float64{5, 9, 8, 9})
	dx := back([]float64{1, 1, 1, 1})
	test.That(t, dx, test.ShouldResemble, []float64{0, 1, 0, 0, 0, 2, 0, 1, 0})

	_, err = NewMaxPool2D("pool", Shape3D{Height: 2, Width: 2, Channels: 1}, 3, 2)
	test.That(t, err, test.ShouldNotBeNil)

	checkGradients(t, small, Inference)
}

func TestDropout(t *testing.T) {
	d, err := NewDropout("drop", 1000, 0.5)
	test.That(t, err, test.ShouldBeNil)
	x := make([]float64, 1000)
	for i := range x {
		x[i] = 1
	}

	y, _ := d.Forward(Inference(), x)
	test.That(t, y, test.ShouldResemble, x)

	y, back := d.Forward(Training(rand.New(rand.NewSource(5))), x)
	zeros, twos := 0, 0
	for _, v := range y {
		switch v {
		case 0:
			zeros++
		case 2:
			twos++
		}
	}
	test.That(t, zeros+twos, test.ShouldEqual, 1000)
	test.That(t, zeros, test.ShouldBeBetween, 400, 600)
	test.That(t, back(x), test.ShouldResemble, y)

	_, err = NewDropout("drop", 10, 1)
	test.That(t, err, test.ShouldNotBeNil)

	small, err := NewDropout("drop", 6, 0.3)
	test.That(t, err, test.ShouldBeNil)
	checkGradients(t, small, func() *Pass { return Training(rand.New(rand.NewSource(9))) })
}

func TestLSTMGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	l, err := NewLSTM("lstm", 3, 4, 3, rng)
	test.That(t, err, test.ShouldBeNil)
	randomizeBias(rng, l.Bias)
	test.That(t, l.OutputSize(), test.ShouldEqual, 3)
	checkGradients(t, l, Inference)
}

func TestLSTMInitialization(t *testing.T) {
	l, err := NewLSTM("lstm", 2, 5, 4, rand.New(rand.NewSource(8)))
	test.That(t, err, test.ShouldBeNil)
	for i, b := range l.Bias.Value {
		if i >= 4 && i < 8 {
			test.That(t, b, test.ShouldEqual, 1)
		} else {
			test.That(t, b, test.ShouldEqual, 0)
		}
	}
	// Rows of the (units, 4*units) recurrent kernel are orthonormal.
	u, cols := 4, 16
	for a := 0; a < u; a++ {
		for b := 0; b < u; b++ {
			dot := 0.0
			for k := 0; k < cols; k++ {
				dot += l.RecurrentKernel.Value[a*cols+k] * l.RecurrentKernel.Value[b*cols+k]
			}
			want := 0.0
			if a == b {
				want = 1
			}
			test.That(t, dot, test.ShouldAlmostEqual, want, 1e-9)
		}
	}

	// A zero sequence still moves the state through the bias.
	y, _ := l.Forward(Inference(), make([]float64, 10))
	test.That(t, y, test.ShouldHaveLength, 4)
}

func TestSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	conv, err := NewConv2D("conv", Shape3D{Height: 4, Width: 4, Channels: 1}, 2, 3, Tanh, rng)
	test.That(t, err, test.ShouldBeNil)
	pool, err := NewMaxPool2D("pool", conv.OutputShape(), 2, 2)
	test.That(t, err, test.ShouldBeNil)
	dense, err := NewDense("dense", pool.OutputSize(), 3, Sigmoid, rng)
	test.That(t, err, test.ShouldBeNil)

	seq, err := NewSequential("encoder", conv, pool, dense)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seq.InputSize(), test.ShouldEqual, 16)
	test.That(t, seq.OutputSize(), test.ShouldEqual, 3)
	test.That(t, seq.Params(), test.ShouldHaveLength, 4)
	test.That(t, seq.Params()[0].Name, test.ShouldEqual, "encoder/conv/kernel")
	checkGradients(t, seq, Inference)

	summary := Summary(seq)
	test.That(t, summary, test.ShouldContainSubstring, "encoder/conv")
	test.That(t, summary, test.ShouldContainSubstring, "Total params: 47")

	_, err = NewSequential("broken", dense, conv)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expects 16")
}

func TestSharedLayerAccumulates(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	d, err := NewDense("shared", 2, 1, Linear, rng)
	test.That(t, err, test.ShouldBeNil)

	_, back1 := d.Forward(Inference(), []float64{1, 2})
	_, back2 := d.Forward(Inference(), []float64{3, 4})
	back1([]float64{1})
	back2([]float64{1})
	test.That(t, d.Kernel.Grad, test.ShouldResemble, []float64{4, 6})
	test.That(t, d.Bias.Grad, test.ShouldResemble, []float64{2})
}

func TestCrossentropy(t *testing.T) {
	logits := []float64{1, 2, 3}
	loss, grad, err := SparseCategoricalCrossentropy{FromLogits: true}.Compute(logits, 2)
	test.That(t, err, test.ShouldBeNil)
	sum := math.Exp(1) + math.Exp(2) + math.Exp(3)
	test.That(t, loss, test.ShouldAlmostEqual, -math.Log(math.Exp(3)/sum), 1e-12)
	test.That(t, grad[2], test.ShouldAlmostEqual, math.Exp(3)/sum-1, 1e-12)

	probs := []float64{0.2, 0.5, 0.3}
	loss, grad, err = SparseCategoricalCrossentropy{}.Compute(probs, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loss, test.ShouldAlmostEqual, -math.Log(0.5), 1e-12)
	test.That(t, grad, test.ShouldResemble, []float64{0, -2, 0})

	loss, _, err = SparseCategoricalCrossentropy{}.Compute([]float64{1, 0}, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsInf(loss, 0), test.ShouldBeFalse)

	_, _, err = SparseCategoricalCrossentropy{}.Compute(probs, 3)
	test.That(t, err, test.ShouldNotBeNil)

	sq, d := SquaredError(3, 1)
	test.That(t, sq, test.ShouldEqual, 4)
	test.That(t, d, test.ShouldEqual, 4)
}

func TestRMSProp(t *testing.T) {
	p := newParam("w", 2)
	p.Value[0], p.Value[1] = 1, -1
	p.Grad[0], p.Grad[1] = 0.5, -0.5

	opt := NewRMSProp()
	opt.Step([]*Param{p})
	// First step: ms = 0.1*g², update = lr*g/(sqrt(ms)+eps) ≈ lr/sqrt(0.1)*sign(g).
	step := DefaultLearningRate * 0.5 / (math.Sqrt(0.1*0.25) + DefaultEpsilon)
	test.That(t, p.Value[0], test.ShouldAlmostEqual, 1-step, 1e-12)
	test.That(t, p.Value[1], test.ShouldAlmostEqual, -1+step, 1e-12)

	// Minimizing (w-3)² moves w towards 3.
	q := newParam("q", 1)
	for i := 0; i < 5000; i++ {
		q.ZeroGrad()
		_, g := SquaredError(q.Value[0], 3)
		q.Grad[0] = g
		opt.Step([]*Param{q})
	}
	test.That(t, q.Value[0], test.ShouldAlmostEqual, 3, 0.05)

	sgd := &SGD{LearningRate: 0.1}
	r := newParam("r", 1)
	r.Grad[0] = 2
	sgd.Step([]*Param{r})
	test.That(t, r.Value[0], test.ShouldAlmostEqual, -0.2, 1e-12)
}

func TestArgmax(t *testing.T) {
	test.That(t, Argmax([]float64{0.1, 0.7, 0.2}), test.ShouldEqual, 1)
	test.That(t, Argmax(nil), test.ShouldEqual, -1)
}
