package nn

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Shape3D is the (height, width, channels) layout of an image-like activation. Values are stored
// row-major with channels innermost, so element (r, c, ch) is at (r*Width+c)*Channels+ch.
type Shape3D struct {
	Height, Width, Channels int
}

// Size is the number of scalars in the activation.
func (s Shape3D) Size() int {
	return s.Height * s.Width * s.Channels
}

func (s Shape3D) index(r, c, ch int) int {
	return (r*s.Width+c)*s.Channels + ch
}

func (s Shape3D) valid() bool {
	return s.Height > 0 && s.Width > 0 && s.Channels > 0
}

// Conv2D is a stride 1 convolution with "same" zero padding. For a kernel of size k the input is
// padded by (k-1)/2 before and the remainder after, so the output keeps the input's height and
// width.
type Conv2D struct {
	name       string
	input      Shape3D
	filters    int
	size       int
	activation Activation

	// Kernel is laid out (size, size, input channels, filters).
	Kernel *Param
	Bias   *Param
}

// NewConv2D returns a convolution with a glorot uniform kernel and a zero bias.
func NewConv2D(name string, input Shape3D, filters, size int, activation Activation, rng *rand.Rand) (*Conv2D, error) {
	if !input.valid() || filters <= 0 || size <= 0 {
		return nil, errors.Errorf("conv layer %q has invalid geometry input=%+v filters=%d size=%d", name, input, filters, size)
	}
	if err := activation.Validate(); err != nil {
		return nil, errors.Wrapf(err, "conv layer %q", name)
	}
	c := &Conv2D{
		name:       name,
		input:      input,
		filters:    filters,
		size:       size,
		activation: activation,
		Kernel:     newParam(name+"/kernel", size, size, input.Channels, filters),
		Bias:       newParam(name+"/bias", filters),
	}
	receptive := size * size
	glorotUniform(rng, c.Kernel.Value, receptive*input.Channels, receptive*filters)
	return c, nil
}

// Name returns the layer name.
func (c *Conv2D) Name() string { return c.name }

// InputSize is the flattened input size.
func (c *Conv2D) InputSize() int { return c.input.Size() }

// OutputSize is the flattened output size.
func (c *Conv2D) OutputSize() int { return c.OutputShape().Size() }

// OutputShape keeps the input's height and width with one channel per filter.
func (c *Conv2D) OutputShape() Shape3D {
	return Shape3D{Height: c.input.Height, Width: c.input.Width, Channels: c.filters}
}

// Params returns the kernel and the bias.
func (c *Conv2D) Params() []*Param { return []*Param{c.Kernel, c.Bias} }

// kernelRow returns the filter weights connecting input channel ch at kernel offset (i, j) to
// every output filter.
func (c *Conv2D) kernelRow(values []float64, i, j, ch int) []float64 {
	start := ((i*c.size+j)*c.input.Channels + ch) * c.filters
	return values[start : start+c.filters]
}

// taps calls fn for every in-bounds input position feeding output position (r, col).
func (c *Conv2D) taps(r, col int, fn func(i, j, rr, cc int)) {
	pad := (c.size - 1) / 2
	for i := 0; i < c.size; i++ {
		rr := r + i - pad
		if rr < 0 || rr >= c.input.Height {
			continue
		}
		for j := 0; j < c.size; j++ {
			cc := col + j - pad
			if cc < 0 || cc >= c.input.Width {
				continue
			}
			fn(i, j, rr, cc)
		}
	}
}

// Forward convolves one image.
func (c *Conv2D) Forward(_ *Pass, x []float64) ([]float64, Backward) {
	checkSize(c.name, c.input.Size(), x)
	out := c.OutputShape()
	y := make([]float64, out.Size())
	for r := 0; r < out.Height; r++ {
		for col := 0; col < out.Width; col++ {
			o := y[out.index(r, col, 0) : out.index(r, col, 0)+c.filters]
			copy(o, c.Bias.Value)
			c.taps(r, col, func(i, j, rr, cc int) {
				for ch := 0; ch < c.input.Channels; ch++ {
					if xv := x[c.input.index(rr, cc, ch)]; xv != 0 {
						floats.AddScaled(o, xv, c.kernelRow(c.Kernel.Value, i, j, ch))
					}
				}
			})
		}
	}
	c.activation.apply(y)

	return y, func(dy []float64) []float64 {
		dz := c.activation.gradient(y, dy)
		dx := make([]float64, len(x))
		for r := 0; r < out.Height; r++ {
			for col := 0; col < out.Width; col++ {
				g := dz[out.index(r, col, 0) : out.index(r, col, 0)+c.filters]
				floats.Add(c.Bias.Grad, g)
				c.taps(r, col, func(i, j, rr, cc int) {
					for ch := 0; ch < c.input.Channels; ch++ {
						idx := c.input.index(rr, cc, ch)
						floats.AddScaled(c.kernelRow(c.Kernel.Grad, i, j, ch), x[idx], g)
						dx[idx] += floats.Dot(c.kernelRow(c.Kernel.Value, i, j, ch), g)
					}
				})
			}
		}
		return dx
	}
}
