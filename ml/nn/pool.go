package nn

import (
	"math"

	"github.com/pkg/errors"
)

// MaxPool2D takes the maximum of each size×size window per channel. Windows start every stride
// elements and never extend past the input ("valid" padding).
type MaxPool2D struct {
	name   string
	input  Shape3D
	size   int
	stride int
}

// NewMaxPool2D returns a max pooling layer.
func NewMaxPool2D(name string, input Shape3D, size, stride int) (*MaxPool2D, error) {
	if !input.valid() || size <= 0 || stride <= 0 {
		return nil, errors.Errorf("pool layer %q has invalid geometry input=%+v size=%d stride=%d", name, input, size, stride)
	}
	if input.Height < size || input.Width < size {
		return nil, errors.Errorf("pool layer %q window %d does not fit input %dx%d", name, size, input.Height, input.Width)
	}
	return &MaxPool2D{name: name, input: input, size: size, stride: stride}, nil
}

// Name returns the layer name.
func (m *MaxPool2D) Name() string { return m.name }

// InputSize is the flattened input size.
func (m *MaxPool2D) InputSize() int { return m.input.Size() }

// OutputSize is the flattened output size.
func (m *MaxPool2D) OutputSize() int { return m.OutputShape().Size() }

// OutputShape is the pooled (height, width, channels).
func (m *MaxPool2D) OutputShape() Shape3D {
	return Shape3D{
		Height:   (m.input.Height-m.size)/m.stride + 1,
		Width:    (m.input.Width-m.size)/m.stride + 1,
		Channels: m.input.Channels,
	}
}

// Params is empty; pooling has nothing to train.
func (m *MaxPool2D) Params() []*Param { return nil }

// Forward pools one image. The backward pass routes each output gradient to the input element
// that won its window.
func (m *MaxPool2D) Forward(_ *Pass, x []float64) ([]float64, Backward) {
	checkSize(m.name, m.input.Size(), x)
	out := m.OutputShape()
	y := make([]float64, out.Size())
	winners := make([]int, out.Size())
	for r := 0; r < out.Height; r++ {
		for c := 0; c < out.Width; c++ {
			for ch := 0; ch < out.Channels; ch++ {
				best, arg := math.Inf(-1), -1
				for i := 0; i < m.size; i++ {
					for j := 0; j < m.size; j++ {
						idx := m.input.index(r*m.stride+i, c*m.stride+j, ch)
						if x[idx] > best || arg < 0 {
							best, arg = x[idx], idx
						}
					}
				}
				o := out.index(r, c, ch)
				y[o], winners[o] = best, arg
			}
		}
	}
	return y, func(dy []float64) []float64 {
		dx := make([]float64, len(x))
		for o, idx := range winners {
			dx[idx] += dy[o]
		}
		return dx
	}
}
