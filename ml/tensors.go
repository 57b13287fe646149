package ml

import (
	"sort"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Tensors are a collection of n-dimensional arrays keyed by name. They are the unit of exchange
// between a model and its callers.
type Tensors map[string]*tensor.Dense

// Names returns the sorted names of the tensors.
func (ts Tensors) Names() []string {
	names := make([]string, 0, len(ts))
	for name := range ts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFloat32Tensor wraps data in a dense tensor of the given shape. The data is not copied.
func NewFloat32Tensor(data []float32, shape ...int) (*tensor.Dense, error) {
	if len(shape) == 0 {
		return nil, errors.New("tensor shape cannot be empty")
	}
	size := 1
	for _, s := range shape {
		if s <= 0 {
			return nil, errors.Errorf("invalid tensor shape %v", shape)
		}
		size *= s
	}
	if size != len(data) {
		return nil, errors.Errorf("tensor shape %v needs %d values but got %d", shape, size, len(data))
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

// Float32Data returns the contents of t as a float32 slice, converting other numeric types.
func Float32Data(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, errors.New("tensor is nil")
	}
	if data, ok := t.Data().([]float32); ok {
		return data, nil
	}
	data, err := convertToFloat64Slice(t.Data())
	if err != nil {
		return nil, err
	}
	return convertNumberSlice[float64, float32](data), nil
}

// Rows splits a tensor whose leading dimension is the batch into one float64 slice per batch
// entry. A 1-d tensor is a batch of one.
func Rows(t *tensor.Dense) ([][]float64, error) {
	if t == nil {
		return nil, errors.New("tensor is nil")
	}
	data, err := convertToFloat64Slice(t.Data())
	if err != nil {
		return nil, err
	}
	shape := t.Shape()
	batch := 1
	if len(shape) > 1 {
		batch = shape[0]
	}
	if batch == 0 || len(data)%batch != 0 {
		return nil, errors.Errorf("cannot split tensor of shape %v into %d rows", shape, batch)
	}
	width := len(data) / batch
	rows := make([][]float64, 0, batch)
	for i := 0; i < batch; i++ {
		rows = append(rows, data[i*width:(i+1)*width])
	}
	return rows, nil
}
