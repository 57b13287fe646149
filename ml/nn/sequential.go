package nn

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
)

// Sequential chains layers so that each one consumes the previous one's output.
type Sequential struct {
	name   string
	layers []Layer
}

// NewSequential checks that adjacent layer sizes agree and returns the chain. Parameter names
// are prefixed with the chain name so that they stay unique across chains.
func NewSequential(name string, layers ...Layer) (*Sequential, error) {
	if len(layers) == 0 {
		return nil, errors.Errorf("sequential %q has no layers", name)
	}
	for i := 1; i < len(layers); i++ {
		prev, next := layers[i-1], layers[i]
		if prev.OutputSize() != next.InputSize() {
			return nil, errors.Errorf("sequential %q: layer %q outputs %d values but layer %q expects %d",
				name, prev.Name(), prev.OutputSize(), next.Name(), next.InputSize())
		}
	}
	s := &Sequential{name: name, layers: layers}
	for _, p := range s.Params() {
		p.Name = name + "/" + p.Name
	}
	return s, nil
}

// Name returns the chain name.
func (s *Sequential) Name() string { return s.name }

// InputSize is the first layer's input size.
func (s *Sequential) InputSize() int { return s.layers[0].InputSize() }

// OutputSize is the last layer's output size.
func (s *Sequential) OutputSize() int { return s.layers[len(s.layers)-1].OutputSize() }

// Layers returns the chained layers in order.
func (s *Sequential) Layers() []Layer { return s.layers }

// Params returns every layer's parameters in order.
func (s *Sequential) Params() []*Param {
	var params []*Param
	for _, l := range s.layers {
		params = append(params, l.Params()...)
	}
	return params
}

// Forward runs each layer in turn.
func (s *Sequential) Forward(p *Pass, x []float64) ([]float64, Backward) {
	backs := make([]Backward, len(s.layers))
	for i, l := range s.layers {
		x, backs[i] = l.Forward(p, x)
	}
	return x, func(dy []float64) []float64 {
		for i := len(backs) - 1; i >= 0; i-- {
			dy = backs[i](dy)
		}
		return dy
	}
}

// Summary renders a table with one row per layer holding its output size and parameter count,
// followed by the total parameter count.
func Summary(layers ...Layer) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Layer", "Output", "Params"})
	total := 0
	var walk func(prefix string, l Layer)
	walk = func(prefix string, l Layer) {
		if seq, ok := l.(*Sequential); ok {
			for _, inner := range seq.layers {
				walk(prefix+seq.name+"/", inner)
			}
			return
		}
		n := CountParams(l.Params())
		total += n
		t.AppendRow(table.Row{prefix + l.Name(), l.OutputSize(), n})
	}
	for _, l := range layers {
		walk("", l)
	}
	return fmt.Sprintf("%s\nTotal params: %d\n", t.Render(), total)
}
