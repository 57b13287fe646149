// Package ml provides the tensor exchange type and the post-processing shared by the
// front-following model and its clients.
package ml

import (
	"math"
	"sort"
	"strconv"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Classification is one scored label of a classifier output.
type Classification struct {
	Index int
	Label string
	Score float64
}

// Classifications are the scored labels of one window, highest score first.
type Classifications []Classification

// Top returns the highest scoring classification.
func (cs Classifications) Top() (Classification, bool) {
	if len(cs) == 0 {
		return Classification{}, false
	}
	return cs[0], true
}

// FormatClassificationOutputs turns the named output tensor into one sorted list of
// classifications per batch entry. Logits are turned into confidences first. When labels is
// nil the class index is used as the label.
func FormatClassificationOutputs(outMap Tensors, name string, labels []string) ([]Classifications, error) {
	data, ok := outMap[name]
	if !ok {
		if len(outMap) != 1 {
			return nil, errors.Errorf("no tensor named %q among output tensors %v", name, outMap.Names())
		}
		// only 1 element in map, assume its probabilities
		for _, t := range outMap {
			data = t
		}
	}
	rows, err := Rows(data)
	if err != nil {
		return nil, err
	}
	out := make([]Classifications, 0, len(rows))
	for _, row := range rows {
		confs := checkClassificationScores(row)
		if labels != nil && len(labels) != len(confs) {
			return nil, errors.Errorf("length of output (%d) expected to be length of label list (%d)", len(confs), len(labels))
		}
		classifications := make(Classifications, 0, len(confs))
		for i, score := range confs {
			label := strconv.Itoa(i)
			if labels != nil {
				label = labels[i]
			}
			classifications = append(classifications, Classification{Index: i, Label: label, Score: score})
		}
		sort.SliceStable(classifications, func(i, j int) bool {
			return classifications[i].Score > classifications[j].Score
		})
		out = append(out, classifications)
	}
	return out, nil
}

// number interface for converting between numbers.
type number interface {
	constraints.Integer | constraints.Float
}

// convertNumberSlice converts any number slice into another number slice.
func convertNumberSlice[T1, T2 number](t1 []T1) []T2 {
	t2 := make([]T2, len(t1))
	for i := range t1 {
		t2[i] = T2(t1[i])
	}
	return t2
}

func convertToFloat64Slice(slice interface{}) ([]float64, error) {
	switch v := slice.(type) {
	case []float64:
		return v, nil
	case float64:
		return []float64{v}, nil
	case []float32:
		return convertNumberSlice[float32, float64](v), nil
	case float32:
		return []float64{float64(v)}, nil
	case []int:
		return convertNumberSlice[int, float64](v), nil
	case []int32:
		return convertNumberSlice[int32, float64](v), nil
	case []int64:
		return convertNumberSlice[int64, float64](v), nil
	case []uint8:
		return convertNumberSlice[uint8, float64](v), nil
	case []uint32:
		return convertNumberSlice[uint32, float64](v), nil
	default:
		return nil, errors.Errorf("dont know how to convert slice of %T into a []float64", slice)
	}
}

// Softmax maps the input slice onto the probability simplex. The maximum is subtracted first so
// large logits do not overflow.
func Softmax(in []float64) []float64 {
	out := make([]float64, len(in))
	if len(in) == 0 {
		return out
	}
	maxVal := in[0]
	for _, x := range in[1:] {
		maxVal = math.Max(maxVal, x)
	}
	bigSum := 0.0
	for i, x := range in {
		out[i] = math.Exp(x - maxVal)
		bigSum += out[i]
	}
	for i := range out {
		out[i] /= bigSum
	}
	return out
}

// checkClassificationScores ensures that the input scores (output of classifier)
// will represent confidence values (from 0-1).
func checkClassificationScores(in []float64) []float64 {
	if len(in) > 1 {
		for _, p := range in {
			if p < 0 || p > 1 { // is logit, needs softmax
				return Softmax(in)
			}
		}
		return in // no need to softmax
	}
	// otherwise, this is a binary classifier
	if in[0] < -1 || in[0] > 1 { // needs sigmoid
		out, err := stats.Sigmoid(in)
		if err != nil {
			return in
		}
		return out
	}
	return in
}
