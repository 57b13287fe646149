package nn

import (
	"math"

	"github.com/pkg/errors"

	"github.com/frontfollow/frontfollow/ml"
)

// epsilon bounds probabilities away from 0 and 1 before taking logarithms.
const epsilon = 1e-7

// SparseCategoricalCrossentropy scores an output vector against an integer class label. With
// FromLogits the output is treated as unnormalized scores and passed through softmax first;
// otherwise it must already be a probability distribution.
type SparseCategoricalCrossentropy struct {
	FromLogits bool
}

// Name identifies the loss in logs and checkpoints.
func (l SparseCategoricalCrossentropy) Name() string {
	return "sparse_categorical_crossentropy"
}

// Compute returns the loss and its gradient with respect to output.
func (l SparseCategoricalCrossentropy) Compute(output []float64, label int) (float64, []float64, error) {
	if label < 0 || label >= len(output) {
		return 0, nil, errors.Errorf("label %d out of range for %d classes", label, len(output))
	}
	grad := make([]float64, len(output))
	if l.FromLogits {
		probs := ml.Softmax(output)
		copy(grad, probs)
		grad[label]--
		return -math.Log(math.Max(probs[label], epsilon)), grad, nil
	}
	p := output[label]
	switch {
	case p < epsilon:
		p = epsilon
	case p > 1-epsilon:
		p = 1 - epsilon
	default:
		grad[label] = -1 / p
	}
	return -math.Log(p), grad, nil
}

// SquaredError returns (prediction-target)² and its derivative with respect to prediction.
func SquaredError(prediction, target float64) (float64, float64) {
	diff := prediction - target
	return diff * diff, 2 * diff
}
