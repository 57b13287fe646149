package frontfollowing

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/montanaflynn/stats"
	"go.opencensus.io/trace"

	"github.com/frontfollow/frontfollow/ml/dataset"
	"github.com/frontfollow/frontfollow/ml/nn"
)

// AccuracyMetric is the only metric Fit and Evaluate report.
const AccuracyMetric = "accuracy"

// TrainingConfig binds an optimizer, a loss and metrics to a model.
type TrainingConfig struct {
	Optimizer nn.Optimizer
	Loss      nn.SparseCategoricalCrossentropy
	// CriticWeight scales the squared error of the critic output when the dataset carries
	// returns. It is ignored in single output mode.
	CriticWeight float64
	Metrics      []string
}

// DefaultTrainingConfig is RMSProp with sparse categorical cross-entropy and accuracy. The actor
// head is unnormalized so its scores are treated as logits; the softmax head already outputs
// probabilities.
func DefaultTrainingConfig(multiOutput bool) TrainingConfig {
	return TrainingConfig{
		Optimizer:    nn.NewRMSProp(),
		Loss:         nn.SparseCategoricalCrossentropy{FromLogits: multiOutput},
		CriticWeight: 1,
		Metrics:      []string{AccuracyMetric},
	}
}

// Compile binds tc to the model, replacing any earlier binding.
func (m *Model) Compile(tc TrainingConfig) error {
	if tc.Optimizer == nil {
		return newConfigurationError("training config needs an optimizer")
	}
	for _, metric := range tc.Metrics {
		if metric != AccuracyMetric {
			return newConfigurationError("unknown metric %q", metric)
		}
	}
	if tc.CriticWeight < 0 {
		return newConfigurationError("critic weight must not be negative, got %v", tc.CriticWeight)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.training = &tc
	return nil
}

// FitOptions control one call to Fit.
type FitOptions struct {
	BatchSize int
	Epochs    int
	// NoShuffle keeps the dataset order in every epoch.
	NoShuffle bool
}

// DefaultFitOptions trains for one epoch in batches of 64.
func DefaultFitOptions() FitOptions {
	return FitOptions{BatchSize: 64, Epochs: 1}
}

// EpochStats summarizes one epoch.
type EpochStats struct {
	Epoch    int
	Loss     float64
	Accuracy float64
	Duration time.Duration
}

// History is the record of a Fit call.
type History struct {
	Epochs   []EpochStats
	Warnings []NumericInstabilityWarning
}

// Evaluation is the loss and accuracy of a model over a dataset.
type Evaluation struct {
	Loss     float64
	Accuracy float64
}

func (m *Model) checkDataset(ds *dataset.Dataset) error {
	if ds == nil || ds.Len() == 0 {
		return newConfigurationError("dataset is empty")
	}
	for i, row := range ds.Inputs {
		if err := m.checkLength("window "+strconv.Itoa(i), len(row)); err != nil {
			return err
		}
	}
	if err := ds.Validate(m.cfg.InputLength(), NumClasses); err != nil {
		return &ConfigurationError{Reason: "invalid dataset", Err: err}
	}
	return nil
}

// sampleLoss scores one output against its label and, in multi output mode with returns, its
// critic target. It returns the loss and the gradients of the scores and the critic.
func (m *Model) sampleLoss(tc *TrainingConfig, out Output, ds *dataset.Dataset, i int) (float64, []float64, []float64, error) {
	loss, dScores, err := tc.Loss.Compute(out.Scores, ds.Labels[i])
	if err != nil {
		return 0, nil, nil, err
	}
	var dCritic []float64
	if m.cfg.MultiOutput && ds.Returns != nil && tc.CriticWeight > 0 {
		sq, d := nn.SquaredError(out.Critic[0], ds.Returns[i])
		loss += tc.CriticWeight * sq
		dCritic = []float64{tc.CriticWeight * d}
	}
	return loss, dScores, dCritic, nil
}

// Fit trains the model on ds with dropout active. Batch gradients are averaged over the batch
// before each optimizer step. A batch with a non-finite loss is recorded as a
// NumericInstabilityWarning and logged; training goes on. Cancelling ctx stops between batches
// and returns the history so far together with the context error.
func (m *Model) Fit(ctx context.Context, ds *dataset.Dataset, opts FitOptions) (History, error) {
	ctx, span := trace.StartSpan(ctx, "service::mlmodel::frontfollowing::Fit")
	defer span.End()

	var history History
	m.mu.Lock()
	defer m.mu.Unlock()
	tc := m.training
	if tc == nil {
		return history, newConfigurationError("model is not compiled; call Compile before Fit")
	}
	if err := m.checkDataset(ds); err != nil {
		return history, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultFitOptions().BatchSize
	}
	if opts.Epochs <= 0 {
		opts.Epochs = 1
	}

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		start := time.Now()
		shuffle := m.rng
		if opts.NoShuffle {
			shuffle = nil
		}
		losses := make([]float64, 0, ds.Len())
		correct := 0
		for b, batch := range ds.Batches(opts.BatchSize, shuffle) {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			nn.ZeroGrads(m.params)
			batchLoss := 0.0
			scale := 1 / float64(len(batch))
			for _, idx := range batch {
				out, back, err := m.forward(nn.Training(m.rng), toFloat64(ds.Inputs[idx]))
				if err != nil {
					return history, err
				}
				loss, dScores, dCritic, err := m.sampleLoss(tc, out, ds, idx)
				if err != nil {
					return history, err
				}
				for i := range dScores {
					dScores[i] *= scale
				}
				for i := range dCritic {
					dCritic[i] *= scale
				}
				back(dScores, dCritic)
				batchLoss += loss
				losses = append(losses, loss)
				if nn.Argmax(out.Scores) == ds.Labels[idx] {
					correct++
				}
			}
			if math.IsNaN(batchLoss) || math.IsInf(batchLoss, 0) {
				warning := NumericInstabilityWarning{Epoch: epoch, Batch: b, Loss: batchLoss}
				history.Warnings = append(history.Warnings, warning)
				m.logger.Warnw("numeric instability during training", "epoch", epoch, "batch", b, "loss", batchLoss)
			}
			tc.Optimizer.Step(m.params)
		}
		mean, err := stats.Mean(losses)
		if err != nil {
			return history, err
		}
		es := EpochStats{
			Epoch:    epoch,
			Loss:     mean,
			Accuracy: float64(correct) / float64(ds.Len()),
			Duration: time.Since(start),
		}
		history.Epochs = append(history.Epochs, es)
		m.logger.Infow("epoch finished",
			"epoch", epoch+1, "of", opts.Epochs, "loss", es.Loss, AccuracyMetric, es.Accuracy, "duration", es.Duration)
	}
	return history, nil
}

// Evaluate scores ds in inference mode with the compiled loss.
func (m *Model) Evaluate(ctx context.Context, ds *dataset.Dataset) (Evaluation, error) {
	ctx, span := trace.StartSpan(ctx, "service::mlmodel::frontfollowing::Evaluate")
	defer span.End()

	m.mu.RLock()
	tc := m.training
	m.mu.RUnlock()
	if tc == nil {
		return Evaluation{}, newConfigurationError("model is not compiled; call Compile before Evaluate")
	}
	if err := m.checkDataset(ds); err != nil {
		return Evaluation{}, err
	}
	outs, err := m.Predict(ctx, ds.Inputs)
	if err != nil {
		return Evaluation{}, err
	}
	losses := make([]float64, len(outs))
	correct := 0
	for i, out := range outs {
		if losses[i], _, _, err = m.sampleLoss(tc, out, ds, i); err != nil {
			return Evaluation{}, err
		}
		if nn.Argmax(out.Scores) == ds.Labels[i] {
			correct++
		}
	}
	mean, err := stats.Mean(losses)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{Loss: mean, Accuracy: float64(correct) / float64(len(outs))}, nil
}
