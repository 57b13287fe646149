// Package trainer drives repeated rounds of training until a model reaches a target accuracy.
// Every round is saved as a checkpoint and recorded in the checkpoint registry.
package trainer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/frontfollow/frontfollow/logging"
	"github.com/frontfollow/frontfollow/ml/checkpoint"
	"github.com/frontfollow/frontfollow/ml/dataset"
	"github.com/frontfollow/frontfollow/services/mlmodel/frontfollowing"
)

// Defaults of the training loop.
const (
	DefaultThreshold = 0.91
	DefaultMaxRounds = 10
	DefaultEpochs    = 100
)

// Config controls a training run.
type Config struct {
	// Threshold is the evaluation accuracy at which training stops.
	Threshold float64
	MaxRounds int
	Fit       frontfollowing.FitOptions
	// CheckpointDir receives one checkpoint file per round.
	CheckpointDir string
	// StopOnInstability ends the run with an error on the first non-finite batch loss instead
	// of logging it and carrying on.
	StopOnInstability bool
	// Training defaults to frontfollowing.DefaultTrainingConfig.
	Training *frontfollowing.TrainingConfig
}

// DefaultConfig trains in rounds of 100 epochs with batches of 64 until 91% accuracy.
func DefaultConfig(checkpointDir string) Config {
	return Config{
		Threshold:     DefaultThreshold,
		MaxRounds:     DefaultMaxRounds,
		Fit:           frontfollowing.FitOptions{BatchSize: frontfollowing.DefaultFitOptions().BatchSize, Epochs: DefaultEpochs},
		CheckpointDir: checkpointDir,
	}
}

// Validate checks the loop settings.
func (cfg Config) Validate() error {
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return errors.Errorf("threshold must be in [0, 1], got %v", cfg.Threshold)
	}
	if cfg.MaxRounds <= 0 {
		return errors.Errorf("max rounds must be positive, got %d", cfg.MaxRounds)
	}
	if cfg.CheckpointDir == "" {
		return errors.New("checkpoint directory is required")
	}
	return nil
}

// Round is the record of one fit and save.
type Round struct {
	Number     int
	Before     frontfollowing.Evaluation
	History    frontfollowing.History
	Checkpoint checkpoint.Record
	// RolledBack is set when the round left non-finite parameters behind and they were replaced
	// by the ones from before the round. No checkpoint is saved for such a round.
	RolledBack bool
}

// Result is the outcome of Run.
type Result struct {
	Rounds []Round
	Final  frontfollowing.Evaluation
	// Reached reports whether Final met the threshold.
	Reached bool
}

// Trainer runs the loop for one model.
type Trainer struct {
	model    *frontfollowing.Model
	registry *checkpoint.Registry
	cfg      Config
	logger   logging.Logger
}

// New compiles model with the configured training binding. registry may be nil, in which case
// checkpoints are saved but not recorded.
func New(model *frontfollowing.Model, registry *checkpoint.Registry, cfg Config, logger logging.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tc := frontfollowing.DefaultTrainingConfig(model.WindowConfig().MultiOutput)
	if cfg.Training != nil {
		tc = *cfg.Training
	}
	if err := model.Compile(tc); err != nil {
		return nil, err
	}
	return &Trainer{model: model, registry: registry, cfg: cfg, logger: logger}, nil
}

// Run alternates evaluation and training: evaluate on eval (train when eval is nil), stop once
// the accuracy reaches the threshold or MaxRounds rounds have run, otherwise fit on train and
// save the round's checkpoint.
func (tr *Trainer) Run(ctx context.Context, train, eval *dataset.Dataset) (Result, error) {
	ctx, span := trace.StartSpan(ctx, "trainer::Run")
	defer span.End()

	if eval == nil {
		eval = train
	}
	key := tr.model.WindowConfig().Key()
	var result Result
	for n := 1; ; n++ {
		evaluation, err := tr.model.Evaluate(ctx, eval)
		if err != nil {
			return result, err
		}
		result.Final = evaluation
		tr.logger.Infow("evaluated", "round", n, "loss", evaluation.Loss, "accuracy", evaluation.Accuracy)
		if evaluation.Accuracy >= tr.cfg.Threshold {
			result.Reached = true
			tr.logger.Infow("accuracy threshold reached", "threshold", tr.cfg.Threshold)
			return result, nil
		}
		if n > tr.cfg.MaxRounds {
			tr.logger.Warnw("stopping without reaching the accuracy threshold",
				"rounds", tr.cfg.MaxRounds, "threshold", tr.cfg.Threshold)
			return result, nil
		}

		round := Round{Number: n, Before: evaluation}
		before := tr.model.Snapshot()
		round.History, err = tr.model.Fit(ctx, train, tr.cfg.Fit)
		if err != nil {
			return result, err
		}
		if len(round.History.Warnings) > 0 {
			if tr.cfg.StopOnInstability {
				return result, errors.Wrapf(round.History.Warnings[0], "stopping round %d", n)
			}
			tr.logger.Warnw("round had non-finite losses", "round", n, "batches", len(round.History.Warnings))
		}
		if !tr.model.ParamsFinite() {
			if err := tr.model.Restore(before); err != nil {
				return result, errors.Wrapf(err, "rolling back round %d", n)
			}
			tr.logger.Warnw("rolled back non-finite parameters; no checkpoint saved", "round", n)
			round.RolledBack = true
			result.Rounds = append(result.Rounds, round)
			continue
		}

		path := filepath.Join(tr.cfg.CheckpointDir, fmt.Sprintf("%s-round%03d.json", key, n))
		saved, err := tr.model.SaveCheckpoint(ctx, path)
		if err != nil {
			return result, err
		}
		round.Checkpoint = checkpoint.Record{
			ID:              saved.ID,
			ArchitectureKey: key,
			Path:            path,
			CreatedAt:       saved.CreatedAt,
		}
		if epochs := round.History.Epochs; len(epochs) > 0 {
			round.Checkpoint.Loss = epochs[len(epochs)-1].Loss
			round.Checkpoint.Accuracy = epochs[len(epochs)-1].Accuracy
		}
		if tr.registry != nil {
			if round.Checkpoint, err = tr.registry.Record(ctx, round.Checkpoint); err != nil {
				return result, err
			}
		}
		result.Rounds = append(result.Rounds, round)
	}
}
