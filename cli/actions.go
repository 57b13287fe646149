package cli

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	pb "go.viam.com/api/service/mlmodel/v1"
	goutils "go.viam.com/utils"
	"google.golang.org/grpc"

	"github.com/frontfollow/frontfollow/internal/trainer"
	"github.com/frontfollow/frontfollow/logging"
	"github.com/frontfollow/frontfollow/ml"
	"github.com/frontfollow/frontfollow/ml/checkpoint"
	"github.com/frontfollow/frontfollow/ml/dataset"
	"github.com/frontfollow/frontfollow/services/mlmodel"
	"github.com/frontfollow/frontfollow/services/mlmodel/frontfollowing"
	"github.com/frontfollow/frontfollow/utils"
)

// SummaryAction is the corresponding action for 'summary'.
func SummaryAction(c *cli.Context) error {
	logger, closeLog := newLogger(c)
	defer closeLog()
	m, err := newModel(c, logger)
	if err != nil {
		return err
	}
	cfg := m.WindowConfig()
	printf(c.App.Writer, "Architecture: %s", cfg.Key())
	printf(c.App.Writer, "Input length: %d (%d timesteps of %d values)", cfg.InputLength(), cfg.WindowWidth, cfg.TimestepWidth())
	printf(c.App.Writer, "Feature length: %d", m.FeatureLength())
	printf(c.App.Writer, "%s", m.Summary())
	return nil
}

func loadDataset(c *cli.Context, dataFlag, labelFlag string) (*dataset.Dataset, error) {
	dataPath, err := expandPath(c, dataFlag)
	if err != nil {
		return nil, err
	}
	labelPath, err := expandPath(c, labelFlag)
	if err != nil {
		return nil, err
	}
	return dataset.LoadText(c.Context, dataPath, labelPath)
}

// EvaluateAction is the corresponding action for 'evaluate'.
func EvaluateAction(c *cli.Context) error {
	logger, closeLog := newLogger(c)
	defer closeLog()
	m, err := newModel(c, logger)
	if err != nil {
		return err
	}
	ds, err := loadDataset(c, flagData, flagLabels)
	if err != nil {
		return err
	}
	if err := m.Compile(frontfollowing.DefaultTrainingConfig(m.WindowConfig().MultiOutput)); err != nil {
		return err
	}
	evaluation, err := m.Evaluate(c.Context, ds)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "Windows: %d", ds.Len())
	printf(c.App.Writer, "Loss: %.4f", evaluation.Loss)
	printf(c.App.Writer, "Accuracy: %.4f", evaluation.Accuracy)
	return nil
}

// TrainAction is the corresponding action for 'train'.
func TrainAction(c *cli.Context) error {
	logger, closeLog := newLogger(c)
	defer closeLog()
	m, err := newModel(c, logger)
	if err != nil {
		return err
	}
	train, err := loadDataset(c, flagData, flagLabels)
	if err != nil {
		return err
	}
	if c.IsSet(flagReturns) {
		path, err := expandPath(c, flagReturns)
		if err != nil {
			return err
		}
		if err := train.LoadReturns(c.Context, path); err != nil {
			return err
		}
	}
	var eval *dataset.Dataset
	if c.IsSet(flagEvalData) != c.IsSet(flagEvalLabels) {
		return errors.Errorf("--%s and --%s must be given together", flagEvalData, flagEvalLabels)
	}
	if c.IsSet(flagEvalData) {
		if eval, err = loadDataset(c, flagEvalData, flagEvalLabels); err != nil {
			return err
		}
	}

	dir, err := expandPath(c, flagCheckpointDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "creating checkpoint directory %q", dir)
	}
	registryPath, err := expandPath(c, flagRegistry)
	if err != nil {
		return err
	}
	if registryPath == "" {
		registryPath = filepath.Join(dir, "checkpoints.db")
	}
	registry, err := checkpoint.Open(c.Context, registryPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warnw("closing checkpoint registry", "error", err)
		}
	}()

	cfg := trainer.DefaultConfig(dir)
	cfg.Threshold = c.Float64(flagThreshold)
	cfg.MaxRounds = c.Int(flagMaxRounds)
	cfg.Fit = frontfollowing.FitOptions{BatchSize: c.Int(flagBatchSize), Epochs: c.Int(flagEpochs)}
	cfg.StopOnInstability = c.Bool(flagStopUnstable)
	tr, err := trainer.New(m, registry, cfg, logger)
	if err != nil {
		return err
	}
	result, err := tr.Run(c.Context, train, eval)
	for _, round := range result.Rounds {
		if round.RolledBack {
			warningf(c.App.Writer, "Round %d: accuracy before %.4f, parameters became non-finite and were rolled back",
				round.Number, round.Before.Accuracy)
			continue
		}
		printf(c.App.Writer, "Round %d: accuracy before %.4f, checkpoint %s", round.Number, round.Before.Accuracy, round.Checkpoint.Path)
	}
	if err != nil {
		return err
	}
	if c.IsSet(flagPlot) && len(result.Rounds) > 0 {
		plotPath, err := expandPath(c, flagPlot)
		if err != nil {
			return err
		}
		if err := trainer.PlotHistory(result, plotPath); err != nil {
			return err
		}
		infof(c.App.ErrWriter, "Wrote training plot to %s", plotPath)
	}
	if result.Reached {
		infof(c.App.Writer, "Reached accuracy %.4f (loss %.4f)", result.Final.Accuracy, result.Final.Loss)
	} else {
		warningf(c.App.Writer, "Stopped after %d rounds at accuracy %.4f, below %.4f",
			len(result.Rounds), result.Final.Accuracy, cfg.Threshold)
	}
	return nil
}

// PredictAction is the corresponding action for 'predict'.
func PredictAction(c *cli.Context) error {
	logger, closeLog := newLogger(c)
	defer closeLog()
	m, err := newModel(c, logger)
	if err != nil {
		return err
	}
	path, err := expandPath(c, flagData)
	if err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening window data")
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	rows, err := dataset.ReadMatrix(c.Context, f)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.Errorf("%q holds no windows", path)
	}

	input, err := ml.NewFloat32Tensor(lo.Flatten(rows), len(rows), len(rows[0]), 1)
	if err != nil {
		return err
	}
	out, err := m.Infer(c.Context, ml.Tensors{frontfollowing.InputTensorName: input})
	if err != nil {
		return err
	}
	scoreName := frontfollowing.ProbabilityTensorName
	if m.WindowConfig().MultiOutput {
		scoreName = frontfollowing.ActorTensorName
	}
	classifications, err := ml.FormatClassificationOutputs(out, scoreName, m.Labels())
	if err != nil {
		return err
	}
	var critic [][]float64
	if m.WindowConfig().MultiOutput {
		if critic, err = ml.Rows(out[frontfollowing.CriticTensorName]); err != nil {
			return err
		}
	}

	top := c.Int(flagTop)
	for i, cs := range classifications {
		if top > 0 && top < len(cs) {
			cs = cs[:top]
		}
		fields := lo.Map(cs, func(class ml.Classification, _ int) string {
			return class.Label + "=" + formatScore(class.Score)
		})
		if critic != nil {
			fields = append(fields, "critic="+formatScore(critic[i][0]))
		}
		printf(c.App.Writer, "%d: %s", i, strings.Join(fields, " "))
	}
	return nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 4, 64)
}

// ServeAction is the corresponding action for 'serve'.
func ServeAction(c *cli.Context) error {
	logger, closeLog := newLogger(c)
	defer closeLog()
	m, err := newModel(c, logger)
	if err != nil {
		return err
	}

	if c.Bool(flagWatch) {
		path, err := expandPath(c, flagCheckpoint)
		if err != nil {
			return err
		}
		if path == "" {
			return errors.Errorf("--%s needs --%s", flagWatch, flagCheckpoint)
		}
		watcher, err := m.WatchCheckpoint(c.Context, path)
		if err != nil {
			return err
		}
		defer watcher.Stop()
	}

	lis, err := net.Listen("tcp", c.String(flagAddress))
	if err != nil {
		return errors.Wrapf(err, "listening on %q", c.String(flagAddress))
	}
	srv := grpc.NewServer(grpc.UnaryInterceptor(logging.UnaryServerInterceptor))
	pb.RegisterMLModelServiceServer(srv, mlmodel.NewServerFromMap(map[string]mlmodel.Service{c.String(flagName): m}))

	logger.Infow("serving", "address", lis.Addr().String(), "name", c.String(flagName), "architecture", m.WindowConfig().Key())
	_, err = utils.RunInParallel(c.Context, []utils.SimpleFunc{
		func(_ context.Context) error {
			return srv.Serve(lis)
		},
		func(ctx context.Context) error {
			<-ctx.Done()
			srv.GracefulStop()
			return nil
		},
	})
	return err
}

// CheckpointsAction is the corresponding action for 'checkpoints'.
func CheckpointsAction(c *cli.Context) error {
	path, err := expandPath(c, flagRegistry)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, "opening checkpoint registry")
	}
	registry, err := checkpoint.Open(c.Context, path)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(registry.Close)
	records, err := registry.List(c.Context, c.String(flagKey))
	if err != nil {
		return err
	}
	if c.Bool(flagJSON) {
		b, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		printf(c.App.Writer, "%s", b)
		return nil
	}
	if len(records) == 0 {
		infof(c.App.ErrWriter, "no checkpoints recorded")
		return nil
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Created", "Architecture", "Loss", "Accuracy", "Path"})
	for _, rec := range records {
		t.AppendRow(table.Row{
			rec.CreatedAt.Format(time.RFC3339),
			rec.ArchitectureKey,
			formatScore(rec.Loss),
			formatScore(rec.Accuracy),
			rec.Path,
		})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// ConfigSchemaAction is the corresponding action for 'config-schema'.
func ConfigSchemaAction(c *cli.Context) error {
	b, err := json.MarshalIndent(frontfollowing.ConfigSchema(), "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", b)
	return nil
}
