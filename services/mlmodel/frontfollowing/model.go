// Package frontfollowing implements the front-following motion classifier as an ML model
// service. A window of infrared, optional skin and leg sensor frames is encoded frame by frame
// with shared encoders, aggregated over time by an LSTM and classified into one of seven motion
// classes, or scored by an actor/critic pair.
package frontfollowing

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"gorgonia.org/tensor"

	"github.com/frontfollow/frontfollow/logging"
	"github.com/frontfollow/frontfollow/ml"
	"github.com/frontfollow/frontfollow/ml/nn"
	"github.com/frontfollow/frontfollow/services/mlmodel"
	"github.com/frontfollow/frontfollow/utils"
)

// Tensor names of the service surface.
const (
	InputTensorName       = "input"
	ProbabilityTensorName = "probability"
	ActorTensorName       = "actor"
	CriticTensorName      = "critic"
)

var _ mlmodel.Service = (*Model)(nil)

// Model is a front-following classifier. Inference may run concurrently; training and
// checkpoint loading take exclusive access to the parameters.
type Model struct {
	mu         sync.RWMutex
	cfg        WindowConfig
	labels     []string
	numWorkers int
	logger     logging.Logger
	rng        *rand.Rand

	irEncoder   *nn.Sequential
	skinEncoder *nn.Sequential
	assembler   *Assembler
	aggregator  *Aggregator
	head        *Head
	params      []*nn.Param

	training *TrainingConfig
}

// NewFrontFollowingModel builds an untrained model with the standard modality widths.
func NewFrontFollowingModel(windowWidth int, includeSkin, multiOutput bool, logger logging.Logger) (*Model, error) {
	return New(context.Background(), &Config{
		WindowWidth: windowWidth,
		IncludeSkin: includeSkin,
		MultiOutput: multiOutput,
	}, logger)
}

// New builds a model from conf. When conf names a checkpoint it is loaded before returning.
func New(ctx context.Context, conf *Config, logger logging.Logger) (*Model, error) {
	ctx, span := trace.StartSpan(ctx, "service::mlmodel::frontfollowing::New")
	defer span.End()

	cfg, err := conf.WindowConfig()
	if err != nil {
		return nil, err
	}
	if conf.Labels != nil && len(conf.Labels) != NumClasses {
		return nil, newConfigurationError("expected %d labels, got %d", NumClasses, len(conf.Labels))
	}
	seed := conf.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m, err := build(cfg, rand.New(rand.NewSource(seed)), logger)
	if err != nil {
		return nil, err
	}
	m.labels = conf.Labels
	m.numWorkers = conf.NumWorkers
	logger.CDebugw(ctx, "built front-following model",
		"architecture", cfg.Key(), "input_length", cfg.InputLength(), "params", nn.CountParams(m.params))

	if conf.CheckpointPath != "" {
		if err := m.LoadCheckpoint(ctx, conf.CheckpointPath); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func build(cfg WindowConfig, rng *rand.Rand, logger logging.Logger) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	wrap := func(what string, err error) error {
		return &ConfigurationError{Reason: "building " + what, Err: err}
	}

	m := &Model{cfg: cfg, logger: logger, rng: rng}
	var err error
	if m.irEncoder, err = newInfraredEncoder(cfg, rng); err != nil {
		return nil, wrap("infrared encoder", err)
	}
	var skin nn.Layer
	if cfg.IncludeSkin {
		if m.skinEncoder, err = newSkinEncoder(cfg, rng); err != nil {
			return nil, wrap("skin encoder", err)
		}
		skin = m.skinEncoder
	}
	if m.assembler, err = NewAssembler(cfg, m.irEncoder, skin); err != nil {
		return nil, err
	}
	if m.aggregator, err = NewAggregator(cfg.WindowWidth, m.assembler.FeatureWidth(), rng); err != nil {
		return nil, err
	}
	if m.head, err = NewHead(m.aggregator.OutputSize(), cfg.MultiOutput, rng); err != nil {
		return nil, wrap("output head", err)
	}
	m.params = append(m.assembler.Params(), m.aggregator.Params()...)
	m.params = append(m.params, m.head.Params()...)
	return m, nil
}

// WindowConfig returns the model's window layout.
func (m *Model) WindowConfig() WindowConfig {
	return m.cfg
}

// Labels returns the configured class names, or nil.
func (m *Model) Labels() []string {
	return m.labels
}

// FeatureLength is the length of the assembled per-window feature vector.
func (m *Model) FeatureLength() int {
	return m.assembler.OutputLength()
}

// Summary describes every layer with its output size and parameter count.
func (m *Model) Summary() string {
	layers := []nn.Layer{m.irEncoder}
	if m.skinEncoder != nil {
		layers = append(layers, m.skinEncoder)
	}
	layers = append(layers, m.aggregator.lstm)
	layers = append(layers, m.head.Layers()...)
	return nn.Summary(layers...)
}

// forward runs one window through the graph. The returned closure backpropagates the output
// gradients into every parameter.
func (m *Model) forward(p *nn.Pass, x []float64) (Output, func(dScores, dCritic []float64), error) {
	features, assemblerBack, err := m.assembler.Forward(p, x)
	if err != nil {
		return Output{}, nil, err
	}
	h, aggregatorBack, err := m.aggregator.Forward(p, features)
	if err != nil {
		return Output{}, nil, err
	}
	out, headBack := m.head.Forward(p, h)
	return out, func(dScores, dCritic []float64) {
		assemblerBack(aggregatorBack(headBack(dScores, dCritic)))
	}, nil
}

func (m *Model) checkLength(what string, n int) error {
	if n != m.cfg.InputLength() {
		return &ShapeMismatchError{What: what, Expected: m.cfg.InputLength(), Actual: n}
	}
	return nil
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// InferWindow classifies one raw window in inference mode.
func (m *Model) InferWindow(ctx context.Context, input []float32) (Output, error) {
	outs, err := m.Predict(ctx, [][]float32{input})
	if err != nil {
		return Output{}, err
	}
	return outs[0], nil
}

// Predict classifies a batch of raw windows in inference mode. Windows are spread over a
// bounded group of workers; results keep the input order. Every length is checked before any
// work starts.
func (m *Model) Predict(ctx context.Context, inputs [][]float32) ([]Output, error) {
	for i, in := range inputs {
		if err := m.checkLength("window "+strconv.Itoa(i), len(in)); err != nil {
			return nil, err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	outs := make([]Output, len(inputs))
	errs := make([]error, len(inputs))
	err := utils.GroupWorkParallel(ctx, len(inputs), m.numWorkers, func(_, _, _, _ int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
		return func(_, workNum int) {
			outs[workNum], _, errs[workNum] = m.forward(nn.Inference(), toFloat64(inputs[workNum]))
		}, nil
	})
	if err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return outs, nil
}

// Infer implements the ML model service. The input tensor is named "input" (or is the only
// tensor) with shape (batch, length, 1), (batch, length) or (length).
func (m *Model) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	ctx, span := trace.StartSpan(ctx, "service::mlmodel::frontfollowing::Infer")
	defer span.End()

	input, ok := tensors[InputTensorName]
	if !ok {
		if len(tensors) != 1 {
			return nil, errors.Errorf("expected a tensor named %q, got %v", InputTensorName, tensors.Names())
		}
		for _, t := range tensors {
			input = t
		}
	}
	if input == nil {
		return nil, errors.Errorf("input tensor %q is nil", InputTensorName)
	}
	batch, length, err := inputShape(input.Shape())
	if err != nil {
		return nil, err
	}
	if batch <= 0 {
		return nil, errors.Errorf("input tensor shape %v has an empty batch", input.Shape())
	}
	if err := m.checkLength("input tensor", length); err != nil {
		return nil, err
	}
	data, err := ml.Float32Data(input)
	if err != nil {
		return nil, err
	}
	windows := make([][]float32, batch)
	for i := range windows {
		windows[i] = data[i*length : (i+1)*length]
	}
	outs, err := m.Predict(ctx, windows)
	if err != nil {
		return nil, err
	}
	m.logger.CDebugw(ctx, "inferred", "batch", batch)
	return m.outputTensors(outs)
}

func inputShape(shape tensor.Shape) (batch, length int, err error) {
	switch len(shape) {
	case 1:
		return 1, shape[0], nil
	case 2:
		return shape[0], shape[1], nil
	case 3:
		if shape[2] != 1 {
			return 0, 0, errors.Errorf("input tensor shape %v must end in 1", shape)
		}
		return shape[0], shape[1], nil
	default:
		return 0, 0, errors.Errorf("input tensor shape %v must have 1 to 3 dimensions", shape)
	}
}

func (m *Model) outputTensors(outs []Output) (ml.Tensors, error) {
	scores := make([]float32, 0, len(outs)*NumClasses)
	critic := make([]float32, 0, len(outs))
	for _, out := range outs {
		for _, s := range out.Scores {
			scores = append(scores, float32(s))
		}
		for _, c := range out.Critic {
			critic = append(critic, float32(c))
		}
	}
	if !m.cfg.MultiOutput {
		probs, err := ml.NewFloat32Tensor(scores, len(outs), NumClasses)
		if err != nil {
			return nil, err
		}
		return ml.Tensors{ProbabilityTensorName: probs}, nil
	}
	actor, err := ml.NewFloat32Tensor(scores, len(outs), NumClasses)
	if err != nil {
		return nil, err
	}
	value, err := ml.NewFloat32Tensor(critic, len(outs), 1)
	if err != nil {
		return nil, err
	}
	return ml.Tensors{ActorTensorName: actor, CriticTensorName: value}, nil
}

// Metadata implements the ML model service.
func (m *Model) Metadata(ctx context.Context) (mlmodel.MLMetadata, error) {
	_, span := trace.StartSpan(ctx, "service::mlmodel::frontfollowing::Metadata")
	defer span.End()

	extra := map[string]interface{}{
		"window_width": m.cfg.WindowWidth,
		"ir_width":     m.cfg.IRWidth,
		"leg_width":    m.cfg.LegWidth,
		"include_skin": m.cfg.IncludeSkin,
	}
	if m.cfg.IncludeSkin {
		extra["skin_width"] = m.cfg.SkinWidth
	}
	md := mlmodel.MLMetadata{
		ModelName:        "front_following",
		ModelType:        "sequence_classifier",
		ModelDescription: "classifies a window of infrared, skin and leg sensor frames into motion classes",
		Inputs: []mlmodel.TensorInfo{{
			Name:        InputTensorName,
			Description: "raw window: infrared block, skin block when included, leg block",
			DataType:    "float32",
			Shape:       []int{-1, m.cfg.InputLength(), 1},
			Extra:       extra,
		}},
	}
	var labelExtra map[string]interface{}
	if m.labels != nil {
		labels := make([]interface{}, len(m.labels))
		for i, l := range m.labels {
			labels[i] = l
		}
		labelExtra = map[string]interface{}{"labels": labels}
	}
	if !m.cfg.MultiOutput {
		md.Outputs = []mlmodel.TensorInfo{{
			Name:        ProbabilityTensorName,
			Description: "probability of each motion class",
			DataType:    "float32",
			Shape:       []int{-1, NumClasses},
			Extra:       labelExtra,
		}}
		return md, nil
	}
	md.Outputs = []mlmodel.TensorInfo{
		{
			Name:        ActorTensorName,
			Description: "unnormalized actor value per motion class",
			DataType:    "float32",
			Shape:       []int{-1, NumClasses},
			Extra:       labelExtra,
		},
		{
			Name:        CriticTensorName,
			Description: "state value estimate",
			DataType:    "float32",
			Shape:       []int{-1, 1},
		},
	}
	return md, nil
}
