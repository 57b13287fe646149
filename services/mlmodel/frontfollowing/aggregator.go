package frontfollowing

import (
	"math/rand"

	"github.com/frontfollow/frontfollow/ml/nn"
)

// Aggregator reads the assembled features as a (W, F) sequence and reduces it to the final
// hidden state of an LSTM. No state is kept between windows.
type Aggregator struct {
	timesteps int
	lstm      *nn.LSTM
}

// NewAggregator returns an aggregator over timesteps steps of featureWidth features.
func NewAggregator(timesteps, featureWidth int, rng *rand.Rand) (*Aggregator, error) {
	lstm, err := nn.NewLSTM("lstm", timesteps, featureWidth, lstmUnits, rng)
	if err != nil {
		return nil, &ConfigurationError{Reason: "building aggregator", Err: err}
	}
	return &Aggregator{timesteps: timesteps, lstm: lstm}, nil
}

// OutputSize is the embedding width.
func (a *Aggregator) OutputSize() int {
	return a.lstm.OutputSize()
}

// Params returns the LSTM parameters.
func (a *Aggregator) Params() []*nn.Param {
	return a.lstm.Params()
}

// Forward reduces one feature vector. Its length must split into exactly W timesteps of the
// configured feature width.
func (a *Aggregator) Forward(p *nn.Pass, features []float64) ([]float64, nn.Backward, error) {
	if len(features)%a.timesteps != 0 || len(features) != a.lstm.InputSize() {
		return nil, nil, &ShapeMismatchError{What: "window features", Expected: a.lstm.InputSize(), Actual: len(features)}
	}
	h, back := a.lstm.Forward(p, features)
	return h, back, nil
}
