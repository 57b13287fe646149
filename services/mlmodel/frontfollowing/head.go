package frontfollowing

import (
	"math/rand"

	"github.com/frontfollow/frontfollow/ml/nn"
)

// Output is the result for one window. In single output mode Scores is a probability
// distribution over the classes and Critic is nil. In multi output mode Scores holds the
// unnormalized actor values and Critic the single value estimate.
type Output struct {
	Scores []float64
	Critic []float64
}

// Head maps the window embedding to the class scores, and to the critic value in multi output
// mode.
type Head struct {
	trunk  *nn.Sequential
	scores *nn.Dense
	critic *nn.Dense
}

// NewHead builds the dense stack: dropout, dense 128 relu, dropout, dense 64 relu, dropout and
// then either a 7 way softmax or the actor (7, relu) and critic (1, linear) pair.
func NewHead(inputSize int, multiOutput bool, rng *rand.Rand) (*Head, error) {
	drop0, err := nn.NewDropout("dropout", inputSize, dropoutRate)
	if err != nil {
		return nil, err
	}
	dense1, err := nn.NewDense("dense", inputSize, headUnits1, nn.ReLU, rng)
	if err != nil {
		return nil, err
	}
	drop1, err := nn.NewDropout("dropout_1", headUnits1, dropoutRate)
	if err != nil {
		return nil, err
	}
	dense2, err := nn.NewDense("dense_1", headUnits1, headUnits2, nn.ReLU, rng)
	if err != nil {
		return nil, err
	}
	drop2, err := nn.NewDropout("dropout_2", headUnits2, dropoutRate)
	if err != nil {
		return nil, err
	}
	trunk, err := nn.NewSequential("head", drop0, dense1, drop1, dense2, drop2)
	if err != nil {
		return nil, err
	}

	h := &Head{trunk: trunk}
	if !multiOutput {
		if h.scores, err = nn.NewDense("probability", headUnits2, NumClasses, nn.Softmax, rng); err != nil {
			return nil, err
		}
		return h, nil
	}
	if h.scores, err = nn.NewDense("actor", headUnits2, NumClasses, nn.ReLU, rng); err != nil {
		return nil, err
	}
	if h.critic, err = nn.NewDense("critic", headUnits2, 1, nn.Linear, rng); err != nil {
		return nil, err
	}
	return h, nil
}

// Layers lists the head's layers for summaries.
func (h *Head) Layers() []nn.Layer {
	layers := []nn.Layer{h.trunk, h.scores}
	if h.critic != nil {
		layers = append(layers, h.critic)
	}
	return layers
}

// Params returns the head parameters.
func (h *Head) Params() []*nn.Param {
	params := append(h.trunk.Params(), h.scores.Params()...)
	if h.critic != nil {
		params = append(params, h.critic.Params()...)
	}
	return params
}

// Forward maps one embedding to an Output. The backward closure takes the gradients of the
// scores and, optionally, of the critic value.
func (h *Head) Forward(p *nn.Pass, x []float64) (Output, func(dScores, dCritic []float64) []float64) {
	z, trunkBack := h.trunk.Forward(p, x)
	scores, scoresBack := h.scores.Forward(p, z)
	out := Output{Scores: scores}
	var criticBack nn.Backward
	if h.critic != nil {
		out.Critic, criticBack = h.critic.Forward(p, z)
	}
	return out, func(dScores, dCritic []float64) []float64 {
		dz := scoresBack(dScores)
		if criticBack != nil && dCritic != nil {
			dzCritic := criticBack(dCritic)
			for i := range dz {
				dz[i] += dzCritic[i]
			}
		}
		return trunkBack(dz)
	}
}
