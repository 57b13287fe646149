package trainer

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/frontfollow/frontfollow/services/mlmodel/frontfollowing"
)

func TestPlotHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.png")
	test.That(t, PlotHistory(Result{}, path), test.ShouldNotBeNil)

	result := Result{Rounds: []Round{
		{Number: 1, History: frontfollowing.History{Epochs: []frontfollowing.EpochStats{
			{Epoch: 1, Loss: 1.9, Accuracy: 0.2},
			{Epoch: 2, Loss: math.NaN(), Accuracy: 0.3},
		}}},
		{Number: 2, History: frontfollowing.History{Epochs: []frontfollowing.EpochStats{
			{Epoch: 1, Loss: 1.1, Accuracy: 0.6},
		}}},
	}}
	test.That(t, PlotHistory(result, path), test.ShouldBeNil)
	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}
