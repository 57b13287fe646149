package trainer

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotHistory draws the training loss and accuracy of every epoch of every round, numbered
// consecutively, and saves the plot to path. The image format follows the path extension.
// Non-finite losses are left out.
func PlotHistory(result Result, path string) error {
	var loss, accuracy plotter.XYs
	epoch := 0
	for _, round := range result.Rounds {
		for _, stats := range round.History.Epochs {
			epoch++
			if !math.IsNaN(stats.Loss) && !math.IsInf(stats.Loss, 0) {
				loss = append(loss, plotter.XY{X: float64(epoch), Y: stats.Loss})
			}
			accuracy = append(accuracy, plotter.XY{X: float64(epoch), Y: stats.Accuracy})
		}
	}
	if epoch == 0 {
		return errors.New("no training epochs to plot")
	}

	p := plot.New()
	p.Title.Text = "Training history"
	p.X.Label.Text = "Epoch"
	p.Legend.Top = true
	var lines []interface{}
	if len(loss) > 0 {
		lines = append(lines, "loss", loss)
	}
	lines = append(lines, "accuracy", accuracy)
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return errors.Wrap(err, "plotting training history")
	}
	return errors.Wrapf(p.Save(8*vg.Inch, 4*vg.Inch, path), "saving training plot %q", path)
}
