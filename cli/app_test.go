package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/frontfollow/frontfollow/ml/checkpoint"
	"github.com/frontfollow/frontfollow/services/mlmodel/frontfollowing"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)
	err := app.RunContext(context.Background(), append([]string{"frontfollow"}, args...))
	return out.String(), err
}

// writeWindows writes n random single timestep windows without skin and their labels.
func writeWindows(t *testing.T, dir string, n int) (string, string) {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	length := frontfollowing.IRWidth + frontfollowing.LegWidth
	var data, labels strings.Builder
	for i := 0; i < n; i++ {
		for j := 0; j < length; j++ {
			if j > 0 {
				data.WriteByte(' ')
			}
			data.WriteString(strconv.FormatFloat(rng.NormFloat64(), 'e', 6, 64))
		}
		data.WriteByte('\n')
		labels.WriteString(strconv.Itoa(i%frontfollowing.NumClasses) + "\n")
	}
	dataPath := filepath.Join(dir, "x.txt")
	labelPath := filepath.Join(dir, "y.txt")
	test.That(t, os.WriteFile(dataPath, []byte(data.String()), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(labelPath, []byte(labels.String()), 0o600), test.ShouldBeNil)
	return dataPath, labelPath
}

func TestSummary(t *testing.T) {
	out, err := runApp(t, "summary", "--window-width", "2", "--skin")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Architecture: w2-skin1-multi0")
	test.That(t, out, test.ShouldContainSubstring, "Input length: 1608")
	test.That(t, out, test.ShouldContainSubstring, "Total params:")

	_, err = runApp(t, "summary", "--window-width", "0")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	test.That(t, os.WriteFile(path, []byte(`{"window_width": 3, "multi_output": true, "seed": 5}`), 0o600), test.ShouldBeNil)

	out, err := runApp(t, "--config", path, "summary")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Architecture: w3-skin0-multi1")

	// flags that are set win over the file
	out, err = runApp(t, "--config", path, "summary", "--window-width", "1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Architecture: w1-skin0-multi1")

	_, err = runApp(t, "--config", filepath.Join(t.TempDir(), "missing.json"), "summary")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTrainEvaluatePredict(t *testing.T) {
	dir := t.TempDir()
	data, labels := writeWindows(t, dir, 4)
	ckptDir := filepath.Join(dir, "ckpt")
	logFile := filepath.Join(dir, "train.log")

	out, err := runApp(t, "--log-file", logFile, "train",
		"--window-width", "1", "--seed", "3",
		"--data", data, "--labels", labels,
		"--checkpoint-dir", ckptDir,
		"--threshold", "1", "--max-rounds", "1", "--epochs", "1", "--batch-size", "2",
		"--plot", filepath.Join(dir, "history.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Round 1:")
	_, err = os.Stat(filepath.Join(dir, "history.png"))
	test.That(t, err, test.ShouldBeNil)
	logged, err := os.ReadFile(logFile)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(logged), test.ShouldContainSubstring, "epoch finished")

	registryPath := filepath.Join(ckptDir, "checkpoints.db")
	out, err = runApp(t, "checkpoints", "--registry", registryPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "w1-skin0-multi0-ir768-skinw32-leg4")

	out, err = runApp(t, "checkpoints", "--registry", registryPath, "--json")
	test.That(t, err, test.ShouldBeNil)
	var records []checkpoint.Record
	test.That(t, json.Unmarshal([]byte(out), &records), test.ShouldBeNil)
	test.That(t, records, test.ShouldHaveLength, 1)
	test.That(t, records[0].ArchitectureKey, test.ShouldEqual, "w1-skin0-multi0-ir768-skinw32-leg4")

	out, err = runApp(t, "evaluate", "--window-width", "1", "--checkpoint", records[0].Path, "--data", data, "--labels", labels)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Windows: 4")
	test.That(t, out, test.ShouldContainSubstring, "Accuracy:")

	out, err = runApp(t, "predict", "--window-width", "1", "--checkpoint", records[0].Path, "--data", data, "--top", "2")
	test.That(t, err, test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	test.That(t, lines, test.ShouldHaveLength, 4)
	test.That(t, strings.Count(lines[0], "="), test.ShouldEqual, 2)

	// a checkpoint does not load into another architecture
	_, err = runApp(t, "predict", "--window-width", "2", "--checkpoint", records[0].Path, "--data", data)
	var confErr *frontfollowing.ConfigurationError
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.As(err, &confErr), test.ShouldBeTrue)
}

func TestPredictMultiOutput(t *testing.T) {
	dir := t.TempDir()
	data, _ := writeWindows(t, dir, 2)
	out, err := runApp(t, "predict", "--window-width", "1", "--multi-output", "--seed", "1", "--data", data)
	test.That(t, err, test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	test.That(t, lines, test.ShouldHaveLength, 2)
	test.That(t, lines[1], test.ShouldContainSubstring, "critic=")

	_, err = runApp(t, "predict", "--window-width", "2", "--seed", "1", "--data", data)
	var shapeErr *frontfollowing.ShapeMismatchError
	test.That(t, errors.As(err, &shapeErr), test.ShouldBeTrue)
}

func TestTrainNeedsPairedEvalFlags(t *testing.T) {
	dir := t.TempDir()
	data, labels := writeWindows(t, dir, 2)
	_, err := runApp(t, "train", "--window-width", "1", "--data", data, "--labels", labels,
		"--eval-data", data, "--checkpoint-dir", filepath.Join(dir, "ckpt"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "must be given together")
}

func TestServeNeedsCheckpointToWatch(t *testing.T) {
	_, err := runApp(t, "serve", "--window-width", "1", "--address", "localhost:0", "--watch")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "--watch needs --checkpoint")
}

func TestConfigSchema(t *testing.T) {
	out, err := runApp(t, "config-schema")
	test.That(t, err, test.ShouldBeNil)
	var schema map[string]interface{}
	test.That(t, json.Unmarshal([]byte(out), &schema), test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, `"window_width"`)
}
