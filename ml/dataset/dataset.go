// Package dataset loads labelled sensor windows from the flat numeric text files the recording
// tools write: one window per line of the data file, one class per line of the label file.
package dataset

import (
	"bufio"
	"context"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Dataset is a set of equally long input windows with one class label each. Returns, when set,
// holds one regression target per window for the critic output.
type Dataset struct {
	Inputs  [][]float32
	Labels  []int
	Returns []float64
}

// Len is the number of windows.
func (ds *Dataset) Len() int {
	return len(ds.Inputs)
}

// Validate checks that every window has inputLen values, that every label is in
// [0, numClasses) and that the optional returns line up with the windows.
func (ds *Dataset) Validate(inputLen, numClasses int) error {
	if len(ds.Inputs) == 0 {
		return errors.New("dataset is empty")
	}
	if len(ds.Labels) != len(ds.Inputs) {
		return errors.Errorf("dataset has %d windows but %d labels", len(ds.Inputs), len(ds.Labels))
	}
	if ds.Returns != nil && len(ds.Returns) != len(ds.Inputs) {
		return errors.Errorf("dataset has %d windows but %d returns", len(ds.Inputs), len(ds.Returns))
	}
	for i, row := range ds.Inputs {
		if len(row) != inputLen {
			return errors.Errorf("window %d has %d values, expected %d", i, len(row), inputLen)
		}
	}
	for i, label := range ds.Labels {
		if label < 0 || label >= numClasses {
			return errors.Errorf("label %d of window %d is outside [0, %d)", label, i, numClasses)
		}
	}
	return nil
}

// Batches splits the dataset into consecutive batches of at most size windows. With a non-nil
// rng the window order is shuffled first. Each batch is a list of window indices.
func (ds *Dataset) Batches(size int, rng *rand.Rand) [][]int {
	if size <= 0 {
		size = ds.Len()
	}
	order := make([]int, ds.Len())
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	var batches [][]int
	for from := 0; from < len(order); from += size {
		to := from + size
		if to > len(order) {
			to = len(order)
		}
		batches = append(batches, order[from:to])
	}
	return batches
}

// LoadText reads the data and label files concurrently.
func LoadText(ctx context.Context, dataPath, labelPath string) (*Dataset, error) {
	var inputs [][]float32
	var rawLabels [][]float32
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		inputs, err = readMatrixFile(ctx, dataPath)
		return err
	})
	g.Go(func() error {
		var err error
		rawLabels, err = readMatrixFile(ctx, labelPath)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(inputs) != len(rawLabels) {
		return nil, errors.Errorf("%q has %d rows but %q has %d", dataPath, len(inputs), labelPath, len(rawLabels))
	}
	labels := make([]int, len(rawLabels))
	for i, row := range rawLabels {
		if len(row) != 1 {
			return nil, errors.Errorf("%q line %d: expected one label, got %d values", labelPath, i+1, len(row))
		}
		v := float64(row[0])
		if v != math.Trunc(v) {
			return nil, errors.Errorf("%q line %d: label %v is not a whole number", labelPath, i+1, v)
		}
		labels[i] = int(v)
	}
	return &Dataset{Inputs: inputs, Labels: labels}, nil
}

// LoadReturns reads one critic target per line and attaches them to ds.
func (ds *Dataset) LoadReturns(ctx context.Context, path string) error {
	rows, err := readMatrixFile(ctx, path)
	if err != nil {
		return err
	}
	if len(rows) != ds.Len() {
		return errors.Errorf("%q has %d rows but the dataset has %d windows", path, len(rows), ds.Len())
	}
	ds.Returns = make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != 1 {
			return errors.Errorf("%q line %d: expected one value, got %d", path, i+1, len(row))
		}
		ds.Returns[i] = float64(row[0])
	}
	return nil
}

func readMatrixFile(ctx context.Context, path string) ([][]float32, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	defer f.Close()
	rows, err := ReadMatrix(ctx, f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", path)
	}
	return rows, nil
}

// ReadMatrix parses whitespace separated numbers, one row per non-empty line. Every row must have
// the same number of values.
func ReadMatrix(ctx context.Context, r io.Reader) ([][]float32, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	var rows [][]float32
	line := 0
	for scanner.Scan() {
		line++
		if line%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		row := make([]float32, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d column %d", line, i+1)
			}
			row[i] = float32(v)
		}
		if len(rows) > 0 && len(row) != len(rows[0]) {
			return nil, errors.Errorf("line %d has %d values but earlier rows have %d", line, len(row), len(rows[0]))
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
