package dataset

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func TestLoadText(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "x.txt", "1.0 2.0 3.0\n4.000000000000000000e+00 5 6\n\n7 8 9\n")
	labels := writeFile(t, dir, "y.txt", "0.000000000000000000e+00\n6\n3.0\n")

	ds, err := LoadText(context.Background(), data, labels)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ds.Len(), test.ShouldEqual, 3)
	test.That(t, ds.Inputs[1], test.ShouldResemble, []float32{4, 5, 6})
	test.That(t, ds.Labels, test.ShouldResemble, []int{0, 6, 3})
	test.That(t, ds.Validate(3, 7), test.ShouldBeNil)

	err = ds.Validate(4, 7)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected 4")
	err = ds.Validate(3, 5)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "outside [0, 5)")

	returns := writeFile(t, dir, "r.txt", "0.5\n-1\n2\n")
	test.That(t, ds.LoadReturns(context.Background(), returns), test.ShouldBeNil)
	test.That(t, ds.Returns, test.ShouldResemble, []float64{0.5, -1, 2})
}

func TestLoadTextErrors(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "x.txt", "1 2\n3 4\n")
	short := writeFile(t, dir, "short.txt", "1\n")
	fractional := writeFile(t, dir, "frac.txt", "1\n2.5\n")
	ragged := writeFile(t, dir, "ragged.txt", "1 2\n3\n")
	garbage := writeFile(t, dir, "garbage.txt", "1 x\n")

	_, err := LoadText(context.Background(), data, short)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "rows")

	_, err = LoadText(context.Background(), data, fractional)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "whole number")

	_, err = LoadText(context.Background(), ragged, short)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "earlier rows")

	_, err = LoadText(context.Background(), garbage, short)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = LoadText(context.Background(), filepath.Join(dir, "missing.txt"), short)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing.txt")

	ds := &Dataset{}
	test.That(t, ds.Validate(1, 7), test.ShouldNotBeNil)
}

func TestReadMatrixLongLine(t *testing.T) {
	values := strings.Repeat("0.000000000000000000e+00 ", 7720)
	rows, err := ReadMatrix(context.Background(), strings.NewReader(values+"\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rows, test.ShouldHaveLength, 1)
	test.That(t, rows[0], test.ShouldHaveLength, 7720)
}

func TestBatches(t *testing.T) {
	ds := &Dataset{
		Inputs:  make([][]float32, 10),
		Labels:  []int{0, 1, 2, 3, 4, 5, 6, 0, 1, 2},
		Returns: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	}
	batches := ds.Batches(4, nil)
	test.That(t, batches, test.ShouldResemble, [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9}})

	shuffled := ds.Batches(3, rand.New(rand.NewSource(1)))
	test.That(t, shuffled, test.ShouldHaveLength, 4)
	seen := map[int]bool{}
	for _, b := range shuffled {
		for _, idx := range b {
			seen[idx] = true
		}
	}
	test.That(t, seen, test.ShouldHaveLength, 10)

	test.That(t, ds.Batches(0, nil), test.ShouldHaveLength, 1)
}
