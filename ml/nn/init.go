package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// glorotUniform fills values from U(-limit, limit) with limit = sqrt(6 / (fanIn + fanOut)).
func glorotUniform(rng *rand.Rand, values []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range values {
		values[i] = (2*rng.Float64() - 1) * limit
	}
}

// orthogonal returns a rows×cols row-major matrix whose rows or columns (whichever are fewer)
// are orthonormal. It is the QR decomposition of a standard normal matrix with the signs of R's
// diagonal folded into Q so the result is uniformly distributed.
func orthogonal(rng *rand.Rand, rows, cols int) []float64 {
	r, c := rows, cols
	transposed := rows < cols
	if transposed {
		r, c = cols, rows
	}
	a := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}
	var qr mat.QR
	qr.Factorize(a)
	var q, upper mat.Dense
	qr.QTo(&q)
	qr.RTo(&upper)

	out := make([]float64, rows*cols)
	for j := 0; j < c; j++ {
		sign := 1.0
		if upper.At(j, j) < 0 {
			sign = -1
		}
		for i := 0; i < r; i++ {
			v := q.At(i, j) * sign
			if transposed {
				out[j*cols+i] = v
			} else {
				out[i*cols+j] = v
			}
		}
	}
	return out
}
