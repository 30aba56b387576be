// Package embeddings provides vector helpers shared by the index and the embedders.
package embeddings

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// NormalizeL2 scales vector in place to unit length. A zero vector is left unchanged.
func NormalizeL2(vector []float32) {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}

	if sumSquares == 0 {
		return
	}

	magnitude := math.Sqrt(sumSquares)
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / magnitude)
	}
}

// SquaredL2 returns the squared Euclidean distance between a and b.
// This is the metric of a flat L2 index: it preserves the ordering of L2 without the square root.
func SquaredL2(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}

	return sum, nil
}

// Copy returns a copy of vector, so callers can normalize without touching shared data.
func Copy(vector []float32) []float32 {
	out := make([]float32, len(vector))
	copy(out, vector)

	return out
}
