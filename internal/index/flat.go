// Package index implements an exact in-memory nearest-neighbor index.
package index

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/rjadr/historymemes/pkg/embeddings"
)

// Index errors.
var (
	ErrEmptyVector       = errors.New("index: empty vector")
	ErrDimensionMismatch = embeddings.ErrDimensionMismatch
)

// Hit is one search result: the position of the vector passed to Build and
// its squared L2 distance to the query.
type Hit struct {
	Pos      int
	Distance float64
}

// Flat is an exact squared-L2 index over a fixed set of vectors.
// It is read-only after Build and safe for concurrent Search.
type Flat struct {
	vecs [][]float32
	dim  int
}

// NewFlat builds a flat index over vectors. All vectors must be non-empty and of equal length.
func NewFlat(vectors [][]float32) (*Flat, error) {
	f := &Flat{}
	if err := f.Build(vectors); err != nil {
		return nil, err
	}

	return f, nil
}

// Build replaces the contents of the index.
func (f *Flat) Build(vectors [][]float32) error {
	if len(vectors) == 0 {
		f.vecs, f.dim = nil, 0

		return nil
	}

	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("%w at position 0", ErrEmptyVector)
	}

	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: position %d has %d dims, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	f.vecs = slices.Clone(vectors)
	f.dim = dim

	return nil
}

// Dim returns the vector dimensionality, 0 for an empty index.
func (f *Flat) Dim() int {
	return f.dim
}

// Len returns the number of indexed vectors.
func (f *Flat) Len() int {
	return len(f.vecs)
}

// Search returns the min(k, Len()) nearest vectors ordered by increasing distance.
// Ties keep insertion order. k <= 0 returns every vector.
func (f *Flat) Search(query []float32, k int) ([]Hit, error) {
	if len(f.vecs) == 0 {
		return nil, nil
	}

	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrDimensionMismatch, len(query), f.dim)
	}

	hits := make([]Hit, len(f.vecs))
	for i, v := range f.vecs {
		d, err := embeddings.SquaredL2(query, v)
		if err != nil {
			return nil, err
		}

		hits[i] = Hit{Pos: i, Distance: d}
	}

	slices.SortStableFunc(hits, func(a, b Hit) int {
		return cmp.Compare(a.Distance, b.Distance)
	})

	if k <= 0 || k > len(hits) {
		k = len(hits)
	}

	return hits[:k], nil
}
