package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlat_Search(t *testing.T) {
	f, err := NewFlat([][]float32{
		{0, 0},
		{3, 4},
		{1, 0},
		{0, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.Dim())
	assert.Equal(t, 4, f.Len())

	tests := []struct {
		name    string
		k       int
		wantPos []int
	}{
		{"k smaller than n", 2, []int{0, 2}},
		{"k equal to n", 4, []int{0, 2, 3, 1}},
		{"k larger than n returns all", 10, []int{0, 2, 3, 1}},
		{"non-positive k returns all", 0, []int{0, 2, 3, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := f.Search([]float32{0, 0}, tt.k)
			require.NoError(t, err)

			got := make([]int, len(hits))
			for i, h := range hits {
				got[i] = h.Pos
			}

			assert.Equal(t, tt.wantPos, got)

			for i := 1; i < len(hits); i++ {
				assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
			}
		})
	}
}

func TestFlat_Search_SquaredDistance(t *testing.T) {
	f, err := NewFlat([][]float32{{3, 4}})
	require.NoError(t, err)

	hits, err := f.Search([]float32{0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 25.0, hits[0].Distance, 1e-9)
}

func TestFlat_Search_TiesKeepInsertionOrder(t *testing.T) {
	f, err := NewFlat([][]float32{{1, 0}, {0, 1}, {-1, 0}})
	require.NoError(t, err)

	hits, err := f.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, hits[0].Pos)
	assert.Equal(t, 1, hits[1].Pos)
	assert.Equal(t, 2, hits[2].Pos)
}

func TestFlat_Errors(t *testing.T) {
	_, err := NewFlat([][]float32{{1, 2}, {1}})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = NewFlat([][]float32{{}})
	require.ErrorIs(t, err, ErrEmptyVector)

	f, err := NewFlat([][]float32{{1, 2}})
	require.NoError(t, err)

	_, err = f.Search([]float32{1, 2, 3}, 1)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	empty, err := NewFlat(nil)
	require.NoError(t, err)

	hits, err := empty.Search([]float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
