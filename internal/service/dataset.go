package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rjadr/historymemes/internal/index"
	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/internal/repository"
	"github.com/rjadr/historymemes/pkg/hub"
)

// Dataset errors.
var (
	ErrInvalidDataset    = errors.New("invalid dataset")
	ErrDimensionMismatch = errors.New("query embedding dimension does not match the index")
	ErrUnknownColumn     = repository.ErrUnknownColumn
)

// vectorIndex answers k-NN lookups over one dataset. Neighbors come back ordered by
// increasing squared L2 distance.
type vectorIndex interface {
	nearest(ctx context.Context, column models.Column, vec []float32, k int) ([]models.Neighbor, error)
}

// Dataset is one loaded split with a vector index on txt_embs and img_embs.
// It is read-only after loading and safe for concurrent use.
type Dataset struct {
	ref   hub.DatasetRef
	memes []models.Meme
	byRow map[int]int
	dims  map[models.Column]int
	index vectorIndex
}

// newDataset validates memes and indexes them by row. The vector index is attached by the loader.
func newDataset(ref hub.DatasetRef, memes []models.Meme) (*Dataset, error) {
	if len(memes) == 0 {
		return nil, fmt.Errorf("%w: %s has no records", ErrInvalidDataset, ref)
	}

	dims := map[models.Column]int{
		models.ColumnTextEmbeddings:  len(memes[0].TxtEmbs),
		models.ColumnImageEmbeddings: len(memes[0].ImgEmbs),
	}

	byRow := make(map[int]int, len(memes))

	for i := range memes {
		m := &memes[i]
		for column, dim := range dims {
			got := len(m.Embedding(column))
			if got == 0 {
				return nil, fmt.Errorf("%w: row %d has no %s", ErrInvalidDataset, m.RowIdx, column)
			}

			if got != dim {
				return nil, fmt.Errorf("%w: row %d %s has %d dims, want %d", ErrInvalidDataset, m.RowIdx, column, got, dim)
			}
		}

		if _, dup := byRow[m.RowIdx]; dup {
			return nil, fmt.Errorf("%w: duplicate row %d", ErrInvalidDataset, m.RowIdx)
		}

		byRow[m.RowIdx] = i
	}

	return &Dataset{ref: ref, memes: memes, byRow: byRow, dims: dims}, nil
}

// Ref returns the dataset split this Dataset was loaded from.
func (d *Dataset) Ref() hub.DatasetRef {
	return d.ref
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.memes)
}

// Dim returns the vector length of column, 0 for an unknown column.
func (d *Dataset) Dim(column models.Column) int {
	return d.dims[column]
}

// Meme returns the record with the given row index.
func (d *Dataset) Meme(rowIdx int) (*models.Meme, bool) {
	i, ok := d.byRow[rowIdx]
	if !ok {
		return nil, false
	}

	return &d.memes[i], true
}

// Nearest returns the min(k, Len()) records closest to vec in column, by increasing distance.
func (d *Dataset) Nearest(ctx context.Context, column models.Column, vec []float32, k int) ([]models.Neighbor, error) {
	if !column.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}

	if len(vec) != d.dims[column] {
		return nil, fmt.Errorf("%w: %s has %d dims, query has %d", ErrDimensionMismatch, column, d.dims[column], len(vec))
	}

	if k <= 0 || k > len(d.memes) {
		k = len(d.memes)
	}

	return d.index.nearest(ctx, column, vec, k)
}

// flatIndex is the in-memory backend: one exact flat index per column.
type flatIndex struct {
	memes   []models.Meme
	columns map[models.Column]*index.Flat
}

func newFlatIndex(memes []models.Meme) (*flatIndex, error) {
	fi := &flatIndex{memes: memes, columns: map[models.Column]*index.Flat{}}

	for _, column := range []models.Column{models.ColumnTextEmbeddings, models.ColumnImageEmbeddings} {
		vecs := make([][]float32, len(memes))
		for i := range memes {
			vecs[i] = memes[i].Embedding(column)
		}

		flat, err := index.NewFlat(vecs)
		if err != nil {
			return nil, fmt.Errorf("build %s index: %w", column, err)
		}

		fi.columns[column] = flat
	}

	return fi, nil
}

func (fi *flatIndex) nearest(_ context.Context, column models.Column, vec []float32, k int) ([]models.Neighbor, error) {
	hits, err := fi.columns[column].Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", column, err)
	}

	out := make([]models.Neighbor, len(hits))
	for i, h := range hits {
		out[i] = models.Neighbor{Meme: &fi.memes[h.Pos], Distance: h.Distance}
	}

	return out, nil
}

// MemesStore is the pgvector backend (implemented by repository.MemesRepository).
type MemesStore interface {
	EnsureSchema(ctx context.Context) error
	Count(ctx context.Context, dataset string) (int, error)
	Replace(ctx context.Context, dataset string, memes []models.Meme) error
	Nearest(ctx context.Context, dataset string, column models.Column, vec []float32, k int) ([]repository.Neighbor, error)
}

// pgvectorIndex delegates the lookup to Postgres and maps row indices back to records.
type pgvectorIndex struct {
	store   MemesStore
	dataset string
	lookup  func(rowIdx int) (*models.Meme, bool)
}

func (pi *pgvectorIndex) nearest(ctx context.Context, column models.Column, vec []float32, k int) ([]models.Neighbor, error) {
	rows, err := pi.store.Nearest(ctx, pi.dataset, column, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", column, err)
	}

	out := make([]models.Neighbor, 0, len(rows))

	for _, r := range rows {
		m, ok := pi.lookup(r.RowIdx)
		if !ok {
			return nil, fmt.Errorf("%w: index returned unknown row %d", ErrInvalidDataset, r.RowIdx)
		}

		out = append(out, models.Neighbor{Meme: m, Distance: r.Distance})
	}

	return out, nil
}
