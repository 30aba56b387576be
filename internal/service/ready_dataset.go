package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rjadr/historymemes/internal/models"
)

// ErrDatasetNotReady is returned while the dataset is still loading.
var ErrDatasetNotReady = errors.New("dataset is still loading")

// ReadyDataset holds the dataset once the background load finishes. Until then every
// lookup fails with ErrDatasetNotReady. Safe for concurrent use.
type ReadyDataset struct {
	ds atomic.Pointer[Dataset]
}

// Set publishes the loaded dataset.
func (r *ReadyDataset) Set(ds *Dataset) {
	r.ds.Store(ds)
}

// Ready reports whether the dataset has been loaded.
func (r *ReadyDataset) Ready() bool {
	return r.ds.Load() != nil
}

// Get returns the loaded dataset, or nil while loading.
func (r *ReadyDataset) Get() *Dataset {
	return r.ds.Load()
}

// Nearest delegates to Dataset.Nearest.
func (r *ReadyDataset) Nearest(ctx context.Context, column models.Column, vec []float32, k int) ([]models.Neighbor, error) {
	ds := r.ds.Load()
	if ds == nil {
		return nil, ErrDatasetNotReady
	}

	return ds.Nearest(ctx, column, vec, k)
}

// Meme delegates to Dataset.Meme.
func (r *ReadyDataset) Meme(rowIdx int) (*models.Meme, bool) {
	ds := r.ds.Load()
	if ds == nil {
		return nil, false
	}

	return ds.Meme(rowIdx)
}
