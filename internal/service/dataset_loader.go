package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/internal/observability"
	"github.com/rjadr/historymemes/internal/repository"
	"github.com/rjadr/historymemes/pkg/cache"
	"github.com/rjadr/historymemes/pkg/hub"
)

// Dataset load sources (metric attribute values).
const (
	sourceHub      = "hub"
	sourceSnapshot = "snapshot"
)

// RowsFetcher reads a whole dataset split from the hub (implemented by *hub.Client).
type RowsFetcher interface {
	AllRows(ctx context.Context, ref hub.DatasetRef, pageSize int) ([]hub.Row, error)
}

// SnapshotStore persists fetched splits locally (implemented by repository.SnapshotRepository).
type SnapshotStore interface {
	Load(ctx context.Context, ref hub.DatasetRef) ([]models.Meme, error)
	Save(ctx context.Context, ref hub.DatasetRef, memes []models.Meme) error
}

// DatasetLoader loads dataset splits once per process and attaches their vector indices.
type DatasetLoader struct {
	hub          RowsFetcher
	snapshots    SnapshotStore
	vectors      MemesStore
	config       string
	split        string
	pageSize     int
	refresh      bool
	cache        *cache.LoaderCache[string, *Dataset]
	metrics      observability.SearchMetrics
	cacheMetrics observability.CacheMetrics
	logger       *slog.Logger
}

// DatasetLoaderParams configures DatasetLoader. Snapshots, Vectors and the metrics may be nil:
// no snapshot, in-memory flat index, no metrics.
type DatasetLoaderParams struct {
	Hub          RowsFetcher
	Snapshots    SnapshotStore
	Vectors      MemesStore
	Config       string
	Split        string
	PageSize     int
	Refresh      bool
	Metrics      observability.SearchMetrics
	CacheMetrics observability.CacheMetrics
	Logger       *slog.Logger
}

// NewDatasetLoader creates a DatasetLoader.
func NewDatasetLoader(p DatasetLoaderParams) (*DatasetLoader, error) {
	const maxDatasets = 4

	c, err := cache.NewLoaderCache[string, *Dataset](maxDatasets, func(name string) string { return name })
	if err != nil {
		return nil, fmt.Errorf("create dataset cache: %w", err)
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DatasetLoader{
		hub:          p.Hub,
		snapshots:    p.Snapshots,
		vectors:      p.Vectors,
		config:       p.Config,
		split:        p.Split,
		pageSize:     p.PageSize,
		refresh:      p.Refresh,
		cache:        c,
		metrics:      p.Metrics,
		cacheMetrics: p.CacheMetrics,
		logger:       logger,
	}, nil
}

// Load returns the dataset named name with both vector indices built. The result is memoized:
// later calls with the same name return the same *Dataset without I/O.
func (l *DatasetLoader) Load(ctx context.Context, name string) (*Dataset, error) {
	ds, hit, err := l.cache.GetWithStats(ctx, name, l.load)
	if err != nil {
		return nil, err
	}

	if l.cacheMetrics != nil {
		if hit {
			l.cacheMetrics.RecordHit(ctx, observability.CacheDataset)
		} else {
			l.cacheMetrics.RecordMiss(ctx, observability.CacheDataset)
		}
	}

	return ds, nil
}

func (l *DatasetLoader) load(ctx context.Context, name string) (*Dataset, error) {
	ctx, span := observability.StartSpan(ctx, "dataset.load")

	ds, err := l.loadDataset(ctx, name)
	observability.EndSpan(span, err)

	return ds, err
}

func (l *DatasetLoader) loadDataset(ctx context.Context, name string) (*Dataset, error) {
	start := time.Now()
	ref := hub.DatasetRef{Name: name, Config: l.config, Split: l.split}

	memes, source, err := l.readRecords(ctx, ref)
	if err != nil {
		return nil, err
	}

	ds, err := newDataset(ref, memes)
	if err != nil {
		return nil, err
	}

	if source == sourceHub && l.snapshots != nil {
		if err := l.snapshots.Save(ctx, ref, memes); err != nil {
			l.logger.Warn("failed to save dataset snapshot", "dataset", ref.String(), "error", err)
		}
	}

	if err := l.attachIndex(ctx, ds, source == sourceHub); err != nil {
		return nil, err
	}

	duration := time.Since(start)
	if l.metrics != nil {
		l.metrics.RecordDatasetLoad(ctx, source, ds.Len(), duration)
	}

	l.logger.Info("Dataset loaded",
		"dataset", ref.String(),
		"source", source,
		"rows", ds.Len(),
		"txt_embs_dims", ds.Dim(models.ColumnTextEmbeddings),
		"img_embs_dims", ds.Dim(models.ColumnImageEmbeddings),
		"duration", duration,
	)

	return ds, nil
}

// readRecords returns the records of ref from the snapshot when possible, otherwise from the hub.
func (l *DatasetLoader) readRecords(ctx context.Context, ref hub.DatasetRef) ([]models.Meme, string, error) {
	if l.snapshots != nil && !l.refresh {
		memes, err := l.snapshots.Load(ctx, ref)

		switch {
		case err == nil:
			return memes, sourceSnapshot, nil
		case errors.Is(err, repository.ErrSnapshotNotFound):
			l.logger.Info("No dataset snapshot, fetching from hub", "dataset", ref.String())
		default:
			l.logger.Warn("failed to read dataset snapshot, fetching from hub", "dataset", ref.String(), "error", err)
		}
	}

	rows, err := l.hub.AllRows(ctx, ref, l.pageSize)
	if err != nil {
		return nil, "", fmt.Errorf("fetch dataset %s: %w", ref, err)
	}

	memes := make([]models.Meme, len(rows))
	for i := range rows {
		if memes[i], err = MemeFromRow(&rows[i]); err != nil {
			return nil, "", err
		}
	}

	return memes, sourceHub, nil
}

// attachIndex builds the in-memory flat index or syncs the pgvector table.
func (l *DatasetLoader) attachIndex(ctx context.Context, ds *Dataset, fresh bool) error {
	if l.vectors == nil {
		fi, err := newFlatIndex(ds.memes)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDataset, err)
		}

		ds.index = fi

		return nil
	}

	name := ds.ref.String()

	if err := l.vectors.EnsureSchema(ctx); err != nil {
		return err
	}

	stored, err := l.vectors.Count(ctx, name)
	if err != nil {
		return err
	}

	if fresh || stored != ds.Len() {
		l.logger.Info("Syncing dataset vectors to pgvector", "dataset", name, "rows", ds.Len(), "stored", stored)

		if err := l.vectors.Replace(ctx, name, ds.memes); err != nil {
			return err
		}
	}

	ds.index = &pgvectorIndex{store: l.vectors, dataset: name, lookup: ds.Meme}

	return nil
}

type imageCell struct {
	Src    string `json:"src"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// MemeFromRow decodes one rows API row. Missing or malformed cells are ErrInvalidDataset.
func MemeFromRow(row *hub.Row) (models.Meme, error) {
	m := models.Meme{RowIdx: row.RowIdx}

	var img imageCell

	cells := []struct {
		name string
		dst  any
	}{
		{"title", &m.Title},
		{"permalink", &m.Permalink},
		{"image", &img},
		{"txt_embs", &m.TxtEmbs},
		{"img_embs", &m.ImgEmbs},
	}

	for _, c := range cells {
		raw, ok := row.Row[c.name]
		if !ok {
			return models.Meme{}, fmt.Errorf("%w: row %d has no %s", ErrInvalidDataset, row.RowIdx, c.name)
		}

		if err := json.Unmarshal(raw, c.dst); err != nil {
			return models.Meme{}, fmt.Errorf("%w: row %d %s: %w", ErrInvalidDataset, row.RowIdx, c.name, err)
		}
	}

	m.Image = models.ImageRef{Src: img.Src, Width: img.Width, Height: img.Height}

	return m, nil
}
