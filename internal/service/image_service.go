package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/internal/observability"
	"github.com/rjadr/historymemes/pkg/hub"
)

// ErrImageNotFound is returned for a row index that is not in the dataset.
var ErrImageNotFound = errors.New("image not found")

// AssetFetcher downloads record images and re-reads rows (implemented by *hub.Client).
type AssetFetcher interface {
	FetchAsset(ctx context.Context, assetURL string) (*hub.Asset, error)
	Row(ctx context.Context, ref hub.DatasetRef, idx int) (*hub.Row, error)
}

// MemeLookup finds a record by row index (implemented by *Dataset and *ReadyDataset).
type MemeLookup interface {
	Meme(rowIdx int) (*models.Meme, bool)
}

// ImageSrcUpdater persists a refreshed asset URL (implemented by repository.SnapshotRepository).
type ImageSrcUpdater interface {
	UpdateImageSrc(ctx context.Context, ref hub.DatasetRef, rowIdx int, src string) error
}

// ImageService proxies record images from the hub asset server to the browser,
// caching bytes in an expirable LRU.
type ImageService struct {
	hub          AssetFetcher
	dataset      MemeLookup
	ref          hub.DatasetRef
	snapshots    ImageSrcUpdater
	cache        *expirable.LRU[int, *hub.Asset]
	group        singleflight.Group
	freshSrc     sync.Map // row index -> refreshed asset URL
	metrics      observability.SearchMetrics
	cacheMetrics observability.CacheMetrics
	logger       *slog.Logger
}

// ImageServiceParams configures ImageService. Snapshots and metrics may be nil.
type ImageServiceParams struct {
	Hub          AssetFetcher
	Dataset      MemeLookup
	Ref          hub.DatasetRef
	Snapshots    ImageSrcUpdater
	CacheSize    int
	CacheTTL     time.Duration
	Metrics      observability.SearchMetrics
	CacheMetrics observability.CacheMetrics
	Logger       *slog.Logger
}

// NewImageService creates an ImageService.
func NewImageService(p ImageServiceParams) *ImageService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ImageService{
		hub:          p.Hub,
		dataset:      p.Dataset,
		ref:          p.Ref,
		snapshots:    p.Snapshots,
		cache:        expirable.NewLRU[int, *hub.Asset](p.CacheSize, nil, p.CacheTTL),
		metrics:      p.Metrics,
		cacheMetrics: p.CacheMetrics,
		logger:       logger,
	}
}

// Get returns the image of the record with row index rowIdx.
// An expired asset URL is refreshed from the rows API once before giving up.
func (s *ImageService) Get(ctx context.Context, rowIdx int) (*hub.Asset, error) {
	meme, ok := s.dataset.Meme(rowIdx)
	if !ok {
		return nil, fmt.Errorf("%w: row %d", ErrImageNotFound, rowIdx)
	}

	if asset, ok := s.cache.Get(rowIdx); ok {
		if s.cacheMetrics != nil {
			s.cacheMetrics.RecordHit(ctx, observability.CacheImage)
		}

		return asset, nil
	}

	if s.cacheMetrics != nil {
		s.cacheMetrics.RecordMiss(ctx, observability.CacheImage)
	}

	val, err, _ := s.group.Do(strconv.Itoa(rowIdx), func() (any, error) {
		return s.fetch(ctx, meme)
	})
	if err != nil {
		s.recordFetch(ctx, observability.StatusError)

		return nil, err
	}

	s.recordFetch(ctx, observability.StatusSuccess)

	return val.(*hub.Asset), nil
}

func (s *ImageService) fetch(ctx context.Context, meme *models.Meme) (*hub.Asset, error) {
	src := meme.Image.Src
	if fresh, ok := s.freshSrc.Load(meme.RowIdx); ok {
		src = fresh.(string)
	}

	asset, err := s.hub.FetchAsset(ctx, src)
	if errors.Is(err, hub.ErrAssetExpired) {
		s.logger.DebugContext(ctx, "image url expired, refreshing row", "row_idx", meme.RowIdx)

		src, err = s.refreshSrc(ctx, meme.RowIdx)
		if err != nil {
			return nil, err
		}

		asset, err = s.hub.FetchAsset(ctx, src)
	}

	if err != nil {
		return nil, fmt.Errorf("fetch image for row %d: %w", meme.RowIdx, err)
	}

	s.cache.Add(meme.RowIdx, asset)

	return asset, nil
}

// refreshSrc re-reads the row from the rows API and remembers its new asset URL.
func (s *ImageService) refreshSrc(ctx context.Context, rowIdx int) (string, error) {
	row, err := s.hub.Row(ctx, s.ref, rowIdx)
	if err != nil {
		return "", fmt.Errorf("refresh row %d: %w", rowIdx, err)
	}

	var img imageCell
	if err := json.Unmarshal(row.Row["image"], &img); err != nil || img.Src == "" {
		return "", fmt.Errorf("%w: row %d has no image src", ErrImageNotFound, rowIdx)
	}

	s.freshSrc.Store(rowIdx, img.Src)

	if s.snapshots != nil {
		if err := s.snapshots.UpdateImageSrc(ctx, s.ref, rowIdx, img.Src); err != nil {
			s.logger.WarnContext(ctx, "failed to persist refreshed image url", "row_idx", rowIdx, "error", err)
		}
	}

	return img.Src, nil
}

func (s *ImageService) recordFetch(ctx context.Context, status string) {
	if s.metrics != nil {
		s.metrics.RecordImageFetch(ctx, status)
	}
}
