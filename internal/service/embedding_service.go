package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"log/slog"
	"time"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/rjadr/historymemes/internal/embeddings"
	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/internal/observability"
	"github.com/rjadr/historymemes/pkg/cache"
)

// ErrInvalidImage is returned when uploaded bytes are not a decodable image.
var ErrInvalidImage = errors.New("invalid image")

// MaxImagePixels caps the declared width*height of an upload before it is decoded.
const MaxImagePixels = 50_000_000

// EmbeddingService embeds queries with the CLIP client, memoizing results by input value.
// Concurrent identical requests share one model call.
type EmbeddingService struct {
	client       embeddings.Client
	textCache    *cache.LoaderCache[string, []float32]
	imageCache   *cache.LoaderCache[string, []float32]
	metrics      observability.SearchMetrics
	cacheMetrics observability.CacheMetrics
	logger       *slog.Logger
}

// EmbeddingServiceParams configures EmbeddingService. Metrics may be nil.
type EmbeddingServiceParams struct {
	Client       embeddings.Client
	CacheSize    int
	Metrics      observability.SearchMetrics
	CacheMetrics observability.CacheMetrics
	Logger       *slog.Logger
}

// imageKey identifies an image by the SHA-256 of its bytes.
func imageKey(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// NewEmbeddingService creates an EmbeddingService with one LRU per modality.
func NewEmbeddingService(p EmbeddingServiceParams) (*EmbeddingService, error) {
	textCache, err := cache.NewLoaderCache[string, []float32](p.CacheSize, func(s string) string { return s })
	if err != nil {
		return nil, fmt.Errorf("create text embedding cache: %w", err)
	}

	imageCache, err := cache.NewLoaderCache[string, []float32](p.CacheSize, func(s string) string { return s })
	if err != nil {
		return nil, fmt.Errorf("create image embedding cache: %w", err)
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &EmbeddingService{
		client:       p.Client,
		textCache:    textCache,
		imageCache:   imageCache,
		metrics:      p.Metrics,
		cacheMetrics: p.CacheMetrics,
		logger:       logger,
	}, nil
}

// EmbedText returns the (memoized) embedding of text.
func (s *EmbeddingService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, hit, err := s.textCache.GetWithStats(ctx, text, func(ctx context.Context, text string) ([]float32, error) {
		return s.embed(ctx, models.ModalityText, func(ctx context.Context) ([]float32, error) {
			return s.client.EmbedText(ctx, text)
		})
	})
	s.recordCache(ctx, observability.CacheEmbeddingText, hit, err)

	return vec, err
}

// EmbedImage validates that data decodes as an image and returns its (memoized) embedding.
func (s *EmbeddingService) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if err := ValidateImage(data); err != nil {
		return nil, err
	}

	vec, hit, err := s.imageCache.GetWithStats(ctx, imageKey(data), func(ctx context.Context, _ string) ([]float32, error) {
		return s.embed(ctx, models.ModalityImage, func(ctx context.Context) ([]float32, error) {
			return s.client.EmbedImage(ctx, data)
		})
	})
	s.recordCache(ctx, observability.CacheEmbeddingImage, hit, err)

	return vec, err
}

// embed runs one model call with a span and a duration metric.
func (s *EmbeddingService) embed(
	ctx context.Context, modality models.Modality, call func(context.Context) ([]float32, error),
) ([]float32, error) {
	ctx, span := observability.StartSpan(ctx, "embedding."+string(modality))
	start := time.Now()

	vec, err := call(ctx)

	status := observability.StatusSuccess
	if err != nil {
		status = observability.StatusError

		s.logger.ErrorContext(ctx, "embedding failed", "modality", modality, "error", err)
		err = fmt.Errorf("embed %s: %w", modality, err)
	}

	if s.metrics != nil {
		s.metrics.RecordEmbedding(ctx, string(modality), status, time.Since(start))
	}

	observability.EndSpan(span, err)

	return vec, err
}

func (s *EmbeddingService) recordCache(ctx context.Context, name string, hit bool, err error) {
	if s.cacheMetrics == nil || err != nil {
		return
	}

	if hit {
		s.cacheMetrics.RecordHit(ctx, name)
	} else {
		s.cacheMetrics.RecordMiss(ctx, name)
	}
}

// ValidateImage reports ErrInvalidImage unless data decodes as JPEG, PNG, GIF, BMP, TIFF or WebP
// and declares at most MaxImagePixels. The header is checked before any pixel is decoded.
func ValidateImage(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty upload", ErrInvalidImage)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, MaxImagePixels)
	}

	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	return nil
}
