package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/internal/observability"
)

// QueryEmbedder embeds text and image queries (implemented by EmbeddingService).
type QueryEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
}

// NeighborFinder answers k-NN lookups over the dataset (implemented by *Dataset and *ReadyDataset).
type NeighborFinder interface {
	Nearest(ctx context.Context, column models.Column, vec []float32, k int) ([]models.Neighbor, error)
}

// SearchService turns a query into a k-nearest-neighbor result set.
type SearchService struct {
	embedder QueryEmbedder
	dataset  NeighborFinder
	metrics  observability.SearchMetrics
	logger   *slog.Logger
}

// SearchServiceParams configures SearchService. Metrics may be nil.
type SearchServiceParams struct {
	Embedder QueryEmbedder
	Dataset  NeighborFinder
	Metrics  observability.SearchMetrics
	Logger   *slog.Logger
}

// NewSearchService creates a SearchService.
func NewSearchService(p SearchServiceParams) *SearchService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SearchService{
		embedder: p.Embedder,
		dataset:  p.Dataset,
		metrics:  p.Metrics,
		logger:   logger,
	}
}

// Search embeds the query with the embedder of its modality and searches the column of its
// target modality. k is clamped to [1, 10].
// A query with no mode, or with no input for its mode, is a no-op: it returns (nil, nil).
func (s *SearchService) Search(ctx context.Context, q models.Query) (*models.ResultSet, error) {
	if q.IsEmpty() {
		s.record(ctx, q.Mode, observability.StatusNoop, 0)

		//nolint:nilnil // intentional: an empty query yields no results and no error
		return nil, nil
	}

	ctx, span := observability.StartSpan(ctx, "search."+q.Mode.String())
	start := time.Now()

	set, err := s.search(ctx, q)

	status := observability.StatusSuccess
	if err != nil {
		status = observability.StatusError
	}

	s.record(ctx, q.Mode, status, time.Since(start))
	observability.EndSpan(span, err)

	return set, err
}

func (s *SearchService) search(ctx context.Context, q models.Query) (*models.ResultSet, error) {
	var (
		vec []float32
		err error
	)

	switch q.Mode.QueryModality() {
	case models.ModalityText:
		vec, err = s.embedder.EmbedText(ctx, q.Text)
	case models.ModalityImage:
		vec, err = s.embedder.EmbedImage(ctx, q.Image)
	}

	if err != nil {
		//nolint:wrapcheck // return as-is so handlers can map ErrInvalidImage to 400
		return nil, err
	}

	column := q.Mode.TargetColumn()
	k := models.ClampK(q.K)

	neighbors, err := s.dataset.Nearest(ctx, column, vec, k)
	if err != nil {
		s.logger.ErrorContext(ctx, "search: nearest failed", "mode", q.Mode.String(), "column", column, "error", err)

		return nil, fmt.Errorf("nearest %s: %w", column, err)
	}

	s.logger.DebugContext(ctx, "search completed", "mode", q.Mode.String(), "column", column, "k", k, "results", len(neighbors))

	return &models.ResultSet{Mode: q.Mode, Column: column, Neighbors: neighbors}, nil
}

func (s *SearchService) record(ctx context.Context, mode models.SearchMode, status string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordSearch(ctx, mode.String(), status, d)
	}
}
