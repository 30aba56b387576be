package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/rjadr/historymemes/internal/models"
)

// ErrUnknownColumn is returned for a vector column other than txt_embs or img_embs.
var ErrUnknownColumn = errors.New("unknown vector column")

// Neighbor is a row index with its squared L2 distance to the query.
type Neighbor struct {
	RowIdx   int
	Distance float64
}

// MemesRepository stores dataset vectors in the memes table and searches them with pgvector.
// Only row indices and vectors are stored; record metadata stays in memory.
type MemesRepository struct {
	db *pgxpool.Pool
}

// NewMemesRepository creates a new memes repository.
func NewMemesRepository(db *pgxpool.Pool) *MemesRepository {
	return &MemesRepository{db: db}
}

// EnsureSchema creates the vector extension and the memes table.
func (r *MemesRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS memes (
			dataset  TEXT NOT NULL,
			row_idx  INTEGER NOT NULL,
			txt_embs vector NOT NULL,
			img_embs vector NOT NULL,
			PRIMARY KEY (dataset, row_idx)
		)`,
	} {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("memes schema: %w", err)
		}
	}

	return nil
}

// Count returns the number of rows stored for dataset.
func (r *MemesRepository) Count(ctx context.Context, dataset string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM memes WHERE dataset = $1`, dataset).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memes: %w", err)
	}

	return n, nil
}

// Replace swaps the stored vectors of dataset for memes in one transaction.
func (r *MemesRepository) Replace(ctx context.Context, dataset string, memes []models.Meme) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin memes tx: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM memes WHERE dataset = $1`, dataset); err != nil {
		return fmt.Errorf("clear memes: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range memes {
		m := &memes[i]
		batch.Queue(
			`INSERT INTO memes (dataset, row_idx, txt_embs, img_embs) VALUES ($1, $2, $3, $4)`,
			dataset, m.RowIdx, pgvector.NewVector(m.TxtEmbs), pgvector.NewVector(m.ImgEmbs),
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert memes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit memes: %w", err)
	}

	return nil
}

// nearestQueries holds one statement per column; the column name cannot be a bind parameter.
// Distances are squared so they match the in-memory flat index.
var nearestQueries = map[models.Column]string{
	models.ColumnTextEmbeddings: `
		SELECT row_idx, power(txt_embs <-> $2, 2) AS distance
		FROM memes WHERE dataset = $1
		ORDER BY txt_embs <-> $2, row_idx
		LIMIT $3`,
	models.ColumnImageEmbeddings: `
		SELECT row_idx, power(img_embs <-> $2, 2) AS distance
		FROM memes WHERE dataset = $1
		ORDER BY img_embs <-> $2, row_idx
		LIMIT $3`,
}

// Nearest returns the k rows of dataset closest to vec in column, by increasing distance.
func (r *MemesRepository) Nearest(
	ctx context.Context, dataset string, column models.Column, vec []float32, k int,
) ([]Neighbor, error) {
	query, ok := nearestQueries[column]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}

	rows, err := r.db.Query(ctx, query, dataset, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("nearest memes: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Neighbor, error) {
		var n Neighbor
		err := row.Scan(&n.RowIdx, &n.Distance)

		return n, err
	})
}
