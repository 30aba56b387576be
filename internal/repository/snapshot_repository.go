package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/pkg/hub"
)

// ErrSnapshotNotFound is returned when no complete snapshot exists for a dataset split.
var ErrSnapshotNotFound = errors.New("dataset snapshot not found")

var snapshotSchema = []string{`
CREATE TABLE IF NOT EXISTS snapshots (
	dataset    TEXT NOT NULL,
	config     TEXT NOT NULL,
	split      TEXT NOT NULL,
	row_count  INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (dataset, config, split)
)`, `
CREATE TABLE IF NOT EXISTS snapshot_rows (
	dataset      TEXT NOT NULL,
	config       TEXT NOT NULL,
	split        TEXT NOT NULL,
	row_idx      INTEGER NOT NULL,
	title        TEXT NOT NULL,
	permalink    TEXT NOT NULL,
	image_src    TEXT NOT NULL,
	image_width  INTEGER NOT NULL,
	image_height INTEGER NOT NULL,
	txt_embs     BLOB NOT NULL,
	img_embs     BLOB NOT NULL,
	PRIMARY KEY (dataset, config, split, row_idx)
)`}

// SnapshotInfo describes a stored snapshot.
type SnapshotInfo struct {
	RowCount  int
	CreatedAt time.Time
}

// SnapshotRepository persists fetched dataset splits in SQLite so restarts skip the hub.
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository creates a snapshot repository and ensures its schema.
func NewSnapshotRepository(ctx context.Context, db *sql.DB) (*SnapshotRepository, error) {
	for _, stmt := range snapshotSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("snapshot schema: %w", err)
		}
	}

	return &SnapshotRepository{db: db}, nil
}

// Info returns the metadata of the snapshot for ref.
func (r *SnapshotRepository) Info(ctx context.Context, ref hub.DatasetRef) (*SnapshotInfo, error) {
	var (
		info      SnapshotInfo
		createdAt string
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT row_count, created_at FROM snapshots WHERE dataset = ? AND config = ? AND split = ?`,
		ref.Name, ref.Config, ref.Split,
	).Scan(&info.RowCount, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}

		return nil, fmt.Errorf("snapshot info: %w", err)
	}

	info.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("snapshot created_at: %w", err)
	}

	return &info, nil
}

// Load returns the records of the snapshot for ref ordered by row index.
// An incomplete snapshot is reported as ErrSnapshotNotFound.
func (r *SnapshotRepository) Load(ctx context.Context, ref hub.DatasetRef) ([]models.Meme, error) {
	info, err := r.Info(ctx, ref)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT row_idx, title, permalink, image_src, image_width, image_height, txt_embs, img_embs
		FROM snapshot_rows
		WHERE dataset = ? AND config = ? AND split = ?
		ORDER BY row_idx`,
		ref.Name, ref.Config, ref.Split,
	)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	memes := make([]models.Meme, 0, info.RowCount)

	for rows.Next() {
		var (
			m                models.Meme
			txtBlob, imgBlob []byte
		)

		if err := rows.Scan(&m.RowIdx, &m.Title, &m.Permalink,
			&m.Image.Src, &m.Image.Width, &m.Image.Height, &txtBlob, &imgBlob); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}

		if m.TxtEmbs, err = decodeVector(txtBlob); err != nil {
			return nil, fmt.Errorf("row %d txt_embs: %w", m.RowIdx, err)
		}

		if m.ImgEmbs, err = decodeVector(imgBlob); err != nil {
			return nil, fmt.Errorf("row %d img_embs: %w", m.RowIdx, err)
		}

		memes = append(memes, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot rows: %w", err)
	}

	if len(memes) != info.RowCount {
		return nil, fmt.Errorf("%w: %s has %d of %d rows", ErrSnapshotNotFound, ref, len(memes), info.RowCount)
	}

	return memes, nil
}

// Save replaces the snapshot for ref with memes in one transaction.
func (r *SnapshotRepository) Save(ctx context.Context, ref hub.DatasetRef, memes []models.Meme) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range []string{
		`DELETE FROM snapshot_rows WHERE dataset = ? AND config = ? AND split = ?`,
		`DELETE FROM snapshots WHERE dataset = ? AND config = ? AND split = ?`,
	} {
		if _, err = tx.ExecContext(ctx, stmt, ref.Name, ref.Config, ref.Split); err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_rows
			(dataset, config, split, row_idx, title, permalink, image_src, image_width, image_height, txt_embs, img_embs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer func() { _ = insert.Close() }()

	for i := range memes {
		m := &memes[i]
		if _, err = insert.ExecContext(ctx, ref.Name, ref.Config, ref.Split, m.RowIdx, m.Title, m.Permalink,
			m.Image.Src, m.Image.Width, m.Image.Height, encodeVector(m.TxtEmbs), encodeVector(m.ImgEmbs)); err != nil {
			return fmt.Errorf("insert snapshot row %d: %w", m.RowIdx, err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (dataset, config, split, row_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		ref.Name, ref.Config, ref.Split, len(memes), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	return nil
}

// UpdateImageSrc stores a refreshed asset URL for one row.
func (r *SnapshotRepository) UpdateImageSrc(ctx context.Context, ref hub.DatasetRef, rowIdx int, src string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE snapshot_rows SET image_src = ? WHERE dataset = ? AND config = ? AND split = ? AND row_idx = ?`,
		src, ref.Name, ref.Config, ref.Split, rowIdx,
	)
	if err != nil {
		return fmt.Errorf("update image src: %w", err)
	}

	return nil
}
