package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/pkg/database"
	"github.com/rjadr/historymemes/pkg/hub"
)

var trainRef = hub.DatasetRef{Name: "rjadr/HistoryMemes", Config: "default", Split: "train"}

func newSnapshotRepo(t *testing.T) *SnapshotRepository {
	t.Helper()

	ctx := context.Background()

	db, err := database.NewSQLiteDB(ctx, filepath.Join(t.TempDir(), "snapshots", "memes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewSnapshotRepository(ctx, db)
	require.NoError(t, err)

	return repo
}

func sampleMemes() []models.Meme {
	return []models.Meme{
		{
			RowIdx: 0, Title: "When Rome falls", Permalink: "/r/HistoryMemes/comments/a1/rome/",
			Image:   models.ImageRef{Src: "https://example.test/0.jpg", Width: 640, Height: 480},
			TxtEmbs: []float32{0.1, 0.2, 0.3}, ImgEmbs: []float32{-1, 0, 1},
		},
		{
			RowIdx: 1, Title: "Napoleon's height", Permalink: "/r/HistoryMemes/comments/b2/napoleon/",
			Image:   models.ImageRef{Src: "https://example.test/1.jpg", Width: 500, Height: 500},
			TxtEmbs: []float32{1.5, 0, -2}, ImgEmbs: []float32{0, 0, 0},
		},
	}
}

func TestSnapshotRepository_SaveLoad(t *testing.T) {
	repo := newSnapshotRepo(t)
	ctx := context.Background()

	_, err := repo.Load(ctx, trainRef)
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, repo.Save(ctx, trainRef, sampleMemes()))

	got, err := repo.Load(ctx, trainRef)
	require.NoError(t, err)
	assert.Equal(t, sampleMemes(), got)

	info, err := repo.Info(ctx, trainRef)
	require.NoError(t, err)
	assert.Equal(t, 2, info.RowCount)
	assert.False(t, info.CreatedAt.IsZero())

	// Other splits are separate snapshots.
	_, err = repo.Load(ctx, hub.DatasetRef{Name: trainRef.Name, Config: "default", Split: "test"})
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSnapshotRepository_SaveReplaces(t *testing.T) {
	repo := newSnapshotRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, trainRef, sampleMemes()))
	require.NoError(t, repo.Save(ctx, trainRef, sampleMemes()[:1]))

	got, err := repo.Load(ctx, trainRef)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "When Rome falls", got[0].Title)
}

func TestSnapshotRepository_UpdateImageSrc(t *testing.T) {
	repo := newSnapshotRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, trainRef, sampleMemes()))
	require.NoError(t, repo.UpdateImageSrc(ctx, trainRef, 1, "https://example.test/1-fresh.jpg"))

	got, err := repo.Load(ctx, trainRef)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/1-fresh.jpg", got[1].Image.Src)
	assert.Equal(t, "https://example.test/0.jpg", got[0].Image.Src)
}

func TestVectorEncoding(t *testing.T) {
	vec := []float32{0, -1.25, 3.5e-7}

	got, err := decodeVector(encodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeVector([]byte{1, 2, 3})
	require.ErrorIs(t, err, errInvalidVectorBlob)
}
