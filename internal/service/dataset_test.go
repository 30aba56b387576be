package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/internal/repository"
	"github.com/rjadr/historymemes/pkg/hub"
)

var testRef = hub.DatasetRef{Name: "rjadr/HistoryMemes", Config: "default", Split: "train"}

// testMemes returns n records whose vectors sit at x = i on both columns.
func testMemes(n int) []models.Meme {
	memes := make([]models.Meme, n)
	for i := range memes {
		memes[i] = models.Meme{
			RowIdx:    i,
			Title:     fmt.Sprintf("meme %d", i),
			Permalink: fmt.Sprintf("/r/HistoryMemes/comments/%d/", i),
			Image:     models.ImageRef{Src: fmt.Sprintf("https://assets.example/%d.jpg", i), Width: 10, Height: 10},
			TxtEmbs:   []float32{float32(i), 0},
			ImgEmbs:   []float32{0, float32(i)},
		}
	}

	return memes
}

func newTestDataset(t *testing.T, memes []models.Meme) *Dataset {
	t.Helper()

	ds, err := newDataset(testRef, memes)
	require.NoError(t, err)

	fi, err := newFlatIndex(ds.memes)
	require.NoError(t, err)

	ds.index = fi

	return ds
}

// rowFor encodes m the way the rows API returns it.
func rowFor(t *testing.T, m models.Meme) hub.Row {
	t.Helper()

	cells := map[string]any{
		"title":     m.Title,
		"permalink": m.Permalink,
		"image":     map[string]any{"src": m.Image.Src, "height": m.Image.Height, "width": m.Image.Width},
		"txt_embs":  m.TxtEmbs,
		"img_embs":  m.ImgEmbs,
	}

	row := hub.Row{RowIdx: m.RowIdx, Row: map[string]json.RawMessage{}}

	for k, v := range cells {
		raw, err := json.Marshal(v)
		require.NoError(t, err)

		row.Row[k] = raw
	}

	return row
}

func TestNewDataset_Validation(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := newDataset(testRef, nil)
		assert.ErrorIs(t, err, ErrInvalidDataset)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		memes := testMemes(3)
		memes[2].TxtEmbs = []float32{1, 2, 3}

		_, err := newDataset(testRef, memes)
		assert.ErrorIs(t, err, ErrInvalidDataset)
	})

	t.Run("missing vector", func(t *testing.T) {
		memes := testMemes(2)
		memes[1].ImgEmbs = nil

		_, err := newDataset(testRef, memes)
		assert.ErrorIs(t, err, ErrInvalidDataset)
	})

	t.Run("duplicate row", func(t *testing.T) {
		memes := testMemes(2)
		memes[1].RowIdx = 0

		_, err := newDataset(testRef, memes)
		assert.ErrorIs(t, err, ErrInvalidDataset)
	})
}

func TestDataset_Nearest(t *testing.T) {
	ds := newTestDataset(t, testMemes(6))
	ctx := context.Background()

	t.Run("ordered by distance", func(t *testing.T) {
		got, err := ds.Nearest(ctx, models.ColumnTextEmbeddings, []float32{2.2, 0}, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)

		assert.Equal(t, 2, got[0].Meme.RowIdx)
		assert.Equal(t, 3, got[1].Meme.RowIdx)
		assert.Equal(t, 1, got[2].Meme.RowIdx)
		assert.LessOrEqual(t, got[0].Distance, got[1].Distance)
		assert.LessOrEqual(t, got[1].Distance, got[2].Distance)
	})

	t.Run("column selects the vectors", func(t *testing.T) {
		got, err := ds.Nearest(ctx, models.ColumnImageEmbeddings, []float32{0, 5}, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 5, got[0].Meme.RowIdx)
		assert.InDelta(t, 0, got[0].Distance, 1e-9)
	})

	t.Run("k larger than dataset", func(t *testing.T) {
		got, err := ds.Nearest(ctx, models.ColumnTextEmbeddings, []float32{0, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, got, 6)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := ds.Nearest(ctx, models.ColumnTextEmbeddings, []float32{1, 2, 3}, 3)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("unknown column", func(t *testing.T) {
		_, err := ds.Nearest(ctx, models.Column("title"), []float32{1, 2}, 3)
		assert.ErrorIs(t, err, ErrUnknownColumn)
	})
}

func TestDataset_Meme(t *testing.T) {
	ds := newTestDataset(t, testMemes(3))

	m, ok := ds.Meme(2)
	require.True(t, ok)
	assert.Equal(t, "meme 2", m.Title)

	_, ok = ds.Meme(42)
	assert.False(t, ok)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 2, ds.Dim(models.ColumnImageEmbeddings))
	assert.Equal(t, testRef, ds.Ref())
}

func TestMemeFromRow(t *testing.T) {
	want := testMemes(4)[3]
	row := rowFor(t, want)

	got, err := MemeFromRow(&row)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	delete(row.Row, "img_embs")

	_, err = MemeFromRow(&row)
	assert.ErrorIs(t, err, ErrInvalidDataset)

	row = rowFor(t, want)
	row.Row["txt_embs"] = json.RawMessage(`"not a vector"`)

	_, err = MemeFromRow(&row)
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

type mockMemesStore struct {
	ensureSchemaFunc func(ctx context.Context) error
	countFunc        func(ctx context.Context, dataset string) (int, error)
	replaceFunc      func(ctx context.Context, dataset string, memes []models.Meme) error
	nearestFunc      func(
		ctx context.Context, dataset string, column models.Column, vec []float32, k int,
	) ([]repository.Neighbor, error)
}

func (m *mockMemesStore) EnsureSchema(ctx context.Context) error {
	if m.ensureSchemaFunc != nil {
		return m.ensureSchemaFunc(ctx)
	}

	return nil
}

func (m *mockMemesStore) Count(ctx context.Context, dataset string) (int, error) {
	if m.countFunc != nil {
		return m.countFunc(ctx, dataset)
	}

	return 0, nil
}

func (m *mockMemesStore) Replace(ctx context.Context, dataset string, memes []models.Meme) error {
	if m.replaceFunc != nil {
		return m.replaceFunc(ctx, dataset, memes)
	}

	return nil
}

func (m *mockMemesStore) Nearest(
	ctx context.Context, dataset string, column models.Column, vec []float32, k int,
) ([]repository.Neighbor, error) {
	if m.nearestFunc != nil {
		return m.nearestFunc(ctx, dataset, column, vec, k)
	}

	return nil, nil
}

func TestPgvectorIndex_MapsRows(t *testing.T) {
	ds, err := newDataset(testRef, testMemes(3))
	require.NoError(t, err)

	var gotK int

	store := &mockMemesStore{
		nearestFunc: func(_ context.Context, dataset string, column models.Column, _ []float32, k int) ([]repository.Neighbor, error) {
			assert.Equal(t, testRef.String(), dataset)
			assert.Equal(t, models.ColumnImageEmbeddings, column)

			gotK = k

			return []repository.Neighbor{{RowIdx: 2, Distance: 0.5}, {RowIdx: 0, Distance: 1.5}}, nil
		},
	}
	ds.index = &pgvectorIndex{store: store, dataset: testRef.String(), lookup: ds.Meme}

	got, err := ds.Nearest(context.Background(), models.ColumnImageEmbeddings, []float32{0, 1}, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, gotK)
	require.Len(t, got, 2)
	assert.Equal(t, "meme 2", got[0].Meme.Title)
	assert.InDelta(t, 1.5, got[1].Distance, 1e-9)

	store.nearestFunc = func(context.Context, string, models.Column, []float32, int) ([]repository.Neighbor, error) {
		return []repository.Neighbor{{RowIdx: 99}}, nil
	}

	_, err = ds.Nearest(context.Background(), models.ColumnImageEmbeddings, []float32{0, 1}, 1)
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestReadyDataset(t *testing.T) {
	var r ReadyDataset

	assert.False(t, r.Ready())
	assert.Nil(t, r.Get())

	_, err := r.Nearest(context.Background(), models.ColumnTextEmbeddings, []float32{0, 0}, 1)
	require.ErrorIs(t, err, ErrDatasetNotReady)

	_, ok := r.Meme(0)
	assert.False(t, ok)

	ds := newTestDataset(t, testMemes(2))
	r.Set(ds)

	assert.True(t, r.Ready())
	assert.Same(t, ds, r.Get())

	got, err := r.Nearest(context.Background(), models.ColumnTextEmbeddings, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got[0].Meme.RowIdx)
}
