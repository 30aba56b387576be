package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/internal/service"
)

type staticReady bool

func (s staticReady) Ready() bool { return bool(s) }

func getPage(t *testing.T, h *UIHandler, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.Page(rec, httptest.NewRequest(http.MethodGet, target, nil))

	return rec
}

func TestUIHandler_Page(t *testing.T) {
	t.Run("initial page", func(t *testing.T) {
		searcher := &mockSearcher{}
		h := NewUIHandler(searcher, staticReady(true), testImageURL)

		rec := getPage(t, h, "/")
		require.Equal(t, http.StatusOK, rec.Code)

		body := rec.Body.String()
		assert.Contains(t, body, "<h1>/r/HistoryMemes Multimodal Search</h1>")
		assert.Contains(t, body, "First, select the type of search you want to perform.")
		assert.Contains(t, body, "Select search type")
		assert.Contains(t, body, `value="5"`)
		assert.NotContains(t, body, "Enter a text query:")
		assert.NotContains(t, body, "Upload an image:")
		assert.NotContains(t, body, "<h2>Results</h2>")
	})

	t.Run("text search renders results", func(t *testing.T) {
		searcher := &mockSearcher{}
		h := NewUIHandler(searcher, staticReady(true), testImageURL)

		rec := getPage(t, h, "/?mode=text-to-text&k=3&q=ancient+rome")
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, models.Query{Mode: models.ModeTextToText, K: 3, Text: "ancient rome"}, searcher.lastQuery)

		body := rec.Body.String()
		assert.Contains(t, body, "Enter a text query:")
		assert.Contains(t, body, `value="ancient rome"`)
		assert.Contains(t, body, "<h2>Results</h2>")
		assert.Contains(t, body, "<h3>1: Veni vidi vici</h3>")
		assert.Contains(t, body, "100 %")
		assert.Contains(t, body, `src="/images/7"`)
	})

	t.Run("image mode shows the upload form", func(t *testing.T) {
		h := NewUIHandler(&mockSearcher{}, staticReady(true), testImageURL)

		rec := getPage(t, h, "/?mode=image-to-image")
		require.Equal(t, http.StatusOK, rec.Code)

		body := rec.Body.String()
		assert.Contains(t, body, "Upload an image:")
		assert.Contains(t, body, `enctype="multipart/form-data"`)
		assert.NotContains(t, body, "<h2>Results</h2>")
	})

	t.Run("k is clamped", func(t *testing.T) {
		searcher := &mockSearcher{}
		h := NewUIHandler(searcher, staticReady(true), testImageURL)

		rec := getPage(t, h, "/?mode=text-to-text&k=50&q=rome")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, models.MaxK, searcher.lastQuery.K)
	})

	t.Run("unknown mode", func(t *testing.T) {
		searcher := &mockSearcher{}
		h := NewUIHandler(searcher, staticReady(true), testImageURL)

		rec := getPage(t, h, "/?mode=smell-to-text&q=rome")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 0, searcher.calls)
	})

	t.Run("loading dataset", func(t *testing.T) {
		searcher := &mockSearcher{}
		h := NewUIHandler(searcher, staticReady(false), testImageURL)

		rec := getPage(t, h, "/?mode=text-to-text&q=rome")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Loading dataset. This could take a while...")
		assert.Equal(t, 0, searcher.calls)
	})

	t.Run("titles are escaped", func(t *testing.T) {
		searcher := &mockSearcher{
			searchFunc: func(_ context.Context, q models.Query) (*models.ResultSet, error) {
				return &models.ResultSet{Mode: q.Mode, Neighbors: []models.Neighbor{
					{Meme: &models.Meme{RowIdx: 1, Title: `<img src=x onerror=alert(1)>`}},
				}}, nil
			},
		}
		h := NewUIHandler(searcher, staticReady(true), testImageURL)

		rec := getPage(t, h, "/?mode=text-to-text&q=rome")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "onerror=alert(1)>")
	})

	t.Run("invalid upload", func(t *testing.T) {
		searcher := &mockSearcher{
			searchFunc: func(context.Context, models.Query) (*models.ResultSet, error) {
				return nil, service.ErrInvalidImage
			},
		}
		h := NewUIHandler(searcher, staticReady(true), testImageURL)

		body, contentType := multipartBody(t, map[string]string{"mode": "image-to-text", "k": "2"}, []byte("nope"))
		req := httptest.NewRequest(http.MethodPost, "/", body)
		req.Header.Set("Content-Type", contentType)

		rec := httptest.NewRecorder()
		h.Page(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "not a supported image")
		assert.Equal(t, []byte("nope"), searcher.lastQuery.Image)
	})
}
