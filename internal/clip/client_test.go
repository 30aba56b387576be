package clip

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContainer serves the multi2vec-clip endpoints. Texts map to [len, 1, 0]
// and images to [0, 1, len] so tests can tell the modalities apart.
func fakeContainer(t *testing.T, notReadyFor int32) *httptest.Server {
	t.Helper()

	var readyCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/ready", func(w http.ResponseWriter, _ *http.Request) {
		if readyCalls.Add(1) <= notReadyFor {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /meta", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"clip_model":{"name":"ViT-B-32"}}`))
	})
	mux.HandleFunc("POST /vectorize", func(w http.ResponseWriter, r *http.Request) {
		var req vectorizeRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}

		var resp vectorizeResponse

		for _, text := range req.Texts {
			if text == "boom" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(vectorizeResponse{Error: "cannot vectorize"})

				return
			}

			resp.TextVectors = append(resp.TextVectors, []float32{float32(len(text)), 1, 0})
		}

		for _, img := range req.Images {
			data, err := base64.StdEncoding.DecodeString(img)
			assert.NoError(t, err)

			resp.ImageVectors = append(resp.ImageVectors, []float32{0, 1, float32(len(data))})
		}

		_ = json.NewEncoder(w).Encode(resp)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func TestLoad(t *testing.T) {
	server := fakeContainer(t, 2)

	client, err := Load(context.Background(), server.URL+"/", "clip", WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "clip", client.Name())
	assert.Equal(t, 3, client.Dim())
	assert.Contains(t, client.Meta(), "clip_model")
}

func TestLoad_NeverReady(t *testing.T) {
	server := fakeContainer(t, 1<<30)

	_, err := Load(context.Background(), server.URL, "clip",
		WithPollInterval(5*time.Millisecond),
		WithReadyTimeout(50*time.Millisecond),
	)
	require.ErrorIs(t, err, ErrModelUnavailable)
}

func TestClient_Embed(t *testing.T) {
	server := fakeContainer(t, 0)

	client, err := Load(context.Background(), server.URL, "clip", WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("text", func(t *testing.T) {
		vec, err := client.EmbedText(ctx, "ancient rome")
		require.NoError(t, err)
		assert.Equal(t, []float32{12, 1, 0}, vec)
	})

	t.Run("image", func(t *testing.T) {
		vec, err := client.EmbedImage(ctx, []byte{1, 2, 3, 4})
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1, 4}, vec)
	})

	t.Run("whitespace text is embedded", func(t *testing.T) {
		vec, err := client.EmbedText(ctx, "   ")
		require.NoError(t, err)
		assert.Equal(t, []float32{3, 1, 0}, vec)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := client.EmbedText(ctx, "")
		require.ErrorIs(t, err, ErrEmptyInput)

		_, err = client.EmbedImage(ctx, nil)
		require.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("server error", func(t *testing.T) {
		_, err := client.EmbedText(ctx, "boom")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot vectorize")
	})
}
