// Package clip is a client for a CLIP inference container speaking the
// multi2vec-clip protocol. Text and image vectors share one embedding space.
package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var (
	// ErrEmptyInput is returned when EmbedText or EmbedImage is called with empty input.
	ErrEmptyInput = errors.New("clip: input is empty")
	// ErrModelUnavailable is returned when the container does not become ready in time.
	ErrModelUnavailable = errors.New("clip: model unavailable")
	// ErrNoEmbeddingInResponse is returned when the response carries no vector.
	ErrNoEmbeddingInResponse = errors.New("clip: no embedding in response")
	// ErrDimensionMismatch is returned when text and image vectors disagree in length.
	ErrDimensionMismatch = errors.New("clip: embedding dimension mismatch")
)

const (
	defaultReadyTimeout = 2 * time.Minute
	defaultPollInterval = time.Second
	defaultTimeout      = 30 * time.Second
)

// Client calls the inference container. It is safe for concurrent use.
type Client struct {
	baseURL      string
	name         string
	httpClient   *retryablehttp.Client
	readyTimeout time.Duration
	pollInterval time.Duration
	meta         map[string]any
	dim          int
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithReadyTimeout bounds how long Load waits for the container.
func WithReadyTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.readyTimeout = d
	}
}

// WithPollInterval sets the readiness poll interval.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithRetryMax sets the transport retries for vectorize calls.
func WithRetryMax(n int) ClientOption {
	return func(c *Client) {
		c.httpClient.RetryMax = n
	}
}

// Load connects to the model named name at baseURL: it waits for the readiness
// endpoint, reads the model metadata and probes the vector dimensionality.
func Load(ctx context.Context, baseURL, name string, opts ...ClientOption) (*Client, error) {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.HTTPClient.Timeout = defaultTimeout
	retryClient.Logger = nil // Disable logging by default

	client := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		name:         name,
		httpClient:   retryClient,
		readyTimeout: defaultReadyTimeout,
		pollInterval: defaultPollInterval,
	}

	for _, opt := range opts {
		opt(client)
	}

	if err := client.waitReady(ctx); err != nil {
		return nil, err
	}

	if err := client.getJSON(ctx, "/meta", &client.meta); err != nil {
		return nil, fmt.Errorf("clip meta: %w", err)
	}

	probe, err := client.EmbedText(ctx, "a photo")
	if err != nil {
		return nil, fmt.Errorf("clip probe: %w", err)
	}

	client.dim = len(probe)

	slog.Info("CLIP model loaded", "model", name, "url", client.baseURL, "dimensions", client.dim)

	return client, nil
}

// Name returns the model name given to Load.
func (c *Client) Name() string {
	return c.name
}

// Dim returns the vector length produced by the model.
func (c *Client) Dim() int {
	return c.dim
}

// Meta returns the model metadata reported by the container.
func (c *Client) Meta() map[string]any {
	return c.meta
}

type vectorizeRequest struct {
	Texts  []string `json:"texts"`
	Images []string `json:"images"`
}

type vectorizeResponse struct {
	TextVectors  [][]float32 `json:"textVectors"`
	ImageVectors [][]float32 `json:"imageVectors"`
	Error        string      `json:"error"`
}

// EmbedText returns the CLIP text embedding of text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	resp, err := c.vectorize(ctx, vectorizeRequest{Texts: []string{text}, Images: []string{}})
	if err != nil {
		return nil, err
	}

	return c.single(resp.TextVectors)
}

// EmbedImage returns the CLIP image embedding of the encoded image data.
func (c *Client) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	req := vectorizeRequest{Texts: []string{}, Images: []string{base64.StdEncoding.EncodeToString(data)}}

	resp, err := c.vectorize(ctx, req)
	if err != nil {
		return nil, err
	}

	return c.single(resp.ImageVectors)
}

func (c *Client) single(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, ErrNoEmbeddingInResponse
	}

	if c.dim > 0 && len(vectors[0]) != c.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vectors[0]), c.dim)
	}

	return vectors[0], nil
}

func (c *Client) vectorize(ctx context.Context, body vectorizeRequest) (*vectorizeResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/vectorize", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clip vectorize: %w", err)
	}
	defer closeBody(resp)

	var out vectorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("clip vectorize: status %d: failed to decode response: %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return nil, fmt.Errorf("clip vectorize failed with status %d: %s", resp.StatusCode, out.Error)
	}

	return &out, nil
}

// waitReady polls /.well-known/ready until it answers 2xx or readyTimeout elapses.
func (c *Client) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		ready, err := c.ready(ctx)
		if ready {
			return nil
		}

		slog.Debug("Waiting for CLIP inference container", "url", c.baseURL, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w at %s: %w", ErrModelUnavailable, c.baseURL, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) ready(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/.well-known/ready", nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer closeBody(resp)

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Error("Failed to close response body", "error", err)
	}
}
