package embeddings

import (
	"context"
	"crypto/sha256"
	"errors"

	vectors "github.com/rjadr/historymemes/pkg/embeddings"
)

// ErrEmptyInput is returned by MockClient for empty text or image input.
var ErrEmptyInput = errors.New("embeddings: input is empty")

// MockClient returns deterministic unit vectors derived from the SHA-256 of the input.
// Used in tests and for running the service without an inference container.
type MockClient struct {
	dimensions int
}

// NewMockClient creates a mock client producing CLIP-sized vectors.
func NewMockClient() *MockClient {
	return &MockClient{dimensions: DefaultDimensions}
}

// NewMockClientWithDimensions creates a mock client with custom dimensions.
func NewMockClientWithDimensions(dimensions int) *MockClient {
	return &MockClient{dimensions: dimensions}
}

// EmbedText implements Client.
func (c *MockClient) EmbedText(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	return c.vector("text:", []byte(text)), nil
}

// EmbedImage implements Client.
func (c *MockClient) EmbedImage(_ context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	return c.vector("image:", data), nil
}

// vector spreads the hash bytes cyclically over [-1, 1] and normalizes the result.
func (c *MockClient) vector(prefix string, data []byte) []float32 {
	hash := sha256.Sum256(append([]byte(prefix), data...))

	vec := make([]float32, c.dimensions)
	for i := range vec {
		vec[i] = float32(hash[i%len(hash)])/127.5 - 1.0
	}

	vectors.NormalizeL2(vec)

	return vec
}

var _ Client = (*MockClient)(nil)
