// Package embeddings defines the query embedder used by the search service.
package embeddings

import "context"

// Client embeds queries into the dataset's shared text/image vector space.
// *clip.Client is the production implementation.
type Client interface {
	// EmbedText returns the embedding of a text query.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedImage returns the embedding of encoded image bytes.
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
}

// ModelMock selects the deterministic MockClient instead of a CLIP container.
const ModelMock = "mock"

// DefaultDimensions is the vector length of CLIP ViT-B/32.
const DefaultDimensions = 512
