// Package embeddings provides text embedding for the memory store and the
// retrieval pipeline.
package embeddings

import (
	"context"
	"errors"
)

// ErrEmbedding is returned when embedding generation fails.
var ErrEmbedding = errors.New("embedding failed")

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the embedding model identifier. Vectors from different
	// model identifiers are never compared.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}
