package testutils

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/justice-rest/intelmem/pkg/retrieval/lexical"
)

// MockEmbedderDims is the dimensionality of mock embeddings.
const MockEmbedderDims = 16

// MockEmbedder is a test embedder that returns deterministic embeddings.
// Unless overridden per text, vectors are built from hashed content tokens,
// so texts sharing words produce similar vectors and unrelated texts do not.
type MockEmbedder struct {
	Embeddings map[string][]float32

	// FailOn causes Embed to return an error when the input text matches.
	FailOn string

	// Calls counts Embed invocations.
	Calls int
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
	}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.Calls++
	if m.FailOn != "" && text == m.FailOn {
		return nil, fmt.Errorf("mock embedding failure for: %s", text)
	}

	if emb, ok := m.Embeddings[text]; ok {
		return emb, nil
	}

	return TokenEmbedding(text), nil
}

func (m *MockEmbedder) Model() string {
	return "mock-embedder"
}

func (m *MockEmbedder) Close() error {
	return nil
}

// TokenEmbedding builds a deterministic vector by hashing content tokens
// into a fixed number of buckets.
func TokenEmbedding(text string) []float32 {
	vec := make([]float32, MockEmbedderDims)
	for _, tok := range lexical.ContentTokens(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%MockEmbedderDims]++
	}
	// Avoid the zero vector for stop-word-only text.
	empty := true
	for _, v := range vec {
		if v != 0 {
			empty = false
			break
		}
	}
	if empty {
		vec[0] = 1
	}
	return vec
}
