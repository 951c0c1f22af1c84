// Package llm defines the completion client used by the retrieval engine's
// grader, refiner, and reranker.
package llm

import (
	"context"
	"errors"
)

// ErrCompletion indicates a completion request failed. Callers in the
// retrieval path treat it as a signal to fall back to local heuristics.
var ErrCompletion = errors.New("completion failed")

// Request is a single completion call. Scoring components send a system
// prompt describing the task and a user prompt carrying the data, and expect
// a JSON object back.
type Request struct {
	System string
	Prompt string

	// Temperature defaults to the provider's; scoring calls pin it to 0.
	Temperature float64

	// MaxTokens caps the response length when non-zero.
	MaxTokens int
}

// Completer produces a text completion for a request.
type Completer interface {
	// Complete returns the model's raw text response.
	Complete(ctx context.Context, req Request) (string, error)

	// Model returns the configured model identifier.
	Model() string

	// Close releases client resources.
	Close() error
}
