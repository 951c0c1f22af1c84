package refiner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/justice-rest/intelmem/pkg/llm"
	"github.com/justice-rest/intelmem/pkg/memory"
)

const remoteSystemPrompt = `You refine a search query over a user's stored memories after a retrieval round returned weak results.
Pick one strategy: expansion, decomposition, reformulation, hyde, entity_focus, or none.
Respond with only a JSON object:
{"query": "<refined query>", "type": "<strategy>", "reasoning": "<one sentence>", "alternatives": ["<query>", ...], "entities": ["<entity>", ...], "confidence": <0.0-1.0>}`

// maxHistoryResults bounds how many prior results go into the prompt.
const maxHistoryResults = 5

// Remote refines queries with a completion call.
type Remote struct {
	completer llm.Completer
}

// NewRemote creates a completion-backed refiner.
func NewRemote(completer llm.Completer) *Remote {
	return &Remote{completer: completer}
}

var validTypes = map[Type]bool{
	TypeExpansion:     true,
	TypeDecomposition: true,
	TypeReformulation: true,
	TypeHyDE:          true,
	TypeEntityFocus:   true,
	TypeNone:          true,
}

// Refine rewrites the query, skipping the completion call entirely when the
// current results already grade well.
func (r *Remote) Refine(ctx context.Context, req Request) (*Result, error) {
	if res := skipResult(req); res != nil {
		return res, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Original query: %s\n", req.OriginalQuery)
	fmt.Fprintf(&sb, "Current query: %s\n", req.CurrentQuery)
	fmt.Fprintf(&sb, "Iteration: %d\n", req.Iteration)
	sb.WriteString("Prior results (text, relevance):\n")
	history := req.Graded
	if len(history) > maxHistoryResults {
		history = history[:maxHistoryResults]
	}
	for _, g := range history {
		fmt.Fprintf(&sb, "- %.2f: %s\n", g.Score, g.Text)
	}

	raw, err := r.completer.Complete(ctx, llm.Request{
		System:      remoteSystemPrompt,
		Prompt:      sb.String(),
		Temperature: 0,
		MaxTokens:   400,
	})
	if err != nil {
		return nil, fmt.Errorf("remote refinement: %w", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(extractJSON(raw)), &result); err != nil {
		return nil, fmt.Errorf("%w: malformed refinement response: %v", memory.ErrDependencyFailure, err)
	}
	if result.Query == "" || !validTypes[result.Type] {
		return nil, fmt.Errorf("%w: refinement response missing query or type", memory.ErrDependencyFailure)
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result, nil
}

func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

var _ Refiner = (*Remote)(nil)
