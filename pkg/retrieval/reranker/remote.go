package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/justice-rest/intelmem/pkg/llm"
	"github.com/justice-rest/intelmem/pkg/memory"
)

const remoteSystemPrompt = `You rank stored memories about a user by relevance to a search query.
Given a numbered list of memories, respond with only a JSON object:
{"scores": [<0.0-1.0 for memory 1>, <for memory 2>, ...]}
The scores array must have exactly one entry per memory, in the given order.`

// Remote reranks candidates with a single batch completion call.
type Remote struct {
	completer llm.Completer
}

// NewRemote creates a completion-backed reranker.
func NewRemote(completer llm.Completer) *Remote {
	return &Remote{completer: completer}
}

type remoteRerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank scores the whole batch in one call. Two or fewer candidates skip
// the call entirely. A response with too few scores is padded with a low
// constant rather than failing the whole call; too many scores means the
// model ranked phantom entries and the response is rejected.
func (r *Remote) Rerank(ctx context.Context, query string, candidates []*memory.Record, topN int) ([]Scored, error) {
	if len(candidates) <= 2 {
		return truncate(passthrough(candidates), topN), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nMemories:\n", query)
	for i, rec := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, rec.Text)
	}

	raw, err := r.completer.Complete(ctx, llm.Request{
		System:      remoteSystemPrompt,
		Prompt:      sb.String(),
		Temperature: 0,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, fmt.Errorf("remote reranking: %w", err)
	}

	var resp remoteRerankResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed reranking response: %v", memory.ErrDependencyFailure, err)
	}
	if len(resp.Scores) > len(candidates) {
		return nil, fmt.Errorf("%w: reranker returned %d scores for %d candidates",
			memory.ErrDependencyFailure, len(resp.Scores), len(candidates))
	}

	scored := make([]Scored, len(candidates))
	for i, rec := range candidates {
		score := paddingScore
		if i < len(resp.Scores) {
			score = resp.Scores[i]
			if score < 0 {
				score = 0
			}
			if score > 1 {
				score = 1
			}
		}
		scored[i] = Scored{Record: rec, Score: score}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return truncate(scored, topN), nil
}

func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

var _ Reranker = (*Remote)(nil)
