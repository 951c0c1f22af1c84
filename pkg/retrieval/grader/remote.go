package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/justice-rest/intelmem/pkg/llm"
	"github.com/justice-rest/intelmem/pkg/memory"
)

const remoteSystemPrompt = `You grade how well a stored memory about a user answers a search query.
Respond with only a JSON object:
{"score": <0.0-1.0>, "reasoning": "<one sentence>", "factors": ["<factor>", ...], "confidence": <0.0-1.0>}`

// Remote grades candidates with a completion call.
type Remote struct {
	completer llm.Completer
	threshold float64
}

// NewRemote creates a completion-backed grader. A non-positive threshold
// falls back to DefaultRelevanceThreshold.
func NewRemote(completer llm.Completer, threshold float64) *Remote {
	if threshold <= 0 {
		threshold = DefaultRelevanceThreshold
	}
	return &Remote{completer: completer, threshold: threshold}
}

type remoteGradeResponse struct {
	Score      float64  `json:"score"`
	Reasoning  string   `json:"reasoning"`
	Factors    []string `json:"factors"`
	Confidence float64  `json:"confidence"`
}

// Grade scores one candidate. Near-empty candidates and candidates with zero
// lexical overlap are answered locally without a completion call.
func (r *Remote) Grade(ctx context.Context, query string, candidate *memory.Record) (*Grade, error) {
	if grade := precheck(query, candidate, r.threshold); grade != nil {
		return grade, nil
	}

	prompt := fmt.Sprintf("Query: %s\n\nMemory: %s", query, candidate.Text)
	raw, err := r.completer.Complete(ctx, llm.Request{
		System:      remoteSystemPrompt,
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   300,
	})
	if err != nil {
		return nil, fmt.Errorf("remote grading: %w", err)
	}

	var resp remoteGradeResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed grading response: %v", memory.ErrDependencyFailure, err)
	}

	score, factors := applyMetadataBoosts(clamp01(resp.Score), candidate, resp.Factors)
	return &Grade{
		Score:      score,
		IsRelevant: score >= r.threshold,
		Reasoning:  resp.Reasoning,
		Factors:    factors,
		Confidence: clamp01(resp.Confidence),
		Source:     SourceRemote,
	}, nil
}

// extractJSON strips any prose around the first JSON object in a completion.
// Models occasionally wrap the object in markdown fences or a lead-in
// sentence despite the prompt.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

var _ Grader = (*Remote)(nil)
