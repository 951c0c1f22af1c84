package grader

import (
	"context"
	"strings"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/retrieval/lexical"
)

const (
	// heuristicConfidence marks heuristic grades as lower-confidence.
	heuristicConfidence = 0.5

	keywordWeight   = 0.4
	bigramWeight    = 0.2
	substringWeight = 0.25
	lengthWeight    = 0.15

	// idealLength is the candidate length at which the length factor
	// saturates. Very short candidates carry little signal.
	idealLength = 80
)

// Heuristic grades candidates with a deterministic lexical blend: keyword
// overlap, bigram overlap, exact substring match, and content length. Used
// as the fallback when remote grading fails.
type Heuristic struct {
	threshold float64
}

// NewHeuristic creates a lexical grader. A non-positive threshold falls back
// to DefaultRelevanceThreshold.
func NewHeuristic(threshold float64) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultRelevanceThreshold
	}
	return &Heuristic{threshold: threshold}
}

// Grade scores one candidate. Never returns an error.
func (h *Heuristic) Grade(_ context.Context, query string, candidate *memory.Record) (*Grade, error) {
	if grade := precheck(query, candidate, h.threshold); grade != nil {
		return grade, nil
	}

	text := candidate.Text
	overlap := lexical.Overlap(query, text)
	bigram := lexical.BigramOverlap(query, text)

	substring := 0.0
	if strings.Contains(strings.ToLower(text), strings.ToLower(strings.TrimSpace(query))) {
		substring = 1.0
	}

	length := float64(len(text)) / idealLength
	if length > 1 {
		length = 1
	}

	base := keywordWeight*overlap + bigramWeight*bigram + substringWeight*substring + lengthWeight*length

	var factors []string
	if overlap > 0 {
		factors = append(factors, "keyword overlap")
	}
	if bigram > 0 {
		factors = append(factors, "phrase overlap")
	}
	if substring == 1 {
		factors = append(factors, "exact substring match")
	}

	score, factors := applyMetadataBoosts(clamp01(base), candidate, factors)
	return &Grade{
		Score:      score,
		IsRelevant: score >= h.threshold,
		Reasoning:  "lexical similarity between query and candidate",
		Factors:    factors,
		Confidence: heuristicConfidence,
		Source:     SourceHeuristic,
	}, nil
}

var _ Grader = (*Heuristic)(nil)
