// Package grader scores how well a candidate memory answers a query.
//
// Two implementations share the Grader interface: a remote completion-backed
// scorer and a local lexical heuristic. The Fallback decorator selects
// between them, so degradation never leaks into pipeline logic.
package grader

import (
	"context"
	"strings"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/retrieval/lexical"
)

const (
	// DefaultRelevanceThreshold is the score at which a candidate counts as
	// relevant.
	DefaultRelevanceThreshold = 0.6

	// minCandidateLen short-circuits grading for near-empty candidates.
	minCandidateLen = 3

	// lowOverlapScore is returned when the lexical pre-check finds no
	// shared content at all, skipping the remote round trip.
	lowOverlapScore = 0.05

	// staticBoost and importanceBoost are post-hoc metadata additions,
	// applied after the base score and capped at 1.0.
	staticBoost     = 0.1
	importanceBoost = 0.05

	// highImportance is the stored importance at which importanceBoost
	// applies.
	highImportance = 0.8

	// SourceRemote and SourceHeuristic tag where a grade came from.
	SourceRemote    = "remote"
	SourceHeuristic = "heuristic"
)

// Grade is one scored, explained relevance judgment.
type Grade struct {
	// Score is the final relevance in [0,1], metadata boosts included.
	Score float64 `json:"score"`

	// IsRelevant is Score measured against the grading threshold.
	IsRelevant bool `json:"is_relevant"`

	// Reasoning explains the score in one or two sentences.
	Reasoning string `json:"reasoning"`

	// Factors lists what contributed to the score.
	Factors []string `json:"factors,omitempty"`

	// Confidence is the grader's own confidence in [0,1]. Heuristic grades
	// never exceed 0.6 so consumers can treat them differently.
	Confidence float64 `json:"confidence"`

	// Source is SourceRemote or SourceHeuristic.
	Source string `json:"source"`
}

// Grader scores a candidate record against a query.
type Grader interface {
	Grade(ctx context.Context, query string, candidate *memory.Record) (*Grade, error)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// applyMetadataBoosts adds post-hoc score boosts for static records and high
// stored importance, after the base score is computed.
func applyMetadataBoosts(score float64, rec *memory.Record, factors []string) (float64, []string) {
	if rec.IsStatic {
		score += staticBoost
		factors = append(factors, "static memory")
	}
	if rec.Importance >= highImportance {
		score += importanceBoost
		factors = append(factors, "high stored importance")
	}
	return clamp01(score), factors
}

// precheck returns a short-circuit grade for candidates not worth a remote
// round trip: near-empty text, or zero lexical overlap with the query.
func precheck(query string, rec *memory.Record, threshold float64) *Grade {
	text := strings.TrimSpace(rec.Text)
	if len(text) < minCandidateLen {
		return &Grade{
			Score:      0,
			IsRelevant: false,
			Reasoning:  "candidate text is empty or near-empty",
			Confidence: 1,
			Source:     SourceHeuristic,
		}
	}
	if lexical.Overlap(query, text) == 0 && lexical.BigramOverlap(query, text) == 0 {
		score, factors := applyMetadataBoosts(lowOverlapScore, rec, []string{"no lexical overlap"})
		return &Grade{
			Score:      score,
			IsRelevant: score >= threshold,
			Reasoning:  "no lexical overlap between query and candidate",
			Factors:    factors,
			Confidence: 0.6,
			Source:     SourceHeuristic,
		}
	}
	return nil
}
