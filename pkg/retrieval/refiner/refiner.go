// Package refiner rewrites retrieval queries between pipeline iterations
// based on how the previous iteration's results graded.
package refiner

import (
	"context"
)

// Type names the refinement strategy that produced a rewritten query.
type Type string

const (
	// TypeExpansion broadens the query with synonyms or related terms.
	TypeExpansion Type = "expansion"

	// TypeDecomposition splits a compound query into sub-queries.
	TypeDecomposition Type = "decomposition"

	// TypeReformulation rephrases the query without changing intent.
	TypeReformulation Type = "reformulation"

	// TypeHyDE replaces the query with a hypothetical answer document.
	TypeHyDE Type = "hyde"

	// TypeEntityFocus narrows the query to its key entities.
	TypeEntityFocus Type = "entity_focus"

	// TypeNone means the query was left unchanged.
	TypeNone Type = "none"
)

// skipRelevance is the average relevance at which refinement is skipped:
// the current results are already good enough that a rewrite risks drift.
const skipRelevance = 0.7

// GradedResult is one prior result with its relevance score, the refiner's
// view of pipeline history.
type GradedResult struct {
	Text  string
	Score float64
}

// Request carries the refinement context for one iteration.
type Request struct {
	OriginalQuery string
	CurrentQuery  string
	Graded        []GradedResult
	Iteration     int
}

// Result is a refined query with its provenance.
type Result struct {
	// Query is the query to use next. Equal to the current query when
	// Type is TypeNone.
	Query string `json:"query"`

	Type      Type   `json:"type"`
	Reasoning string `json:"reasoning,omitempty"`

	// Alternatives holds up to a few other candidate rewrites.
	Alternatives []string `json:"alternatives,omitempty"`

	// Entities lists entities extracted from the query.
	Entities []string `json:"entities,omitempty"`

	Confidence float64 `json:"confidence"`
}

// Refiner produces a refined query for the next pipeline iteration.
type Refiner interface {
	Refine(ctx context.Context, req Request) (*Result, error)
}

func averageScore(graded []GradedResult) float64 {
	if len(graded) == 0 {
		return 0
	}
	sum := 0.0
	for _, g := range graded {
		sum += g.Score
	}
	return sum / float64(len(graded))
}

// skipResult returns a TypeNone result when current results already grade
// well enough, or nil when refinement should proceed.
func skipResult(req Request) *Result {
	if len(req.Graded) == 0 || averageScore(req.Graded) < skipRelevance {
		return nil
	}
	return &Result{
		Query:      req.CurrentQuery,
		Type:       TypeNone,
		Reasoning:  "current results are already relevant enough",
		Confidence: 1,
	}
}
