// Package reranker reorders a final candidate set with a cross-encoder
// style scorer, falling back to a local BM25 approximation.
package reranker

import (
	"context"

	"github.com/justice-rest/intelmem/pkg/memory"
)

// paddingScore fills in for candidates the remote scorer skipped, and for
// placeholder ordering of tiny batches.
const paddingScore = 0.1

// Scored is one reranked candidate.
type Scored struct {
	Record *memory.Record
	Score  float64
}

// Reranker reorders candidates by relevance to the query.
type Reranker interface {
	// Rerank returns all candidates reordered by descending score,
	// truncated to topN when topN is positive.
	Rerank(ctx context.Context, query string, candidates []*memory.Record, topN int) ([]Scored, error)
}

// passthrough returns tiny batches in input order with descending
// placeholder scores: with two or fewer candidates there is nothing for a
// cross-encoder to decide.
func passthrough(candidates []*memory.Record) []Scored {
	out := make([]Scored, len(candidates))
	for i, rec := range candidates {
		out[i] = Scored{Record: rec, Score: 1 - float64(i)*paddingScore}
	}
	return out
}

func truncate(scored []Scored, topN int) []Scored {
	if topN > 0 && len(scored) > topN {
		return scored[:topN]
	}
	return scored
}
