package reranker

import (
	"context"
	"math"
	"sort"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/retrieval/lexical"
)

// BM25 constants. Standard values; the candidate batch itself serves as the
// corpus, so there is no tuning signal to justify deviating.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// BM25 reranks candidates with a local lexical score, treating the batch as
// its own corpus for document-frequency statistics. Used as the fallback
// when remote reranking fails.
type BM25 struct{}

// NewBM25 creates a local lexical reranker.
func NewBM25() *BM25 {
	return &BM25{}
}

// Rerank scores candidates by BM25 over the batch. Never returns an error.
func (b *BM25) Rerank(_ context.Context, query string, candidates []*memory.Record, topN int) ([]Scored, error) {
	if len(candidates) <= 2 {
		return truncate(passthrough(candidates), topN), nil
	}

	queryTerms := lexical.ContentTokens(query)
	freqs := make([]map[string]int, len(candidates))
	lengths := make([]float64, len(candidates))
	totalLen := 0.0
	docFreq := make(map[string]int)

	for i, rec := range candidates {
		freqs[i] = lexical.TermFrequencies(rec.Text)
		for _, count := range freqs[i] {
			lengths[i] += float64(count)
		}
		totalLen += lengths[i]
		for _, term := range queryTerms {
			if freqs[i][term] > 0 {
				docFreq[term]++
			}
		}
	}
	avgLen := totalLen / float64(len(candidates))
	if avgLen == 0 {
		avgLen = 1
	}

	n := float64(len(candidates))
	scored := make([]Scored, len(candidates))
	for i, rec := range candidates {
		score := 0.0
		for _, term := range queryTerms {
			tf := float64(freqs[i][term])
			if tf == 0 {
				continue
			}
			df := float64(docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			score += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*lengths[i]/avgLen))
		}
		scored[i] = Scored{Record: rec, Score: score}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return truncate(scored, topN), nil
}

var _ Reranker = (*BM25)(nil)
