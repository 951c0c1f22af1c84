package reranker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/memory"
)

// Fallback reranks with a primary reranker and degrades to a secondary on
// failure.
type Fallback struct {
	primary   Reranker
	secondary Reranker
	logger    *zap.Logger
}

// NewFallback creates a fallback reranker.
func NewFallback(primary, secondary Reranker, logger *zap.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Rerank tries the primary reranker and falls back on failure.
func (f *Fallback) Rerank(ctx context.Context, query string, candidates []*memory.Record, topN int) ([]Scored, error) {
	scored, err := f.primary.Rerank(ctx, query, candidates, topN)
	if err == nil {
		return scored, nil
	}

	f.logger.Warn("primary reranker failed, using local fallback",
		zap.Int("candidates", len(candidates)),
		zap.Error(err),
	)
	scored, err = f.secondary.Rerank(ctx, query, candidates, topN)
	if err != nil {
		return nil, fmt.Errorf("%w: fallback reranking: %v", memory.ErrDependencyFailure, err)
	}
	return scored, nil
}

var _ Reranker = (*Fallback)(nil)
