package grader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/memory"
)

// Fallback grades with a primary grader and degrades to a secondary on any
// primary failure. Degradation is logged, never surfaced: the read path
// prefers a lower-confidence grade over no grade.
type Fallback struct {
	primary   Grader
	secondary Grader
	logger    *zap.Logger
}

// NewFallback creates a fallback grader.
func NewFallback(primary, secondary Grader, logger *zap.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Grade tries the primary grader and falls back on failure.
func (f *Fallback) Grade(ctx context.Context, query string, candidate *memory.Record) (*Grade, error) {
	grade, err := f.primary.Grade(ctx, query, candidate)
	if err == nil {
		return grade, nil
	}

	f.logger.Warn("primary grader failed, using heuristic fallback",
		zap.String("candidate_id", candidate.ID),
		zap.Error(err),
	)
	grade, err = f.secondary.Grade(ctx, query, candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: fallback grading: %v", memory.ErrDependencyFailure, err)
	}
	return grade, nil
}

var _ Grader = (*Fallback)(nil)
