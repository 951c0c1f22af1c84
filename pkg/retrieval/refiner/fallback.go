package refiner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/memory"
)

// Fallback refines with a primary refiner and degrades to a secondary on
// failure.
type Fallback struct {
	primary   Refiner
	secondary Refiner
	logger    *zap.Logger
}

// NewFallback creates a fallback refiner.
func NewFallback(primary, secondary Refiner, logger *zap.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Refine tries the primary refiner and falls back on failure.
func (f *Fallback) Refine(ctx context.Context, req Request) (*Result, error) {
	result, err := f.primary.Refine(ctx, req)
	if err == nil {
		return result, nil
	}

	f.logger.Warn("primary refiner failed, using heuristic fallback",
		zap.Int("iteration", req.Iteration),
		zap.Error(err),
	)
	result, err = f.secondary.Refine(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: fallback refinement: %v", memory.ErrDependencyFailure, err)
	}
	return result, nil
}

var _ Refiner = (*Fallback)(nil)
