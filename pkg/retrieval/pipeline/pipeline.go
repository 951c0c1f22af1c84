// Package pipeline implements the iterative retrieve-grade-refine-rerank
// loop over a user's memories.
//
// The loop is a small state machine: each iteration searches with the
// current query, grades only candidates it has not seen before, and either
// finishes with enough relevant results or asks the refiner for a better
// query. Termination is unconditional: sufficiency, an unchanged refined
// query, the iteration cap, cancellation, or an error all complete the loop,
// and completion always returns whatever was accumulated so far.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/store"
	"github.com/justice-rest/intelmem/pkg/retrieval"
	"github.com/justice-rest/intelmem/pkg/retrieval/grader"
	"github.com/justice-rest/intelmem/pkg/retrieval/refiner"
	"github.com/justice-rest/intelmem/pkg/retrieval/reranker"
)

const (
	// DefaultMaxIterations bounds the retrieve-grade-refine loop.
	DefaultMaxIterations = 3

	// DefaultLimit is the result count target per search.
	DefaultLimit = 10

	// DefaultMinGoodRatio is the sufficiency bar: the loop completes when
	// relevant results reach limit×ratio or the relevant fraction reaches
	// the ratio.
	DefaultMinGoodRatio = 0.5

	// DefaultGradeConcurrency bounds concurrent grading calls. Each grade
	// is a pure function of (query, candidate), so only the remote scorer's
	// capacity limits parallelism.
	DefaultGradeConcurrency = 5

	// DefaultTimeout bounds one whole pipeline invocation.
	DefaultTimeout = 15 * time.Second
)

// Completion reasons reported in Result.CompletionReason.
const (
	ReasonSufficientResults = "sufficient_results"
	ReasonMaxIterations     = "max_iterations"
	ReasonNoImprovement     = "no_improvement"
	ReasonTimeout           = "timeout"
	ReasonError             = "error"
)

// Config holds configuration for the pipeline engine.
type Config struct {
	// MaxIterations defaults to DefaultMaxIterations.
	MaxIterations int

	// Limit defaults to DefaultLimit.
	Limit int

	// MinGoodRatio defaults to DefaultMinGoodRatio.
	MinGoodRatio float64

	// GradeConcurrency defaults to DefaultGradeConcurrency.
	GradeConcurrency int

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	// DisableRefinement keeps the query fixed across iterations.
	DisableRefinement bool

	// DisableReranking skips the post-loop rerank.
	DisableReranking bool
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.MinGoodRatio <= 0 {
		c.MinGoodRatio = DefaultMinGoodRatio
	}
	if c.GradeConcurrency <= 0 {
		c.GradeConcurrency = DefaultGradeConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Searcher is the hybrid search dependency.
type Searcher interface {
	Search(ctx context.Context, query, userID string, limit int, filters store.Filters) ([]retrieval.Candidate, error)
}

// Candidate is one accumulated pipeline result: the retrieved record, its
// retrieval similarity, and its relevance grade.
type Candidate struct {
	Record     *memory.Record `json:"record"`
	Similarity float64        `json:"similarity"`
	Grade      *grader.Grade  `json:"grade"`
}

// Result is the outcome of one pipeline invocation.
type Result struct {
	Candidates []Candidate `json:"candidates"`

	Iterations       int    `json:"iterations"`
	CompletionReason string `json:"completion_reason"`
	FinalQuery       string `json:"final_query"`

	// Refinements records each adopted query rewrite, in order.
	Refinements []*refiner.Result `json:"refinements,omitempty"`
}

// Engine runs the agentic retrieval loop.
type Engine struct {
	config   Config
	searcher Searcher
	grader   grader.Grader
	refiner  refiner.Refiner
	reranker reranker.Reranker
	logger   *zap.Logger
}

// NewEngine creates a pipeline engine.
func NewEngine(config Config, searcher Searcher, g grader.Grader, r refiner.Refiner, rr reranker.Reranker, logger *zap.Logger) *Engine {
	config.applyDefaults()
	return &Engine{
		config:   config,
		searcher: searcher,
		grader:   g,
		refiner:  r,
		reranker: rr,
		logger:   logger,
	}
}

// Retrieve runs the loop for one query. Errors after the first candidate was
// accumulated complete the pipeline with partial results instead of failing;
// only invalid input returns an error.
func (e *Engine) Retrieve(ctx context.Context, query, userID string, filters store.Filters) (*Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", memory.ErrInvalidInput)
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", memory.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	result := &Result{FinalQuery: query}
	seen := make(map[string]bool)
	currentQuery := query

	for iteration := 1; iteration <= e.config.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			result.CompletionReason = ReasonTimeout
			break
		}
		result.Iterations = iteration

		candidates, err := e.searcher.Search(ctx, currentQuery, userID, e.config.Limit, filters)
		if err != nil {
			e.logger.Warn("pipeline search failed",
				zap.Int("iteration", iteration),
				zap.Error(err),
			)
			result.CompletionReason = reasonForError(ctx)
			break
		}

		var fresh []Candidate
		for _, cand := range candidates {
			if seen[cand.Record.ID] {
				continue
			}
			seen[cand.Record.ID] = true
			fresh = append(fresh, Candidate{Record: cand.Record, Similarity: cand.Similarity})
		}
		e.gradeAll(ctx, currentQuery, fresh)
		result.Candidates = append(result.Candidates, fresh...)

		if e.sufficient(result.Candidates) {
			result.CompletionReason = ReasonSufficientResults
			break
		}

		if e.config.DisableRefinement || iteration == e.config.MaxIterations {
			continue
		}

		refined, err := e.refiner.Refine(ctx, refiner.Request{
			OriginalQuery: query,
			CurrentQuery:  currentQuery,
			Graded:        gradedHistory(result.Candidates),
			Iteration:     iteration,
		})
		if err != nil {
			e.logger.Warn("pipeline refinement failed",
				zap.Int("iteration", iteration),
				zap.Error(err),
			)
			result.CompletionReason = reasonForError(ctx)
			break
		}
		if refined.Query == currentQuery || refined.Type == refiner.TypeNone {
			result.CompletionReason = ReasonNoImprovement
			break
		}
		result.Refinements = append(result.Refinements, refined)
		currentQuery = refined.Query
	}

	if result.CompletionReason == "" {
		result.CompletionReason = ReasonMaxIterations
	}
	result.FinalQuery = currentQuery

	e.finalize(ctx, query, result)

	e.logger.Debug("pipeline completed",
		zap.String("user_id", userID),
		zap.String("reason", result.CompletionReason),
		zap.Int("iterations", result.Iterations),
		zap.Int("candidates", len(result.Candidates)),
	)
	return result, nil
}

func reasonForError(ctx context.Context) string {
	if ctx.Err() != nil {
		return ReasonTimeout
	}
	return ReasonError
}

// gradeAll grades fresh candidates with bounded concurrency. A failed grade
// becomes a zero score rather than aborting the iteration.
func (e *Engine) gradeAll(ctx context.Context, query string, fresh []Candidate) {
	if len(fresh) == 0 {
		return
	}

	sem := make(chan struct{}, e.config.GradeConcurrency)
	var wg sync.WaitGroup
	for i := range fresh {
		wg.Add(1)
		sem <- struct{}{}
		go func(cand *Candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			grade, err := e.grader.Grade(ctx, query, cand.Record)
			if err != nil {
				e.logger.Warn("grading failed",
					zap.String("candidate_id", cand.Record.ID),
					zap.Error(err),
				)
				grade = &grader.Grade{
					Reasoning: "grading unavailable",
					Source:    grader.SourceHeuristic,
				}
			}
			cand.Grade = grade
		}(&fresh[i])
	}
	wg.Wait()
}

func (e *Engine) sufficient(candidates []Candidate) bool {
	if len(candidates) == 0 {
		return false
	}
	relevant := 0
	for _, cand := range candidates {
		if cand.Grade != nil && cand.Grade.IsRelevant {
			relevant++
		}
	}
	ratio := float64(relevant) / float64(len(candidates))
	return float64(relevant) >= float64(e.config.Limit)*e.config.MinGoodRatio ||
		ratio >= e.config.MinGoodRatio
}

func gradedHistory(candidates []Candidate) []refiner.GradedResult {
	out := make([]refiner.GradedResult, 0, len(candidates))
	for _, cand := range candidates {
		score := 0.0
		if cand.Grade != nil {
			score = cand.Grade.Score
		}
		out = append(out, refiner.GradedResult{Text: cand.Record.Text, Score: score})
	}
	return out
}

// finalize orders the accumulated set and truncates to the limit. With more
// than two candidates and reranking enabled the reranker decides the order;
// otherwise grade score then retrieval similarity does. Grading data rides
// along unchanged either way.
func (e *Engine) finalize(ctx context.Context, query string, result *Result) {
	if len(result.Candidates) > 2 && !e.config.DisableReranking {
		records := make([]*memory.Record, len(result.Candidates))
		byID := make(map[string]Candidate, len(result.Candidates))
		for i, cand := range result.Candidates {
			records[i] = cand.Record
			byID[cand.Record.ID] = cand
		}

		scored, err := e.reranker.Rerank(ctx, query, records, 0)
		if err != nil {
			e.logger.Warn("reranking failed, keeping grade order", zap.Error(err))
		} else {
			reordered := make([]Candidate, 0, len(scored))
			for _, s := range scored {
				reordered = append(reordered, byID[s.Record.ID])
			}
			result.Candidates = reordered
		}
	} else {
		sort.SliceStable(result.Candidates, func(i, j int) bool {
			gi, gj := 0.0, 0.0
			if result.Candidates[i].Grade != nil {
				gi = result.Candidates[i].Grade.Score
			}
			if result.Candidates[j].Grade != nil {
				gj = result.Candidates[j].Grade.Score
			}
			if gi != gj {
				return gi > gj
			}
			return result.Candidates[i].Similarity > result.Candidates[j].Similarity
		})
	}

	if len(result.Candidates) > e.config.Limit {
		result.Candidates = result.Candidates[:e.config.Limit]
	}
}
