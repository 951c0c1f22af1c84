// Package retrieval implements hybrid memory search: vector similarity from
// the tiered store blended with lexical keyword matches.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/embeddings"
	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/store"
	"github.com/justice-rest/intelmem/pkg/retrieval/lexical"
)

const (
	// DefaultLimit caps search results when the caller does not.
	DefaultLimit = 10

	// DefaultSimilarityThreshold drops vector matches below this cosine.
	DefaultSimilarityThreshold = 0.3

	// DefaultStoreTimeout bounds one store round trip. Deliberately much
	// shorter than the embedding timeout: a similarity query is tens of
	// milliseconds, and a shared budget would let a slow store call hide
	// behind the embedding allowance.
	DefaultStoreTimeout = 500 * time.Millisecond

	// vectorWeight and keywordWeight blend the two score sources for
	// records found by both.
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

// Config holds configuration for the searcher.
type Config struct {
	// Limit defaults to DefaultLimit.
	Limit int

	// SimilarityThreshold defaults to DefaultSimilarityThreshold.
	SimilarityThreshold float64

	// StoreTimeout defaults to DefaultStoreTimeout.
	StoreTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
}

// Candidate is one scored search result.
type Candidate struct {
	Record *memory.Record

	// Similarity is the blended retrieval score in [0,1].
	Similarity float64
}

// Searcher runs hybrid searches against the tiered store.
type Searcher struct {
	config   Config
	store    store.Driver
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// NewSearcher creates a hybrid searcher.
func NewSearcher(config Config, s store.Driver, embedder embeddings.Embedder, logger *zap.Logger) *Searcher {
	config.applyDefaults()
	return &Searcher{
		config:   config,
		store:    s,
		embedder: embedder,
		logger:   logger,
	}
}

// Search embeds the query and returns up to limit candidates for the user,
// blending vector similarity with keyword coverage. Keyword failure degrades
// to vector-only results; vector failure is surfaced, since without it there
// is nothing to rank.
func (s *Searcher) Search(ctx context.Context, query, userID string, limit int, filters store.Filters) ([]Candidate, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", memory.ErrInvalidInput)
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", memory.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = s.config.Limit
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	matches, err := s.store.Similar(storeCtx, store.SimilarityQuery{
		UserID:    userID,
		Embedding: embedding,
		Threshold: s.config.SimilarityThreshold,
		Limit:     limit,
		Filters:   filters,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: similarity query: %v", memory.ErrDependencyTimeout, err)
		}
		return nil, fmt.Errorf("similarity query: %w", err)
	}

	scores := make(map[string]float64, len(matches))
	records := make(map[string]*memory.Record, len(matches))
	for _, match := range matches {
		records[match.Record.ID] = match.Record
		scores[match.Record.ID] = vectorWeight * match.Score
	}

	terms := lexical.ContentTokens(query)
	if len(terms) > 0 {
		kwCtx, kwCancel := context.WithTimeout(ctx, s.config.StoreTimeout)
		defer kwCancel()

		keywordMatches, err := s.store.Keyword(kwCtx, userID, terms, limit, filters)
		if err != nil {
			s.logger.Warn("keyword search failed, using vector results only",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		} else {
			for _, match := range keywordMatches {
				if _, seen := records[match.Record.ID]; !seen {
					records[match.Record.ID] = match.Record
				}
				scores[match.Record.ID] += keywordWeight * match.Score
			}
		}
	}

	candidates := make([]Candidate, 0, len(records))
	for id, rec := range records {
		score := scores[id]
		if score > 1 {
			score = 1
		}
		candidates = append(candidates, Candidate{Record: rec, Similarity: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
