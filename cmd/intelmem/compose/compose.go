// Package compose builds the memory system from configuration: store
// backend, embedder, event publisher, hot cache, lifecycle manager, and the
// retrieval pipeline. Commands share it so the wiring lives in one place.
package compose

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/config"
	"github.com/justice-rest/intelmem/pkg/embeddings"
	embedollama "github.com/justice-rest/intelmem/pkg/embeddings/ollama"
	"github.com/justice-rest/intelmem/pkg/eventstream"
	"github.com/justice-rest/intelmem/pkg/eventstream/kafka"
	"github.com/justice-rest/intelmem/pkg/eventstream/nop"
	llmollama "github.com/justice-rest/intelmem/pkg/llm/ollama"
	"github.com/justice-rest/intelmem/pkg/memory/hotcache"
	"github.com/justice-rest/intelmem/pkg/memory/lifecycle"
	"github.com/justice-rest/intelmem/pkg/memory/store"
	"github.com/justice-rest/intelmem/pkg/memory/store/inmemory"
	"github.com/justice-rest/intelmem/pkg/memory/store/postgres"
	"github.com/justice-rest/intelmem/pkg/memory/store/sqlitevec"
	"github.com/justice-rest/intelmem/pkg/retrieval"
	"github.com/justice-rest/intelmem/pkg/retrieval/grader"
	"github.com/justice-rest/intelmem/pkg/retrieval/pipeline"
	"github.com/justice-rest/intelmem/pkg/retrieval/refiner"
	"github.com/justice-rest/intelmem/pkg/retrieval/reranker"
)

// System holds the composed components a command works with.
type System struct {
	Store     store.Driver
	Embedder  embeddings.Embedder
	Publisher eventstream.Publisher
	Cache     *hotcache.Cache
	Manager   *lifecycle.Manager
	Engine    *pipeline.Engine
	Profiles  *retrieval.ProfileLoader
}

// Close releases the system's resources in dependency order.
func (s *System) Close() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Embedder != nil {
		s.Embedder.Close()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}

// Build composes the full system from configuration.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*System, error) {
	s := &System{}

	var err error
	s.Store, err = buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s.Embedder, err = buildEmbedder(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Publisher, err = buildPublisher(cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Cache = hotcache.NewCache(hotcache.Config{
		PerUserMax:    cfg.Cache.PerUserMax,
		MaxUsers:      cfg.Cache.MaxUsers,
		TTL:           time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		SweepInterval: time.Duration(cfg.Cache.SweepSeconds) * time.Second,
	}, logger)

	s.Manager = lifecycle.NewManager(lifecycle.Config{
		DedupThreshold:       cfg.Lifecycle.DedupThreshold,
		ConsolidateThreshold: cfg.Lifecycle.ConsolidateThreshold,
	}, s.Store, s.Embedder, s.Cache, s.Publisher, logger)

	completer, err := llmollama.NewCompleter(llmollama.Config{
		BaseURL: cfg.LLM.Target,
		Model:   cfg.LLM.Model,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating completer: %w", err)
	}

	searcher := retrieval.NewSearcher(retrieval.Config{
		Limit: cfg.Pipeline.Limit,
	}, s.Store, s.Embedder, logger)

	grade := grader.NewFallback(
		grader.NewRemote(completer, grader.DefaultRelevanceThreshold),
		grader.NewHeuristic(grader.DefaultRelevanceThreshold),
		logger,
	)
	refine := refiner.NewFallback(refiner.NewRemote(completer), refiner.NewHeuristic(), logger)
	rerank := reranker.NewFallback(reranker.NewRemote(completer), reranker.NewBM25(), logger)

	s.Engine = pipeline.NewEngine(pipeline.Config{
		MaxIterations:     cfg.Pipeline.MaxIterations,
		Limit:             cfg.Pipeline.Limit,
		MinGoodRatio:      cfg.Pipeline.MinGoodRatio,
		GradeConcurrency:  cfg.Pipeline.GradeConcurrency,
		Timeout:           time.Duration(cfg.Pipeline.TimeoutSeconds) * time.Second,
		DisableRefinement: cfg.Pipeline.DisableRefinement,
		DisableReranking:  cfg.Pipeline.DisableReranking,
	}, searcher, grade, refine, rerank, logger)

	s.Profiles = retrieval.NewProfileLoader(s.Store, s.Cache)

	return s, nil
}

func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Driver, error) {
	switch cfg.Store.Provider {
	case "sqlite":
		driver, err := sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     cfg.Store.SQLitePath,
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite store: %w", err)
		}
		logger.Info("using SQLite store", zap.String("path", cfg.Store.SQLitePath))
		return driver, nil
	case "postgres":
		driver, err := postgres.NewDriver(ctx, postgres.Config{
			ConnStr:    cfg.Store.PostgresDSN,
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		logger.Info("using PostgreSQL store")
		return driver, nil
	case "memory":
		logger.Info("using in-memory store")
		return inmemory.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}
}

func buildEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	embedder, err := embedollama.NewEmbedder(embedollama.Config{
		BaseURL: cfg.Embedding.Target,
		Model:   cfg.Embedding.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	if cfg.Embedding.CacheCapacity > 0 {
		return embeddings.NewCached(embedder, cfg.Embedding.CacheCapacity, embeddings.DefaultCacheTTL), nil
	}
	return embedder, nil
}

func buildPublisher(cfg *config.Config, logger *zap.Logger) (eventstream.Publisher, error) {
	switch cfg.Events.Provider {
	case "kafka":
		publisher, err := kafka.NewPublisher(kafka.Config{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		return publisher, nil
	case "nop", "":
		return nop.NewPublisher(), nil
	default:
		return nil, fmt.Errorf("unknown events provider %q", cfg.Events.Provider)
	}
}
