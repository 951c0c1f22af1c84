package config

const (
	defaultAPIListen = ":8090"

	defaultStoreProvider = "sqlite"
	defaultSQLitePath    = "intelmem.db"

	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768
	defaultEmbeddingCache      = 4096

	defaultLLMTarget = "http://localhost:11434"
	defaultLLMModel  = "llama3.2"

	defaultCachePerUserMax   = 20
	defaultCacheMaxUsers     = 1000
	defaultCacheTTLSeconds   = 300
	defaultCacheSweepSeconds = 60

	defaultDedupThreshold       = 0.9
	defaultConsolidateThreshold = 0.85
	defaultDecayDailyRate       = 0.02
	defaultDecayMinImportance   = 0.1
	defaultAccessBoost          = 0.05
	defaultMaxImportance        = 1.0

	defaultPipelineMaxIterations    = 3
	defaultPipelineLimit            = 10
	defaultPipelineMinGoodRatio     = 0.5
	defaultPipelineGradeConcurrency = 5
	defaultPipelineTimeoutSeconds   = 15

	defaultEventsProvider = "nop"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Store: StoreConfig{
			Provider:   defaultStoreProvider,
			SQLitePath: defaultSQLitePath,
		},
		Embedding: EmbeddingConfig{
			Target:        defaultEmbeddingTarget,
			Model:         defaultEmbeddingModel,
			Dimensions:    defaultEmbeddingDimensions,
			CacheCapacity: defaultEmbeddingCache,
		},
		LLM: LLMConfig{
			Target: defaultLLMTarget,
			Model:  defaultLLMModel,
		},
		Cache: CacheConfig{
			PerUserMax:   defaultCachePerUserMax,
			MaxUsers:     defaultCacheMaxUsers,
			TTLSeconds:   defaultCacheTTLSeconds,
			SweepSeconds: defaultCacheSweepSeconds,
		},
		Lifecycle: LifecycleConfig{
			DedupThreshold:       defaultDedupThreshold,
			ConsolidateThreshold: defaultConsolidateThreshold,
			DecayDailyRate:       defaultDecayDailyRate,
			DecayMinImportance:   defaultDecayMinImportance,
			AccessBoost:          defaultAccessBoost,
			MaxImportance:        defaultMaxImportance,
		},
		Pipeline: PipelineConfig{
			MaxIterations:    defaultPipelineMaxIterations,
			Limit:            defaultPipelineLimit,
			MinGoodRatio:     defaultPipelineMinGoodRatio,
			GradeConcurrency: defaultPipelineGradeConcurrency,
			TimeoutSeconds:   defaultPipelineTimeoutSeconds,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
		},
	}
}
