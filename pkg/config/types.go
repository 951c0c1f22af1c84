package config

// Config is the full intelmem configuration, stored as config.toml and
// overridable through INTELMEM_-prefixed environment variables. The TOML
// layout uses sections for logical grouping.
type Config struct {
	Debug bool `mapstructure:"debug" toml:"debug,omitempty"`

	API       APIConfig       `mapstructure:"api" toml:"api"`
	Store     StoreConfig     `mapstructure:"store" toml:"store"`
	Embedding EmbeddingConfig `mapstructure:"embedding" toml:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm" toml:"llm"`
	Cache     CacheConfig     `mapstructure:"cache" toml:"cache"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" toml:"lifecycle"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" toml:"pipeline"`
	Events    EventsConfig    `mapstructure:"events" toml:"events"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Listen string `mapstructure:"listen" toml:"listen,omitempty"`
}

// StoreConfig selects and configures the tiered store backend.
type StoreConfig struct {
	// Provider is "sqlite", "postgres", or "memory".
	Provider string `mapstructure:"provider" toml:"provider,omitempty"`

	SQLitePath  string `mapstructure:"sqlite_path" toml:"sqlite_path,omitempty"`
	PostgresDSN string `mapstructure:"postgres_dsn" toml:"postgres_dsn,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Target     string `mapstructure:"target" toml:"target,omitempty"`
	Model      string `mapstructure:"model" toml:"model,omitempty"`
	Dimensions uint   `mapstructure:"dimensions" toml:"dimensions,omitempty"`

	// CacheCapacity bounds the content-hash embedding cache. Zero disables
	// caching.
	CacheCapacity int `mapstructure:"cache_capacity" toml:"cache_capacity,omitempty"`
}

// LLMConfig holds the completion provider used by grading, refinement, and
// reranking.
type LLMConfig struct {
	Target string `mapstructure:"target" toml:"target,omitempty"`
	Model  string `mapstructure:"model" toml:"model,omitempty"`
}

// CacheConfig holds hot cache bounds.
type CacheConfig struct {
	PerUserMax   int `mapstructure:"per_user_max" toml:"per_user_max,omitempty"`
	MaxUsers     int `mapstructure:"max_users" toml:"max_users,omitempty"`
	TTLSeconds   int `mapstructure:"ttl_seconds" toml:"ttl_seconds,omitempty"`
	SweepSeconds int `mapstructure:"sweep_seconds" toml:"sweep_seconds,omitempty"`
}

// LifecycleConfig holds lifecycle manager thresholds.
type LifecycleConfig struct {
	DedupThreshold       float64 `mapstructure:"dedup_threshold" toml:"dedup_threshold,omitempty"`
	ConsolidateThreshold float64 `mapstructure:"consolidate_threshold" toml:"consolidate_threshold,omitempty"`
	DecayDailyRate       float64 `mapstructure:"decay_daily_rate" toml:"decay_daily_rate,omitempty"`
	DecayMinImportance   float64 `mapstructure:"decay_min_importance" toml:"decay_min_importance,omitempty"`
	AccessBoost          float64 `mapstructure:"access_boost" toml:"access_boost,omitempty"`
	MaxImportance        float64 `mapstructure:"max_importance" toml:"max_importance,omitempty"`
}

// PipelineConfig holds agentic retrieval settings.
type PipelineConfig struct {
	MaxIterations     int     `mapstructure:"max_iterations" toml:"max_iterations,omitempty"`
	Limit             int     `mapstructure:"limit" toml:"limit,omitempty"`
	MinGoodRatio      float64 `mapstructure:"min_good_ratio" toml:"min_good_ratio,omitempty"`
	GradeConcurrency  int     `mapstructure:"grade_concurrency" toml:"grade_concurrency,omitempty"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" toml:"timeout_seconds,omitempty"`
	DisableRefinement bool    `mapstructure:"disable_refinement" toml:"disable_refinement,omitempty"`
	DisableReranking  bool    `mapstructure:"disable_reranking" toml:"disable_reranking,omitempty"`
}

// EventsConfig selects the lifecycle event publisher.
type EventsConfig struct {
	// Provider is "nop" or "kafka".
	Provider string   `mapstructure:"provider" toml:"provider,omitempty"`
	Brokers  []string `mapstructure:"brokers" toml:"brokers,omitempty"`
	Topic    string   `mapstructure:"topic" toml:"topic,omitempty"`
}
