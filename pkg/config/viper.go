package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads config.toml from the
// given directory (if present), and binds environment variables with the
// INTELMEM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound by the command layer)
//  2. Environment variables (INTELMEM_API_LISTEN, INTELMEM_STORE_PROVIDER, ...)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("INTELMEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// Load resolves the effective configuration from a prepared viper instance.
func Load(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of
// truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("debug", d.Debug)

	v.SetDefault("api.listen", d.API.Listen)

	v.SetDefault("store.provider", d.Store.Provider)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.postgres_dsn", d.Store.PostgresDSN)

	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.cache_capacity", d.Embedding.CacheCapacity)

	v.SetDefault("llm.target", d.LLM.Target)
	v.SetDefault("llm.model", d.LLM.Model)

	v.SetDefault("cache.per_user_max", d.Cache.PerUserMax)
	v.SetDefault("cache.max_users", d.Cache.MaxUsers)
	v.SetDefault("cache.ttl_seconds", d.Cache.TTLSeconds)
	v.SetDefault("cache.sweep_seconds", d.Cache.SweepSeconds)

	v.SetDefault("lifecycle.dedup_threshold", d.Lifecycle.DedupThreshold)
	v.SetDefault("lifecycle.consolidate_threshold", d.Lifecycle.ConsolidateThreshold)
	v.SetDefault("lifecycle.decay_daily_rate", d.Lifecycle.DecayDailyRate)
	v.SetDefault("lifecycle.decay_min_importance", d.Lifecycle.DecayMinImportance)
	v.SetDefault("lifecycle.access_boost", d.Lifecycle.AccessBoost)
	v.SetDefault("lifecycle.max_importance", d.Lifecycle.MaxImportance)

	v.SetDefault("pipeline.max_iterations", d.Pipeline.MaxIterations)
	v.SetDefault("pipeline.limit", d.Pipeline.Limit)
	v.SetDefault("pipeline.min_good_ratio", d.Pipeline.MinGoodRatio)
	v.SetDefault("pipeline.grade_concurrency", d.Pipeline.GradeConcurrency)
	v.SetDefault("pipeline.timeout_seconds", d.Pipeline.TimeoutSeconds)
	v.SetDefault("pipeline.disable_refinement", d.Pipeline.DisableRefinement)
	v.SetDefault("pipeline.disable_reranking", d.Pipeline.DisableReranking)

	v.SetDefault("events.provider", d.Events.Provider)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
}
