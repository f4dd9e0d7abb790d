// Package config loads service configuration from YAML with environment
// overrides. Every boundary knob the service consumes (storage connection,
// cache TTL, pool cap, timeouts, batch limits, scoring weights) lives here
// rather than as a hard-coded constant.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/synapselabs/partnermatch/core/ranking"
	"github.com/synapselabs/partnermatch/persistence"
)

// Config represents the complete partnermatch configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Persistence configuration
	Persistence persistence.PersistenceConfig `yaml:"persistence" json:"persistence"`

	// Serving cache configuration
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Feature store configuration
	Store StoreConfig `yaml:"store" json:"store"`

	// Ranking engine configuration
	Ranking RankingConfig `yaml:"ranking" json:"ranking"`

	// RPC surface configuration
	RPC RPCConfig `yaml:"rpc" json:"rpc"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// CacheConfig selects and tunes the serving cache backend.
type CacheConfig struct {
	// Backend: "memory" or "redis"
	Backend string `yaml:"backend" json:"backend"`

	// TTL for cached online records
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// MaxEntries bounds the memory backend
	MaxEntries int `yaml:"max_entries" json:"max_entries"`

	// Redis connection settings, used when Backend is "redis"
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
}

// StoreConfig tunes the feature store.
type StoreConfig struct {
	// DefaultFeatureView served when requests name none
	DefaultFeatureView string `yaml:"default_feature_view" json:"default_feature_view"`

	// MaxBatchSize bounds GetOnlineFeatures batches
	MaxBatchSize int `yaml:"max_batch_size" json:"max_batch_size"`

	// StalenessBound flags served records older than this
	StalenessBound time.Duration `yaml:"staleness_bound" json:"staleness_bound"`
}

// RankingConfig tunes the recommendation engine.
type RankingConfig struct {
	Weights          ranking.Weights `yaml:"weights" json:"weights"`
	TopKDefault      int             `yaml:"top_k_default" json:"top_k_default"`
	TopKMax          int             `yaml:"top_k_max" json:"top_k_max"`
	PoolMax          int             `yaml:"pool_max" json:"pool_max"`
	Concurrency      int             `yaml:"concurrency" json:"concurrency"`
	BatchConcurrency int             `yaml:"batch_concurrency" json:"batch_concurrency"`
	RequestTimeout   time.Duration   `yaml:"request_timeout" json:"request_timeout"`
	LookupTimeout    time.Duration   `yaml:"lookup_timeout" json:"lookup_timeout"`
	RetryAttempts    int             `yaml:"retry_attempts" json:"retry_attempts"`
	RetryBackoff     time.Duration   `yaml:"retry_backoff" json:"retry_backoff"`
	MinScore         float64         `yaml:"min_score" json:"min_score"`
}

// RPCConfig configures the JSON-RPC feature-store surface.
type RPCConfig struct {
	// Enabled starts the TCP listener when true
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Addr is the listen address, e.g. "0.0.0.0:9090"
	Addr string `yaml:"addr" json:"addr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	rankingDefaults := ranking.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Persistence: persistence.PersistenceConfig{
			Type: persistence.PersistenceBolt,
			Path: "data/partnermatch.db",
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTL:        5 * time.Minute,
			MaxEntries: 10000,
			RedisAddr:  "localhost:6379",
		},
		Store: StoreConfig{
			DefaultFeatureView: rankingDefaults.FeatureView,
			MaxBatchSize:       100,
			StalenessBound:     24 * time.Hour,
		},
		Ranking: RankingConfig{
			Weights:          ranking.DefaultWeights(),
			TopKDefault:      rankingDefaults.TopKDefault,
			TopKMax:          rankingDefaults.TopKMax,
			PoolMax:          rankingDefaults.PoolMax,
			Concurrency:      rankingDefaults.Concurrency,
			BatchConcurrency: rankingDefaults.BatchConcurrency,
			RequestTimeout:   rankingDefaults.RequestTimeout,
			LookupTimeout:    rankingDefaults.LookupTimeout,
			RetryAttempts:    rankingDefaults.RetryAttempts,
			RetryBackoff:     rankingDefaults.RetryBackoff,
		},
		RPC: RPCConfig{
			Enabled: true,
			Addr:    "0.0.0.0:9090",
		},
	}
}

// LoadConfig loads configuration from a YAML file, applies environment
// overrides, and validates the result. A missing file is not an error; the
// defaults plus environment are used.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFromFile(configPath, config); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
			}
		}
	}

	loadConfigFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func loadConfigFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, config)
}

func loadConfigFromEnv(config *Config) {
	// Server configuration
	if host := os.Getenv("PARTNERMATCH_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("PARTNERMATCH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// Persistence configuration
	if backend := os.Getenv("PARTNERMATCH_STORAGE_BACKEND"); backend != "" {
		config.Persistence.Type = persistence.PersistenceType(backend)
	}
	if path := os.Getenv("PARTNERMATCH_STORAGE_PATH"); path != "" {
		config.Persistence.Path = path
	}

	// Cache configuration
	if backend := os.Getenv("PARTNERMATCH_CACHE_BACKEND"); backend != "" {
		config.Cache.Backend = backend
	}
	if addr := os.Getenv("PARTNERMATCH_REDIS_ADDR"); addr != "" {
		config.Cache.RedisAddr = addr
	}
	if ttl := os.Getenv("PARTNERMATCH_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Cache.TTL = d
		}
	}

	// Store configuration
	if view := os.Getenv("PARTNERMATCH_FEATURE_VIEW"); view != "" {
		config.Store.DefaultFeatureView = view
	}
	if size := os.Getenv("PARTNERMATCH_MAX_BATCH_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			config.Store.MaxBatchSize = n
		}
	}
	if bound := os.Getenv("PARTNERMATCH_STALENESS_BOUND"); bound != "" {
		if d, err := time.ParseDuration(bound); err == nil {
			config.Store.StalenessBound = d
		}
	}

	// Ranking configuration
	if max := os.Getenv("PARTNERMATCH_POOL_MAX"); max != "" {
		if n, err := strconv.Atoi(max); err == nil {
			config.Ranking.PoolMax = n
		}
	}
	if timeout := os.Getenv("PARTNERMATCH_REQUEST_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Ranking.RequestTimeout = d
		}
	}
	if w := os.Getenv("PARTNERMATCH_WEIGHT_CULTURE"); w != "" {
		if f, err := strconv.ParseFloat(w, 64); err == nil {
			config.Ranking.Weights.Culture = f
		}
	}
	if w := os.Getenv("PARTNERMATCH_WEIGHT_TRACTION"); w != "" {
		if f, err := strconv.ParseFloat(w, 64); err == nil {
			config.Ranking.Weights.Traction = f
		}
	}
	if w := os.Getenv("PARTNERMATCH_WEIGHT_TIMING"); w != "" {
		if f, err := strconv.ParseFloat(w, 64); err == nil {
			config.Ranking.Weights.Timing = f
		}
	}

	// RPC configuration
	if addr := os.Getenv("PARTNERMATCH_RPC_ADDR"); addr != "" {
		config.RPC.Addr = addr
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if err := persistence.ValidateConfig(c.Persistence); err != nil {
		return err
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("redis cache backend requires redis_addr")
	}
	if c.Store.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive, got %d", c.Store.MaxBatchSize)
	}
	if c.Store.DefaultFeatureView == "" {
		return fmt.Errorf("default_feature_view cannot be empty")
	}
	w := c.Ranking.Weights
	if w.Culture < 0 || w.Traction < 0 || w.Timing < 0 {
		return fmt.Errorf("scoring weights cannot be negative")
	}
	if w.Culture+w.Traction+w.Timing <= 0 {
		return fmt.Errorf("at least one scoring weight must be positive")
	}
	if c.RPC.Enabled && c.RPC.Addr == "" {
		return fmt.Errorf("rpc enabled but no listen address configured")
	}
	return nil
}

// EngineConfig assembles the ranking engine configuration.
func (c *Config) EngineConfig() ranking.Config {
	return ranking.Config{
		FeatureView:      c.Store.DefaultFeatureView,
		Weights:          c.Ranking.Weights,
		TopKDefault:      c.Ranking.TopKDefault,
		TopKMax:          c.Ranking.TopKMax,
		PoolMax:          c.Ranking.PoolMax,
		Concurrency:      c.Ranking.Concurrency,
		BatchConcurrency: c.Ranking.BatchConcurrency,
		RequestTimeout:   c.Ranking.RequestTimeout,
		LookupTimeout:    c.Ranking.LookupTimeout,
		RetryAttempts:    c.Ranking.RetryAttempts,
		RetryBackoff:     c.Ranking.RetryBackoff,
		StalenessBound:   c.Store.StalenessBound,
		MinScore:         c.Ranking.MinScore,
	}
}
