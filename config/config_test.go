package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/synapselabs/partnermatch/persistence"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	content := `
server:
  host: 127.0.0.1
  port: 9000
persistence:
  type: badger
  path: /tmp/partnermatch
cache:
  backend: redis
  redis_addr: redis.internal:6379
  ttl: 30s
store:
  default_feature_view: partners_v2
  max_batch_size: 50
ranking:
  weights:
    culture: 0.6
    traction: 0.3
    timing: 0.1
  pool_max: 500
rpc:
  enabled: false
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Persistence.Type != persistence.PersistenceBadger {
		t.Errorf("persistence type = %s, want badger", cfg.Persistence.Type)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.TTL != 30*time.Second {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Store.DefaultFeatureView != "partners_v2" || cfg.Store.MaxBatchSize != 50 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Ranking.Weights.Culture != 0.6 || cfg.Ranking.PoolMax != 500 {
		t.Errorf("ranking = %+v", cfg.Ranking)
	}
	if cfg.RPC.Enabled {
		t.Error("rpc should be disabled")
	}
	// Fields the file omits keep their defaults.
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("read timeout = %v, want default", cfg.Server.ReadTimeout)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PARTNERMATCH_PORT", "7070")
	t.Setenv("PARTNERMATCH_STORAGE_BACKEND", "memory")
	t.Setenv("PARTNERMATCH_STALENESS_BOUND", "6h")
	t.Setenv("PARTNERMATCH_WEIGHT_CULTURE", "0.8")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Persistence.Type != persistence.PersistenceMemory {
		t.Errorf("persistence type = %s, want memory", cfg.Persistence.Type)
	}
	if cfg.Store.StalenessBound != 6*time.Hour {
		t.Errorf("staleness bound = %v, want 6h", cfg.Store.StalenessBound)
	}
	if cfg.Ranking.Weights.Culture != 0.8 {
		t.Errorf("culture weight = %v, want 0.8", cfg.Ranking.Weights.Culture)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bolt without path", func(c *Config) { c.Persistence.Path = "" }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.RedisAddr = "" }},
		{"zero batch size", func(c *Config) { c.Store.MaxBatchSize = 0 }},
		{"empty feature view", func(c *Config) { c.Store.DefaultFeatureView = "" }},
		{"negative weight", func(c *Config) { c.Ranking.Weights.Timing = -1 }},
		{"all-zero weights", func(c *Config) { c.Ranking.Weights.Culture = 0; c.Ranking.Weights.Traction = 0; c.Ranking.Weights.Timing = 0 }},
		{"rpc without addr", func(c *Config) { c.RPC.Enabled = true; c.RPC.Addr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted an invalid config")
			}
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.DefaultFeatureView = "pv"
	cfg.Store.StalenessBound = 12 * time.Hour
	cfg.Ranking.PoolMax = 42

	ec := cfg.EngineConfig()
	if ec.FeatureView != "pv" {
		t.Errorf("FeatureView = %q, want pv", ec.FeatureView)
	}
	if ec.StalenessBound != 12*time.Hour {
		t.Errorf("StalenessBound = %v, want 12h", ec.StalenessBound)
	}
	if ec.PoolMax != 42 {
		t.Errorf("PoolMax = %d, want 42", ec.PoolMax)
	}
}
