package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	if cfg.Pipeline.BlockThreshold != 70 {
		t.Errorf("block_threshold = %v, want 70", cfg.Pipeline.BlockThreshold)
	}
	if cfg.Trust.TrustThreshold != 70 {
		t.Errorf("trust_threshold = %v, want 70", cfg.Trust.TrustThreshold)
	}
	if cfg.Pipeline.CorrelationWindow != 300*time.Second {
		t.Errorf("correlation_window = %v, want 300s", cfg.Pipeline.CorrelationWindow)
	}
	if cfg.Pipeline.PerEventDeadline != 200*time.Millisecond {
		t.Errorf("per_event_deadline = %v, want 200ms", cfg.Pipeline.PerEventDeadline)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.HTTPPort = -1 },
			wantErr: true,
		},
		{
			name:    "block threshold above 100",
			mutate:  func(c *Config) { c.Pipeline.BlockThreshold = 150 },
			wantErr: true,
		},
		{
			name:    "quarantine score below block threshold",
			mutate:  func(c *Config) { c.Pipeline.QuarantineScore = 50 },
			wantErr: true,
		},
		{
			name: "inverted classification bands",
			mutate: func(c *Config) {
				c.Pipeline.SuspiciousBand = 60
				c.Pipeline.MaliciousBand = 30
			},
			wantErr: true,
		},
		{
			name:    "zero deadline",
			mutate:  func(c *Config) { c.Pipeline.PerEventDeadline = 0 },
			wantErr: true,
		},
		{
			name:    "unknown quarantine backend",
			mutate:  func(c *Config) { c.Quarantine.Backend = "dynamo" },
			wantErr: true,
		},
		{
			name: "feed without endpoint",
			mutate: func(c *Config) {
				c.Intel.Feeds = []FeedConfig{{Name: "feedx"}}
			},
			wantErr: true,
		},
		{
			name:    "max quarantine ttl below base",
			mutate:  func(c *Config) { c.Pipeline.MaxQuarantineTTL = time.Minute },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  http_port: 9090
pipeline:
  block_threshold: 80
trust:
  trust_threshold: 60
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GATEKEEP_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("http_port = %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.Pipeline.BlockThreshold != 80 {
		t.Errorf("block_threshold = %v, want 80", cfg.Pipeline.BlockThreshold)
	}
	// Untouched fields keep defaults.
	if cfg.Pipeline.CorrelationBonus != 15 {
		t.Errorf("correlation_bonus = %v, want default 15", cfg.Pipeline.CorrelationBonus)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATEKEEP_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("GATEKEEP_BLOCK_THRESHOLD", "85")
	t.Setenv("GATEKEEP_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Pipeline.BlockThreshold != 85 {
		t.Errorf("block_threshold = %v, want 85", cfg.Pipeline.BlockThreshold)
	}
	if cfg.Quarantine.Backend != "redis" {
		t.Errorf("quarantine backend = %q, want redis", cfg.Quarantine.Backend)
	}
	if cfg.Quarantine.Redis.Addr != "redis.internal:6379" {
		t.Errorf("redis addr = %q", cfg.Quarantine.Redis.Addr)
	}
}
