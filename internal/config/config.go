// Package config handles configuration loading for gatekeep.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Pipeline        PipelineConfig        `yaml:"pipeline"`
	Rules           RulesConfig           `yaml:"rules"`
	Behavior        BehaviorConfig        `yaml:"behavior"`
	Trust           TrustConfig           `yaml:"trust"`
	Quarantine      QuarantineConfig      `yaml:"quarantine"`
	Intel           IntelConfig           `yaml:"intel"`
	Audit           AuditConfig           `yaml:"audit"`
	RateLimit       RateLimitConfig       `yaml:"rate_limit"`
	SecurityHeaders SecurityHeadersConfig `yaml:"security_headers"`
	Logging         LoggingConfig         `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort       int           `yaml:"http_port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxPayloadSize int           `yaml:"max_payload_size"` // max request body in bytes
}

// PipelineConfig holds decision pipeline settings.
type PipelineConfig struct {
	BlockThreshold     float64       `yaml:"block_threshold"`      // risk score at or above -> block
	QuarantineScore    float64       `yaml:"quarantine_score"`     // risk score at or above -> quarantine subject
	EscalateScore      float64       `yaml:"escalate_score"`       // risk score at or above -> emit alert
	PerEventDeadline   time.Duration `yaml:"per_event_deadline"`   // bound on total layer latency
	CorrelationWindow  time.Duration `yaml:"correlation_window"`   // sliding window for the multi-layer bonus
	CorrelationBonus   float64       `yaml:"correlation_bonus"`    // added when >=2 layers trigger in the window
	SuspiciousBand     float64       `yaml:"suspicious_band"`      // classification band lower bound
	MaliciousBand      float64       `yaml:"malicious_band"`       // classification band lower bound
	AutoBlockDuration  time.Duration `yaml:"auto_block_duration"`  // base quarantine TTL at block threshold
	MaxQuarantineTTL   time.Duration `yaml:"max_quarantine_ttl"`   // TTL ceiling at score >= quarantine_score
}

// RulesConfig holds rule store settings.
type RulesConfig struct {
	Source         string        `yaml:"source"`          // "builtin" or path to a YAML rule file
	ReloadInterval time.Duration `yaml:"reload_interval"` // how often the file source is polled
}

// BehaviorConfig holds behavioral baseline settings.
type BehaviorConfig struct {
	HalfLife   time.Duration `yaml:"half_life"`   // EWMA half-life
	MinSamples int           `yaml:"min_samples"` // samples before a baseline contributes
	MaxTracked int           `yaml:"max_tracked"` // max subjects kept in memory
}

// TrustConfig holds zero-trust verifier settings.
type TrustConfig struct {
	TrustThreshold float64  `yaml:"trust_threshold"` // minimum trust score to allow
	GeoAllowList   []string `yaml:"geo_allow_list"`  // ISO country codes; empty = allow all
	GeoDenyList    []string `yaml:"geo_deny_list"`
}

// QuarantineConfig holds quarantine store settings.
type QuarantineConfig struct {
	Backend       string        `yaml:"backend"` // "memory" or "redis"
	Redis         RedisConfig   `yaml:"redis"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // expired-entry sweep for the memory backend
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// IntelConfig holds threat intelligence settings.
type IntelConfig struct {
	Feeds           []FeedConfig  `yaml:"feeds"`
	RefreshInterval time.Duration `yaml:"refresh_interval"` // how often the refresher wakes up
	MaxBackoff      time.Duration `yaml:"max_backoff"`      // retry backoff ceiling on feed failure
}

// FeedConfig describes one external threat feed.
type FeedConfig struct {
	Name           string        `yaml:"name"`
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"` // min interval between calls
	SourceWeight   float64       `yaml:"source_weight"`    // multiplier on IOC confidence
}

// AuditConfig holds audit sink settings.
type AuditConfig struct {
	Backend string      `yaml:"backend"` // "memory" or "kafka"
	Kafka   KafkaConfig `yaml:"kafka"`
}

// KafkaConfig holds Kafka producer settings for the audit and alert topics.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	VerdictTopic string        `yaml:"verdict_topic"`
	AlertTopic   string        `yaml:"alert_topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RequestsPerIP int           `yaml:"requests_per_ip"`
	WindowSize    time.Duration `yaml:"window_size"`
	BurstSize     int           `yaml:"burst_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	ExemptPaths   []string      `yaml:"exempt_paths"`
	TrustProxy    bool          `yaml:"trust_proxy"`
}

// SecurityHeadersConfig holds the response header policy attached on allow.
type SecurityHeadersConfig struct {
	Enabled               bool   `yaml:"enabled"`
	HSTSMaxAge            int    `yaml:"hsts_max_age"`
	HSTSIncludeSubdomains bool   `yaml:"hsts_include_subdomains"`
	CSP                   string `yaml:"csp"`
	FrameOptions          string `yaml:"frame_options"`
	ReferrerPolicy        string `yaml:"referrer_policy"`
	PermissionsPolicy     string `yaml:"permissions_policy"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxPayloadSize: 1 * 1024 * 1024, // 1MB
		},
		Pipeline: PipelineConfig{
			BlockThreshold:    70,
			QuarantineScore:   90,
			EscalateScore:     80,
			PerEventDeadline:  200 * time.Millisecond,
			CorrelationWindow: 300 * time.Second,
			CorrelationBonus:  15,
			SuspiciousBand:    30,
			MaliciousBand:     60,
			AutoBlockDuration: 30 * time.Minute,
			MaxQuarantineTTL:  4 * time.Hour,
		},
		Rules: RulesConfig{
			Source:         "builtin",
			ReloadInterval: 30 * time.Second,
		},
		Behavior: BehaviorConfig{
			HalfLife:   10 * time.Minute,
			MinSamples: 10,
			MaxTracked: 100000,
		},
		Trust: TrustConfig{
			TrustThreshold: 70,
		},
		Quarantine: QuarantineConfig{
			Backend:       "memory",
			SweepInterval: time.Minute,
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				PoolSize:     10,
			},
		},
		Intel: IntelConfig{
			RefreshInterval: 15 * time.Second,
			MaxBackoff:      5 * time.Minute,
		},
		Audit: AuditConfig{
			Backend: "memory",
			Kafka: KafkaConfig{
				Brokers:      []string{"localhost:9092"},
				VerdictTopic: "gatekeep.verdicts",
				AlertTopic:   "gatekeep.alerts",
				BatchSize:    100,
				BatchTimeout: 100 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 1000,
			WindowSize:    time.Minute,
			BurstSize:     50,
			CleanupPeriod: 5 * time.Minute,
			ExemptPaths:   []string{"/health", "/metrics"},
			TrustProxy:    false,
		},
		SecurityHeaders: SecurityHeadersConfig{
			Enabled:               true,
			HSTSMaxAge:            31536000,
			HSTSIncludeSubdomains: true,
			CSP:                   "default-src 'self'; frame-ancestors 'none'",
			FrameOptions:          "DENY",
			ReferrerPolicy:        "strict-origin-when-cross-origin",
			PermissionsPolicy:     "geolocation=(), microphone=(), camera=()",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("GATEKEEP_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("GATEKEEP_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("GATEKEEP_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if threshold := os.Getenv("GATEKEEP_BLOCK_THRESHOLD"); threshold != "" {
		fmt.Sscanf(threshold, "%f", &c.Pipeline.BlockThreshold)
	}

	if threshold := os.Getenv("GATEKEEP_TRUST_THRESHOLD"); threshold != "" {
		fmt.Sscanf(threshold, "%f", &c.Trust.TrustThreshold)
	}

	if addr := os.Getenv("GATEKEEP_REDIS_ADDR"); addr != "" {
		c.Quarantine.Backend = "redis"
		c.Quarantine.Redis.Addr = addr
	}

	if pass := os.Getenv("GATEKEEP_REDIS_PASSWORD"); pass != "" {
		c.Quarantine.Redis.Password = pass
	}

	if brokers := os.Getenv("GATEKEEP_KAFKA_BROKERS"); brokers != "" {
		c.Audit.Backend = "kafka"
		c.Audit.Kafka.Brokers = splitAndTrim(brokers, ",")
	}

	if source := os.Getenv("GATEKEEP_RULES_SOURCE"); source != "" {
		c.Rules.Source = source
	}
}

// splitAndTrim splits a string by separator and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration. Invalid thresholds are fatal at
// startup; the service refuses to serve rather than degrade its posture.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Server.MaxPayloadSize <= 0 {
		return fmt.Errorf("max_payload_size must be positive")
	}

	p := c.Pipeline
	if p.BlockThreshold < 0 || p.BlockThreshold > 100 {
		return fmt.Errorf("block_threshold out of range [0,100]: %v", p.BlockThreshold)
	}
	if p.QuarantineScore < p.BlockThreshold || p.QuarantineScore > 100 {
		return fmt.Errorf("quarantine_score must be in [block_threshold,100], got %v", p.QuarantineScore)
	}
	if p.EscalateScore < 0 || p.EscalateScore > 100 {
		return fmt.Errorf("escalate_score out of range [0,100]: %v", p.EscalateScore)
	}
	if p.SuspiciousBand <= 0 || p.MaliciousBand <= p.SuspiciousBand || p.MaliciousBand > 100 {
		return fmt.Errorf("invalid classification bands: suspicious=%v malicious=%v", p.SuspiciousBand, p.MaliciousBand)
	}
	if p.PerEventDeadline <= 0 {
		return fmt.Errorf("per_event_deadline must be positive")
	}
	if p.CorrelationWindow <= 0 {
		return fmt.Errorf("correlation_window must be positive")
	}
	if p.AutoBlockDuration <= 0 || p.MaxQuarantineTTL < p.AutoBlockDuration {
		return fmt.Errorf("invalid quarantine durations: base=%v max=%v", p.AutoBlockDuration, p.MaxQuarantineTTL)
	}

	if c.Trust.TrustThreshold < 0 || c.Trust.TrustThreshold > 100 {
		return fmt.Errorf("trust_threshold out of range [0,100]: %v", c.Trust.TrustThreshold)
	}

	switch c.Quarantine.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown quarantine backend: %s", c.Quarantine.Backend)
	}

	switch c.Audit.Backend {
	case "memory", "kafka":
	default:
		return fmt.Errorf("unknown audit backend: %s", c.Audit.Backend)
	}

	for i, feed := range c.Intel.Feeds {
		if feed.Name == "" {
			return fmt.Errorf("intel feed %d: name is required", i)
		}
		if feed.Endpoint == "" {
			return fmt.Errorf("intel feed %q: endpoint is required", feed.Name)
		}
		if feed.RateLimitDelay < 0 {
			return fmt.Errorf("intel feed %q: rate_limit_delay must be non-negative", feed.Name)
		}
	}

	return nil
}
