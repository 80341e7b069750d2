package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all hwb configuration.
type Config struct {
	Model     string           `yaml:"model"`
	DBPath    string           `yaml:"db_path"`
	Providers []ProviderConfig `yaml:"providers"`
	Router    RouterConfig     `yaml:"router"`
	Retry     RetryConfig      `yaml:"retry"`
	Cache     CacheConfig      `yaml:"cache"`
	Stages    []StageConfig    `yaml:"stages"`
	RunLog    RunLogConfig     `yaml:"runlog"`
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
}

// ProviderConfig defines a model provider.
// Type is "anthropic" (default) or "gemini".
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	Type    string        `yaml:"type"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// RouterConfig defines model fallback chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a model alias to an ordered list of targets.
type RouteConfig struct {
	Model   string        `yaml:"model"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// RetryConfig controls backoff around model calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CacheConfig controls the response cache.
// Backend is "sqlite" (default), "redis" or "memory".
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Backend  string        `yaml:"backend"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// StageConfig defines one prompted pipeline stage.
// Expect is "object", "array" or empty for either.
type StageConfig struct {
	ID        string `yaml:"id"`
	Label     string `yaml:"label"`
	Task      string `yaml:"task"`
	System    string `yaml:"system"`
	MaxTokens int    `yaml:"max_tokens"`
	Model     string `yaml:"model"`
	Expect    string `yaml:"expect"`
}

// RunLogConfig controls persistence of finished runs.
type RunLogConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Listen              string        `yaml:"listen"`
	MaxConcurrentBuilds int           `yaml:"max_concurrent_builds"`
	RetryAfter          time.Duration `yaml:"retry_after"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// TelemetryConfig controls OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Model:  "claude-opus-4-6",
		DBPath: "hwb.db",
		Providers: []ProviderConfig{
			{Name: "anthropic", Type: "anthropic", URL: "https://api.anthropic.com", Timeout: 5 * time.Minute},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    time.Minute,
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "sqlite",
			TTL:     time.Hour,
		},
		Stages: DefaultStages(),
		RunLog: RunLogConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Listen:              ":8000",
			MaxConcurrentBuilds: 2,
			RetryAfter:          30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "hwb",
		},
	}
}

// Load reads a YAML config file, expands environment variables and applies
// HWB_* overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// with HWB_* overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.applyEnv()
		return cfg, nil
	}
	return cfg, err
}

func (c *Config) applyEnv() {
	c.Model = envStr("HWB_MODEL", c.Model)
	c.DBPath = envStr("HWB_DB_PATH", c.DBPath)
	c.Retry.MaxAttempts = envInt("HWB_MAX_RETRIES", c.Retry.MaxAttempts)
	if ms := envInt("HWB_RETRY_BASE_MS", -1); ms >= 0 {
		c.Retry.BaseDelay = time.Duration(ms) * time.Millisecond
	}
	c.Cache.Enabled = envBool("HWB_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.Backend = envStr("HWB_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.RedisURL = envStr("HWB_REDIS_URL", c.Cache.RedisURL)
	if s := envInt("HWB_CACHE_TTL", -1); s >= 0 {
		c.Cache.TTL = time.Duration(s) * time.Second
	}
	c.Server.Listen = envStr("HWB_LISTEN", c.Server.Listen)
	c.Server.MaxConcurrentBuilds = envInt("HWB_MAX_BUILDS", c.Server.MaxConcurrentBuilds)
	c.Telemetry.Enabled = envBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)

	for i := range c.Stages {
		key := "HWB_TOKENS_" + strings.ToUpper(c.Stages[i].ID)
		c.Stages[i].MaxTokens = envInt(key, c.Stages[i].MaxTokens)
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKey != "" {
			continue
		}
		switch p.Type {
		case "gemini":
			p.APIKey = envStr("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY"))
		default:
			p.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
}

// Validate reports the first structural problem in c.
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return errors.New("config: no stages defined")
	}
	seen := make(map[string]bool, len(c.Stages))
	for _, s := range c.Stages {
		if s.ID == "" {
			return errors.New("config: stage without id")
		}
		if seen[s.ID] {
			return fmt.Errorf("config: duplicate stage %q", s.ID)
		}
		seen[s.ID] = true
		switch s.Expect {
		case "", "object", "array":
		default:
			return fmt.Errorf("config: stage %q: unknown expect %q", s.ID, s.Expect)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	switch c.Cache.Backend {
	case "", "sqlite", "memory":
	case "redis":
		if c.Cache.Enabled && c.Cache.RedisURL == "" {
			return errors.New("config: cache.backend redis requires cache.redis_url")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if len(c.Providers) == 0 {
		return errors.New("config: no providers configured")
	}
	for _, p := range c.Providers {
		switch p.Type {
		case "", "anthropic", "gemini":
		default:
			return fmt.Errorf("config: provider %q: unknown type %q", p.Name, p.Type)
		}
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
