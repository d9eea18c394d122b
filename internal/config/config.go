// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	RateLimit RateLimitConfig
	Chat      ChatConfig
	Model     ModelConfig
	Telemetry TelemetryConfig

	// V2RolloutPercent is the share of guests routed to the adaptive engine.
	V2RolloutPercent int
	// TuningFile optionally overrides coach heuristics from YAML.
	TuningFile string
	// GRPCHealthAddr enables the gRPC health server when set.
	GRPCHealthAddr string
}

// RateLimitConfig controls the per-guest admission gate.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ChatConfig bounds incoming messages.
type ChatConfig struct {
	MaxMessageChars    int
	MaxRequestBodySize int64
}

// ModelConfig selects language models. An empty APIKey disables model
// calls; the engine then answers from its deterministic fallback.
type ModelConfig struct {
	APIKey  string
	Fast    string
	Primary string
	Summary string
	Timeout time.Duration
}

// TelemetryConfig controls analytics delivery and retention.
type TelemetryConfig struct {
	QueueSize int
	Retention time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/coach.db"),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Chat: ChatConfig{
			MaxMessageChars:    getEnvInt("MAX_MESSAGE_CHARS", 2000),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 64*1024)),
		},
		Model: ModelConfig{
			APIKey:  getEnv("GEMINI_API_KEY", ""),
			Fast:    getEnv("MODEL_FAST", "gemini-2.5-flash-lite"),
			Primary: getEnv("MODEL_PRIMARY", "gemini-2.5-flash"),
			Summary: getEnv("MODEL_SUMMARY", "gemini-2.5-flash-lite"),
			Timeout: getEnvDuration("MODEL_TIMEOUT", 20*time.Second),
		},
		Telemetry: TelemetryConfig{
			QueueSize: getEnvInt("TELEMETRY_QUEUE_SIZE", 1000),
			Retention: getEnvDuration("ANALYTICS_RETENTION", 30*24*time.Hour),
		},
		V2RolloutPercent: getEnvInt("V2_ROLLOUT_PERCENT", 100),
		TuningFile:       getEnv("COACH_TUNING_FILE", ""),
		GRPCHealthAddr:   getEnv("GRPC_HEALTH_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Chat.MaxMessageChars <= 0 {
		return fmt.Errorf("MAX_MESSAGE_CHARS must be > 0")
	}
	if c.Chat.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.Model.Fast == "" || c.Model.Primary == "" || c.Model.Summary == "" {
		return fmt.Errorf("MODEL_FAST, MODEL_PRIMARY and MODEL_SUMMARY cannot be empty")
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be > 0")
	}
	if c.V2RolloutPercent < 0 || c.V2RolloutPercent > 100 {
		return fmt.Errorf("V2_ROLLOUT_PERCENT must be between 0 and 100")
	}
	if c.Telemetry.QueueSize <= 0 {
		return fmt.Errorf("TELEMETRY_QUEUE_SIZE must be > 0")
	}
	if c.Telemetry.Retention <= 0 {
		return fmt.Errorf("ANALYTICS_RETENTION must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// ModelEnabled reports whether provider credentials are configured.
func (c *Config) ModelEnabled() bool {
	return c.Model.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
