// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Conversation store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	AssistantName string
	AliasesPath   string
	LogLevel      slog.Level

	Conversation ConversationConfig
	Reasoning    ReasoningConfig
	NATS         NATSConfig
	Cache        CacheConfig
	Dialog       DialogConfig
	Stream       StreamConfig
	RateLimit    RateLimitConfig
	Diagnostics  DiagnosticsConfig
}

// ConversationConfig selects and tunes the conversation history store.
type ConversationConfig struct {
	Backend     string
	DBPath      string
	RedisURL    string
	TTL         time.Duration
	MaxMessages int
}

// ReasoningConfig points at the remote reasoning service. An empty Addr disables it.
type ReasoningConfig struct {
	Addr    string
	Token   string
	Timeout time.Duration
}

// NATSConfig enables the NATS transport when URL is set.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// CacheConfig sizes the response cache.
type CacheConfig struct {
	Capacity int
	TTL      time.Duration
}

// DialogConfig holds dialog timeouts.
type DialogConfig struct {
	ConfirmationTimeout   time.Duration
	DisambiguationTimeout time.Duration
}

// StreamConfig tunes token streaming.
type StreamConfig struct {
	BatchWords         int
	MaxRequestBodySize int64
}

// RateLimitConfig bounds requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DiagnosticsConfig controls the diagnostic record buffer and its endpoints.
type DiagnosticsConfig struct {
	Enabled bool
	Size    int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		AssistantName: getEnv("ASSISTANT_NAME", "Vox"),
		AliasesPath:   getEnv("ALIASES_PATH", ""),
		LogLevel:      getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Conversation: ConversationConfig{
			Backend:     strings.ToLower(getEnv("CONVERSATION_BACKEND", BackendSQLite)),
			DBPath:      getEnv("DB_PATH", "./data/voxcore.db"),
			RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
			TTL:         getEnvDuration("CONVERSATION_TTL", 24*time.Hour),
			MaxMessages: getEnvInt("CONVERSATION_MAX_MESSAGES", 50),
		},
		Reasoning: ReasoningConfig{
			Addr:    getEnv("REASONING_ADDR", ""),
			Token:   getEnv("REASONING_TOKEN", ""),
			Timeout: getEnvDuration("REASONING_TIMEOUT", 8*time.Second),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "voxcore"),
		},
		Cache: CacheConfig{
			Capacity: getEnvInt("CACHE_CAPACITY", 1000),
			TTL:      getEnvDuration("CACHE_TTL", time.Hour),
		},
		Dialog: DialogConfig{
			ConfirmationTimeout:   getEnvDuration("CONFIRMATION_TIMEOUT", 30*time.Second),
			DisambiguationTimeout: getEnvDuration("DISAMBIGUATION_TIMEOUT", 60*time.Second),
		},
		Stream: StreamConfig{
			BatchWords:         getEnvInt("STREAM_BATCH_WORDS", 5),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: getEnvBool("DIAGNOSTICS_ENABLED", true),
			Size:    getEnvInt("DIAGNOSTICS_SIZE", 500),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	switch c.Conversation.Backend {
	case BackendSQLite:
		if c.Conversation.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH cannot be empty"))
		}
	case BackendRedis:
		if c.Conversation.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL cannot be empty"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("CONVERSATION_BACKEND %q must be sqlite, redis or memory", c.Conversation.Backend))
	}
	if c.Conversation.TTL <= 0 {
		errs = append(errs, errors.New("CONVERSATION_TTL must be > 0"))
	}
	if c.Conversation.MaxMessages <= 0 {
		errs = append(errs, errors.New("CONVERSATION_MAX_MESSAGES must be > 0"))
	}
	if c.Reasoning.Addr != "" && c.Reasoning.Token == "" {
		errs = append(errs, errors.New("REASONING_TOKEN is required when REASONING_ADDR is set"))
	}
	if c.Reasoning.Timeout <= 0 {
		errs = append(errs, errors.New("REASONING_TIMEOUT must be > 0"))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, errors.New("CACHE_CAPACITY must be > 0"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be > 0"))
	}
	if c.Dialog.ConfirmationTimeout <= 0 || c.Dialog.DisambiguationTimeout <= 0 {
		errs = append(errs, errors.New("dialog timeouts must be > 0"))
	}
	if c.Stream.BatchWords <= 0 {
		errs = append(errs, errors.New("STREAM_BATCH_WORDS must be > 0"))
	}
	if c.Stream.MaxRequestBodySize <= 0 {
		errs = append(errs, errors.New("MAX_REQUEST_BODY_SIZE must be > 0"))
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0"))
	}
	if c.Diagnostics.Size <= 0 {
		errs = append(errs, errors.New("DIAGNOSTICS_SIZE must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimSuffix(c.FrontendURL, "/")}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
