// Package conversation persists per-user chat history and extracted entities that are
// handed to the remote reasoning service as context.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/voxcore/internal/domain"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Defaults for history size and retention.
const (
	DefaultHistoryLimit = 10
	DefaultMaxMessages  = 50
	DefaultTTL          = 24 * time.Hour
)

// Store defines the interface for conversation history persistence.
type Store interface {
	// AddMessage appends one message to the user's history.
	AddMessage(ctx context.Context, userID string, role domain.Role, content string) error

	// GetContext returns up to limit most recent messages, oldest first, plus the
	// user's entities. A user with no history yields an empty context.
	GetContext(ctx context.Context, userID string, limit int) (domain.ConversationContext, error)

	// UpdateContext merges entities into the user's entity map. Empty values delete keys.
	UpdateContext(ctx context.Context, userID string, entities map[string]string) error

	// Prune drops conversations idle longer than the retention period.
	Prune(ctx context.Context) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend     string
	DBPath      string
	RedisURL    string
	TTL         time.Duration
	MaxMessages int
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = DefaultMaxMessages
	}
	return c
}

// Open creates the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLite(cfg.DBPath, cfg.TTL, cfg.MaxMessages, logger)
	case BackendRedis:
		return NewRedisFromURL(ctx, cfg.RedisURL, cfg.TTL, cfg.MaxMessages, logger)
	case BackendMemory:
		return NewMemory(cfg.TTL, cfg.MaxMessages), nil
	default:
		return nil, fmt.Errorf("unknown conversation backend %q", cfg.Backend)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
