package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/voxcore/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	maxBusyRetries = 3
	busyBaseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db          *sql.DB
	ttl         time.Duration
	maxMessages int
	logger      *slog.Logger
}

// NewSQLite opens (and creates when needed) the database at dbPath.
func NewSQLite(dbPath string, ttl time.Duration, maxMessages int, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, ttl: ttl, maxMessages: maxMessages, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, id);

	CREATE TABLE IF NOT EXISTS entities (
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, name)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// AddMessage appends a message and trims the user's history to the configured maximum.
func (s *SQLiteStore) AddMessage(ctx context.Context, userID string, role domain.Role, content string) error {
	return s.withRetry(ctx, "add message", userID, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (user_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			userID, string(role), content, time.Now().UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE user_id = ? AND id NOT IN (
				SELECT id FROM messages WHERE user_id = ? ORDER BY id DESC LIMIT ?
			)`, userID, userID, s.maxMessages,
		); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
		return tx.Commit()
	})
}

// GetContext returns the most recent messages oldest first, with the user's entities.
func (s *SQLiteStore) GetContext(ctx context.Context, userID string, limit int) (domain.ConversationContext, error) {
	out := domain.ConversationContext{Messages: []domain.Message{}, Entities: map[string]string{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM messages
		WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, clampLimit(limit))
	if err != nil {
		return out, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var m domain.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&role, &m.Content, &createdAt); err != nil {
			return out, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = domain.Role(role)
		m.Timestamp = time.UnixMilli(createdAt)
		out.Messages = append(out.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("iterate messages: %w", err)
	}
	slices.Reverse(out.Messages)

	erows, err := s.db.QueryContext(ctx, `SELECT name, value FROM entities WHERE user_id = ?`, userID)
	if err != nil {
		return out, fmt.Errorf("query entities: %w", err)
	}
	defer func() {
		if closeErr := erows.Close(); closeErr != nil {
			s.logger.Warn("failed to close entity rows", "error", closeErr)
		}
	}()
	for erows.Next() {
		var name, value string
		if err := erows.Scan(&name, &value); err != nil {
			return out, fmt.Errorf("scan entity row: %w", err)
		}
		out.Entities[name] = value
	}
	if err := erows.Err(); err != nil {
		return out, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// UpdateContext upserts entities; an empty value removes the entity.
func (s *SQLiteStore) UpdateContext(ctx context.Context, userID string, entities map[string]string) error {
	if len(entities) == 0 {
		return nil
	}
	return s.withRetry(ctx, "update context", userID, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UnixMilli()
		for name, value := range entities {
			if value == "" {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM entities WHERE user_id = ? AND name = ?`, userID, name); err != nil {
					return fmt.Errorf("delete entity %s: %w", name, err)
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entities (user_id, name, value, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(user_id, name) DO UPDATE SET
					value = excluded.value,
					updated_at = excluded.updated_at`,
				userID, name, value, now,
			); err != nil {
				return fmt.Errorf("upsert entity %s: %w", name, err)
			}
		}
		return tx.Commit()
	})
}

// Prune removes messages and entities older than the retention period.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	threshold := time.Now().Add(-s.ttl).UnixMilli()

	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE updated_at < ?`, threshold); err != nil {
		return 0, fmt.Errorf("prune entities: %w", err)
	}
	return result.RowsAffected()
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs fn, retrying with exponential backoff (100ms, 200ms) while SQLite
// reports lock contention.
func (s *SQLiteStore) withRetry(ctx context.Context, op, userID string, fn func() error) error {
	var err error
	for i := range maxBusyRetries {
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteConflict(err) || i == maxBusyRetries-1 {
			break
		}

		delay := busyBaseDelay * time.Duration(1<<i)
		s.logger.Debug("SQLite busy, retrying",
			"op", op,
			"user_id", userID,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s for %s: %w", op, userID, err)
}

// isSQLiteConflict reports SQLITE_BUSY and "database is locked" errors, both of which
// clear once the competing writer finishes.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
