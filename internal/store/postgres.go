// Package store provides history storage backends for ChatRelay.
//
// This file implements a PostgreSQL-backed store for conversation turns and settings.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/sheetstack/chatrelay/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) HasTurn(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE message_id = $1 AND role = $2 LIMIT 1`,
		messageID, models.RoleUser).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore HasTurn query failed", "error", err, "messageID", messageID)
		return false, fmt.Errorf("turn lookup failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, turn models.Turn) error {
	if err := turn.Validate(); err != nil {
		slog.Error("PostgresStore AppendTurn rejected invalid turn", "error", err, "userID", turn.UserID, "role", turn.Role)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (timestamp, user_id, role, content, message_id) VALUES ($1, $2, $3, $4, $5)`,
		turn.Timestamp, turn.UserID, turn.Role, turn.Content, nilIfEmpty(turn.MessageID))
	if err != nil {
		slog.Error("PostgresStore AppendTurn failed", "error", err, "userID", turn.UserID, "role", turn.Role)
		return fmt.Errorf("failed to insert turn for %s: %w", turn.UserID, err)
	}
	slog.Debug("PostgresStore AppendTurn succeeded", "userID", turn.UserID, "role", turn.Role)
	return nil
}

func (s *PostgresStore) RecentTurns(ctx context.Context, userID string, limit int) ([]models.Turn, error) {
	cutoff, hasCutoff := cutoffFor(ctx, s, userID)

	query := `SELECT timestamp, user_id, role, content, COALESCE(message_id, '')
			  FROM messages WHERE user_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`
	args := []interface{}{userID, limit}
	if hasCutoff {
		query = `SELECT timestamp, user_id, role, content, COALESCE(message_id, '')
				 FROM messages WHERE user_id = $1 AND timestamp > $2 ORDER BY timestamp DESC, id DESC LIMIT $3`
		args = []interface{}{userID, cutoff, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore RecentTurns query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		slog.Error("PostgresStore RecentTurns scan failed", "error", err, "userID", userID)
		return nil, err
	}
	reverseTurns(turns)
	slog.Debug("PostgresStore RecentTurns succeeded", "userID", userID, "count", len(turns))
	return turns, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		slog.Error("PostgresStore SetSetting failed", "error", err, "key", key)
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSetting failed", "error", err, "key", key)
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) AllSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore AllSettings query failed", "error", err)
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()
	return scanSettings(rows)
}

func (s *PostgresStore) ResetConversation(ctx context.Context, userID string) error {
	return resetNow(ctx, s, userID)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
