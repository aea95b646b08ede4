// Package store provides history storage backends for ChatRelay.
//
// This file implements an SQLite-backed store for conversation turns and settings.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/sheetstack/chatrelay/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) HasTurn(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE message_id = ? AND role = ? LIMIT 1`,
		messageID, models.RoleUser).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore HasTurn query failed", "error", err, "messageID", messageID)
		return false, fmt.Errorf("turn lookup failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, turn models.Turn) error {
	if err := turn.Validate(); err != nil {
		slog.Error("SQLiteStore AppendTurn rejected invalid turn", "error", err, "userID", turn.UserID, "role", turn.Role)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (timestamp, user_id, role, content, message_id) VALUES (?, ?, ?, ?, ?)`,
		turn.Timestamp, turn.UserID, turn.Role, turn.Content, nilIfEmpty(turn.MessageID))
	if err != nil {
		slog.Error("SQLiteStore AppendTurn failed", "error", err, "userID", turn.UserID, "role", turn.Role)
		return fmt.Errorf("failed to insert turn for %s: %w", turn.UserID, err)
	}
	slog.Debug("SQLiteStore AppendTurn succeeded", "userID", turn.UserID, "role", turn.Role)
	return nil
}

func (s *SQLiteStore) RecentTurns(ctx context.Context, userID string, limit int) ([]models.Turn, error) {
	cutoff, hasCutoff := cutoffFor(ctx, s, userID)

	query := `SELECT timestamp, user_id, role, content, COALESCE(message_id, '')
			  FROM messages WHERE user_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`
	args := []interface{}{userID, limit}
	if hasCutoff {
		query = `SELECT timestamp, user_id, role, content, COALESCE(message_id, '')
				 FROM messages WHERE user_id = ? AND timestamp > ? ORDER BY timestamp DESC, id DESC LIMIT ?`
		args = []interface{}{userID, cutoff, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore RecentTurns query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		slog.Error("SQLiteStore RecentTurns scan failed", "error", err, "userID", userID)
		return nil, err
	}
	reverseTurns(turns)
	slog.Debug("SQLiteStore RecentTurns succeeded", "userID", userID, "count", len(turns))
	return turns, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	// Upsert rather than INSERT OR REPLACE: the latter deletes and reinserts,
	// which would move the row and break AllSettings' first-creation order.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		slog.Error("SQLiteStore SetSetting failed", "error", err, "key", key)
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSetting failed", "error", err, "key", key)
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) AllSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY rowid`)
	if err != nil {
		slog.Error("SQLiteStore AllSettings query failed", "error", err)
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()
	return scanSettings(rows)
}

func (s *SQLiteStore) ResetConversation(ctx context.Context, userID string) error {
	return resetNow(ctx, s, userID)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
