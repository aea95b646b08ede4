// Package store provides history storage backends for ChatRelay.
//
// It defines the Store contract for conversation turns and key/value settings,
// with Google Sheets, SQLite, PostgreSQL, and in-memory implementations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/sheetstack/chatrelay/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string (SQLite file path or Postgres URL).
	DSN string
	// SpreadsheetID identifies the Google Sheets document backing the store.
	SpreadsheetID string
	// CredentialsJSON holds service-account credentials for the Sheets API.
	CredentialsJSON []byte
}

// Option defines a configuration option for store constructors.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSpreadsheetID sets the spreadsheet identifier for the Sheets backend.
func WithSpreadsheetID(id string) Option {
	return func(o *Opts) { o.SpreadsheetID = id }
}

// WithCredentialsJSON sets service-account credentials for the Sheets backend.
func WithCredentialsJSON(creds []byte) Option {
	return func(o *Opts) { o.CredentialsJSON = creds }
}

// Setting is one key/value settings row. Slices of Setting follow the backing
// store's row order, which is the order keys were first created; updating a
// value never moves its row.
type Setting struct {
	Key   string
	Value string
}

// Store defines the history store contract consumed by the conversation
// pipeline. Implementations return explicit errors; the orchestrator is
// responsible for degrading failures to safe defaults so that history stays
// best-effort and never aborts message handling.
type Store interface {
	// HasTurn reports whether a user-role turn with the given message ID has
	// been persisted. An empty message ID always returns false without a lookup.
	HasTurn(ctx context.Context, messageID string) (bool, error)

	// AppendTurn appends a new turn. No uniqueness is enforced at write time;
	// duplicate suppression is the caller's responsibility via HasTurn.
	AppendTurn(ctx context.Context, turn models.Turn) error

	// RecentTurns returns at most limit turns for the user in chronological
	// order (oldest first), excluding turns at or before the user's reset
	// cutoff. An empty result is a valid outcome, not an error.
	RecentTurns(ctx context.Context, userID string, limit int) ([]models.Turn, error)

	// SetSetting stores a key/value setting, last-write-wins.
	SetSetting(ctx context.Context, key, value string) error

	// GetSetting returns the value for key. A missing key yields ok=false.
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)

	// AllSettings returns all settings in row (first-creation) order.
	AllSettings(ctx context.Context) ([]Setting, error)

	// ResetConversation records a reset marker for the user at "now". Later
	// calls simply advance the cutoff.
	ResetConversation(ctx context.Context, userID string) error

	// Close releases underlying resources.
	Close() error
}

// settingWriter is the slice of Store needed to record a reset marker.
type settingWriter interface {
	SetSetting(ctx context.Context, key, value string) error
}

// resetNow writes a reset marker for userID with the current instant. Shared by
// all backends so the marker format stays uniform.
func resetNow(ctx context.Context, s settingWriter, userID string) error {
	return s.SetSetting(ctx, resetKey(userID), time.Now().UTC().Format(time.RFC3339Nano))
}

// cutoffFor resolves the user's reset cutoff from the settings table. A missing
// or unparseable marker means no cutoff; parse failures are logged and ignored
// rather than surfaced, since a corrupt marker must not block history reads.
func cutoffFor(ctx context.Context, s Store, userID string) (time.Time, bool) {
	raw, ok, err := s.GetSetting(ctx, resetKey(userID))
	if err != nil {
		slog.Error("store: reset cutoff lookup failed", "error", err, "userID", userID)
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	cutoff, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		slog.Warn("store: ignoring unparseable reset marker", "userID", userID, "value", raw)
		return time.Time{}, false
	}
	return cutoff, true
}

// tailWindow returns the last limit turns of a chronologically ordered slice.
func tailWindow(turns []models.Turn, limit int) []models.Turn {
	if limit <= 0 {
		return nil
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}
