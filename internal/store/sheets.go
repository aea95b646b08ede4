// Package store provides history storage backends for ChatRelay.
//
// This file implements the Google Sheets-backed store. The spreadsheet layout
// is a stable contract: tab "settings" with columns [key, value], tab
// "messages" with columns [timestamp, userId, role, content, messageId], and
// tab "facts" with columns [userId, key, value, updated_at] (reserved, created
// but not written by the pipeline).
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sheetstack/chatrelay/internal/models"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Spreadsheet tab names.
const (
	settingsTab = "settings"
	messagesTab = "messages"
	factsTab    = "facts"
)

// tabHeaders maps each tab to its header row, written when the tab is created.
var tabHeaders = map[string][]interface{}{
	settingsTab: {"key", "value"},
	messagesTab: {"timestamp", "userId", "role", "content", "messageId"},
	factsTab:    {"userId", "key", "value", "updated_at"},
}

// Compile-time check that SheetsStore implements Store.
var _ Store = (*SheetsStore)(nil)

// SheetsStore persists turns and settings in a Google Sheets document.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
}

// NewSheetsStore creates a Sheets-backed store and ensures the expected tabs
// exist. Requires a spreadsheet ID and service-account credentials.
func NewSheetsStore(ctx context.Context, opts ...Option) (*SheetsStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSheetsStore invoked",
		"spreadsheet_id_set", cfg.SpreadsheetID != "",
		"credentials_set", len(cfg.CredentialsJSON) > 0)

	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID not set")
	}
	if len(cfg.CredentialsJSON) == 0 {
		return nil, fmt.Errorf("service-account credentials not set")
	}

	svc, err := sheets.NewService(ctx,
		option.WithCredentialsJSON(cfg.CredentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		slog.Error("Failed to create Sheets service", "error", err)
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	s := &SheetsStore{svc: svc, spreadsheetID: cfg.SpreadsheetID}
	if err := s.ensureTabs(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureTabs creates any missing tabs and writes their header rows.
func (s *SheetsStore) ensureTabs(ctx context.Context) error {
	doc, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		slog.Error("SheetsStore failed to read spreadsheet metadata", "error", err)
		return fmt.Errorf("failed to read spreadsheet metadata: %w", err)
	}
	existing := make(map[string]bool)
	for _, sheet := range doc.Sheets {
		existing[sheet.Properties.Title] = true
	}

	for _, tab := range []string{settingsTab, messagesTab, factsTab} {
		if existing[tab] {
			continue
		}
		req := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: tab}},
			}},
		}
		if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
			slog.Error("SheetsStore failed to create tab", "error", err, "tab", tab)
			return fmt.Errorf("failed to create tab %s: %w", tab, err)
		}
		header := &sheets.ValueRange{Values: [][]interface{}{tabHeaders[tab]}}
		if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, tab+"!A1", header).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			slog.Error("SheetsStore failed to write header row", "error", err, "tab", tab)
			return fmt.Errorf("failed to write header for tab %s: %w", tab, err)
		}
		slog.Info("SheetsStore created missing tab", "tab", tab)
	}
	return nil
}

// readRows returns all data rows of a tab (header excluded).
func (s *SheetsStore) readRows(ctx context.Context, tab, lastColumn string) ([][]interface{}, error) {
	rng := fmt.Sprintf("%s!A2:%s", tab, lastColumn)
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read range %s: %w", rng, err)
	}
	return resp.Values, nil
}

// appendRow appends one row to a tab.
func (s *SheetsStore) appendRow(ctx context.Context, tab string, row []interface{}) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{row}}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, tab+"!A:A", vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", tab, err)
	}
	return nil
}

// cell returns the string content of column i, tolerating short rows.
func cell(row []interface{}, i int) string {
	if i >= len(row) {
		return ""
	}
	if s, ok := row[i].(string); ok {
		return s
	}
	return fmt.Sprint(row[i])
}

// parseTurnRow maps a messages row to a Turn. Rows with an unparseable
// timestamp are skipped by the caller.
func parseTurnRow(row []interface{}) (models.Turn, error) {
	ts, err := time.Parse(time.RFC3339Nano, cell(row, 0))
	if err != nil {
		return models.Turn{}, fmt.Errorf("bad timestamp %q: %w", cell(row, 0), err)
	}
	return models.Turn{
		Timestamp: ts,
		UserID:    cell(row, 1),
		Role:      models.Role(cell(row, 2)),
		Content:   cell(row, 3),
		MessageID: cell(row, 4),
	}, nil
}

func (s *SheetsStore) HasTurn(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	rows, err := s.readRows(ctx, messagesTab, "E")
	if err != nil {
		slog.Error("SheetsStore HasTurn read failed", "error", err, "messageID", messageID)
		return false, err
	}
	for _, row := range rows {
		if cell(row, 4) == messageID && models.Role(cell(row, 2)) == models.RoleUser {
			return true, nil
		}
	}
	return false, nil
}

func (s *SheetsStore) AppendTurn(ctx context.Context, turn models.Turn) error {
	if err := turn.Validate(); err != nil {
		slog.Error("SheetsStore AppendTurn rejected invalid turn", "error", err, "userID", turn.UserID, "role", turn.Role)
		return err
	}
	row := []interface{}{
		turn.Timestamp.UTC().Format(time.RFC3339Nano),
		turn.UserID,
		string(turn.Role),
		turn.Content,
		turn.MessageID,
	}
	if err := s.appendRow(ctx, messagesTab, row); err != nil {
		slog.Error("SheetsStore AppendTurn failed", "error", err, "userID", turn.UserID, "role", turn.Role)
		return err
	}
	slog.Debug("SheetsStore AppendTurn succeeded", "userID", turn.UserID, "role", turn.Role)
	return nil
}

func (s *SheetsStore) RecentTurns(ctx context.Context, userID string, limit int) ([]models.Turn, error) {
	cutoff, hasCutoff := cutoffFor(ctx, s, userID)

	rows, err := s.readRows(ctx, messagesTab, "E")
	if err != nil {
		slog.Error("SheetsStore RecentTurns read failed", "error", err, "userID", userID)
		return nil, err
	}

	// Rows are append-ordered, so they are already chronological.
	var turns []models.Turn
	for _, row := range rows {
		turn, err := parseTurnRow(row)
		if err != nil {
			slog.Warn("SheetsStore skipping malformed message row", "error", err)
			continue
		}
		if turn.UserID != userID {
			continue
		}
		if hasCutoff && !turn.Timestamp.After(cutoff) {
			continue
		}
		turns = append(turns, turn)
	}
	turns = tailWindow(turns, limit)
	slog.Debug("SheetsStore RecentTurns succeeded", "userID", userID, "count", len(turns))
	return turns, nil
}

func (s *SheetsStore) SetSetting(ctx context.Context, key, value string) error {
	rows, err := s.readRows(ctx, settingsTab, "B")
	if err != nil {
		slog.Error("SheetsStore SetSetting read failed", "error", err, "key", key)
		return err
	}
	for i, row := range rows {
		if cell(row, 0) != key {
			continue
		}
		// Row 1 is the header, data starts at row 2.
		rng := fmt.Sprintf("%s!A%d:B%d", settingsTab, i+2, i+2)
		vr := &sheets.ValueRange{Values: [][]interface{}{{key, value}}}
		if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			slog.Error("SheetsStore SetSetting update failed", "error", err, "key", key)
			return fmt.Errorf("failed to update setting %s: %w", key, err)
		}
		return nil
	}
	if err := s.appendRow(ctx, settingsTab, []interface{}{key, value}); err != nil {
		slog.Error("SheetsStore SetSetting append failed", "error", err, "key", key)
		return err
	}
	return nil
}

func (s *SheetsStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	settings, err := s.AllSettings(ctx)
	if err != nil {
		return "", false, err
	}
	for _, setting := range settings {
		if setting.Key == key {
			return setting.Value, true, nil
		}
	}
	return "", false, nil
}

func (s *SheetsStore) AllSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.readRows(ctx, settingsTab, "B")
	if err != nil {
		slog.Error("SheetsStore AllSettings read failed", "error", err)
		return nil, err
	}
	// Sheet rows are already in creation order. A stray duplicate key keeps its
	// first position but takes the later value, last-write-wins.
	settings := make([]Setting, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		key := cell(row, 0)
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			settings[i].Value = cell(row, 1)
			continue
		}
		index[key] = len(settings)
		settings = append(settings, Setting{Key: key, Value: cell(row, 1)})
	}
	return settings, nil
}

func (s *SheetsStore) ResetConversation(ctx context.Context, userID string) error {
	return resetNow(ctx, s, userID)
}

// Close is a no-op; the Sheets client holds no persistent connection.
func (s *SheetsStore) Close() error {
	return nil
}
