package store

import (
	"database/sql"
	"fmt"

	"github.com/sheetstack/chatrelay/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanTurns scans turn rows in (timestamp, user_id, role, content, message_id) order.
func scanTurns(rows *sql.Rows) ([]models.Turn, error) {
	var turns []models.Turn
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.Timestamp, &t.UserID, &t.Role, &t.Content, &t.MessageID); err != nil {
			return nil, fmt.Errorf("scan turn failed: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows failed: %w", err)
	}
	return turns, nil
}

// scanSettings scans key/value rows, preserving the query's row order.
func scanSettings(rows *sql.Rows) ([]Setting, error) {
	var settings []Setting
	for rows.Next() {
		var setting Setting
		if err := rows.Scan(&setting.Key, &setting.Value); err != nil {
			return nil, fmt.Errorf("scan setting failed: %w", err)
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate setting rows failed: %w", err)
	}
	return settings, nil
}

// reverseTurns flips a newest-first query result into chronological order.
func reverseTurns(turns []models.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
