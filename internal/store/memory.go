// Package store provides history storage backends for ChatRelay.
//
// This file implements an in-memory store used in tests and when the process
// runs without any storage credentials configured.
package store

import (
	"context"
	"sync"

	"github.com/sheetstack/chatrelay/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps turns and settings in process memory. Contents are lost
// on restart; it exists for tests and credential-less local runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	turns    []models.Turn
	settings map[string]string
	// settingKeys records first-creation order so AllSettings matches the
	// row order of the persistent backends.
	settingKeys []string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{settings: make(map[string]string)}
}

func (s *InMemoryStore) HasTurn(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.turns {
		if t.Role == models.RoleUser && t.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) AppendTurn(ctx context.Context, turn models.Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

func (s *InMemoryStore) RecentTurns(ctx context.Context, userID string, limit int) ([]models.Turn, error) {
	cutoff, hasCutoff := cutoffFor(ctx, s, userID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var turns []models.Turn
	for _, t := range s.turns {
		if t.UserID != userID {
			continue
		}
		if hasCutoff && !t.Timestamp.After(cutoff) {
			continue
		}
		turns = append(turns, t)
	}
	return tailWindow(turns, limit), nil
}

func (s *InMemoryStore) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settings[key]; !ok {
		s.settingKeys = append(s.settingKeys, key)
	}
	s.settings[key] = value
	return nil
}

func (s *InMemoryStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.settings[key]
	return value, ok, nil
}

func (s *InMemoryStore) AllSettings(ctx context.Context) ([]Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Setting, 0, len(s.settingKeys))
	for _, key := range s.settingKeys {
		out = append(out, Setting{Key: key, Value: s.settings[key]})
	}
	return out, nil
}

func (s *InMemoryStore) ResetConversation(ctx context.Context, userID string) error {
	return resetNow(ctx, s, userID)
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
