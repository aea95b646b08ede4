// Package store provides history storage backends for ChatRelay.
//
// This file implements the typed views over the generic settings table.
// Business facts and reset markers share the key/value storage underneath;
// the prefixes that keep them apart are known only to this file.
package store

import (
	"context"
	"strings"
	"time"
)

const (
	factKeyPrefix  = "biz:"
	resetKeyPrefix = "reset:"
)

func factKey(name string) string { return factKeyPrefix + name }

func resetKey(userID string) string { return resetKeyPrefix + userID }

// HumanizeFactName turns a stored fact name into its prompt form, replacing
// underscores with spaces (e.g. "opening_hours" -> "opening hours").
func HumanizeFactName(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// Fact is one business fact, name already stripped of its storage prefix.
type Fact struct {
	Name  string
	Value string
}

// Facts is a typed view over business-context facts stored in settings.
type Facts struct {
	s Store
}

// NewFacts creates a Facts view over the given store.
func NewFacts(s Store) Facts {
	return Facts{s: s}
}

// Set stores or updates a business fact, last-write-wins.
func (f Facts) Set(ctx context.Context, name, value string) error {
	return f.s.SetSetting(ctx, factKey(name), value)
}

// All returns every business fact in the order the facts were first created.
// Prompt assembly emits facts in this order, so it must stay stable across
// value updates.
func (f Facts) All(ctx context.Context) ([]Fact, error) {
	settings, err := f.s.AllSettings(ctx)
	if err != nil {
		return nil, err
	}
	var facts []Fact
	for _, setting := range settings {
		if name, ok := strings.CutPrefix(setting.Key, factKeyPrefix); ok {
			facts = append(facts, Fact{Name: name, Value: setting.Value})
		}
	}
	return facts, nil
}

// Resets is a typed view over per-user reset markers stored in settings.
type Resets struct {
	s Store
}

// NewResets creates a Resets view over the given store.
func NewResets(s Store) Resets {
	return Resets{s: s}
}

// Reset records a new reset marker for the user at the current instant.
func (r Resets) Reset(ctx context.Context, userID string) error {
	return r.s.ResetConversation(ctx, userID)
}

// Cutoff returns the user's current reset cutoff, if any.
func (r Resets) Cutoff(ctx context.Context, userID string) (time.Time, bool) {
	return cutoffFor(ctx, r.s, userID)
}
