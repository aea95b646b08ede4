// Package models defines the core data structures for ChatRelay.
//
// It includes conversation turn types, webhook payload shapes, and the
// standard API response envelope shared across modules.
package models

import (
	"errors"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn authored by the messaging-platform user.
	RoleUser Role = "user"
	// RoleAssistant marks a turn generated by the completion client.
	RoleAssistant Role = "assistant"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyUserID    = errors.New("user id cannot be empty")
	ErrEmptyContent   = errors.New("content cannot be empty")
	ErrInvalidRole    = errors.New("invalid turn role")
)

// IsValidRole checks if the given role is supported.
func IsValidRole(r Role) bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn represents one recorded message (inbound or generated) in a user's
// conversation. Turns are append-only; a later reset marker can hide them
// from context assembly but they are never mutated or deleted.
type Turn struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	// MessageID is the platform-assigned identifier of an inbound message.
	// Empty for assistant-authored turns.
	MessageID string `json:"message_id,omitempty"`
}

// Validate performs basic validation on a Turn before it is persisted.
func (t Turn) Validate() error {
	if t.UserID == "" {
		return ErrEmptyUserID
	}
	if !IsValidRole(t.Role) {
		return ErrInvalidRole
	}
	if t.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates a successful API operation.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates a failed API operation.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  APIStatus   `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}
