// Package messaging provides outbound message delivery for ChatRelay.
//
// Delivery is fire-and-forget with respect to the conversation pipeline:
// senders classify and log failures, and the orchestrator never depends on
// whether a send ultimately succeeded.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/sheetstack/chatrelay/internal/models"
)

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Sender defines a pluggable message delivery abstraction.
type Sender interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier to digits-only form. Returns an error when no digits remain.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient. Implementations log and
	// classify delivery failures; a returned error is informational and safe
	// for the caller to ignore.
	SendMessage(ctx context.Context, to string, body string) error
}

// canonicalizeRecipient strips all non-digit characters from a recipient.
// Shared by every sender implementation so validation rules stay uniform.
func canonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if recipient != canonical {
		slog.Debug("messaging: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
