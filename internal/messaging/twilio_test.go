package messaging

import (
	"context"
	"testing"
)

func TestTwilioServiceDisabledWithoutCredentials(t *testing.T) {
	svc := NewTwilioService()
	if svc.Enabled() {
		t.Fatal("service without credentials should be disabled")
	}
	// Disabled delivery is a logged no-op, not an error.
	if err := svc.SendMessage(context.Background(), "15551234567", "hi"); err != nil {
		t.Errorf("disabled send should be a no-op, got error: %v", err)
	}
}

func TestTwilioServiceRejectsInvalidRecipient(t *testing.T) {
	svc := NewTwilioService(
		WithAccountSID("AC123"),
		WithAuthToken("tok"),
		WithFromNumber("whatsapp:+15550009999"))
	if !svc.Enabled() {
		t.Fatal("expected service with credentials to be enabled")
	}
	if err := svc.SendMessage(context.Background(), "not-a-number", "hi"); err == nil {
		t.Error("expected validation error for recipient without digits")
	}
}

func TestTwilioServiceCanonicalizesRecipient(t *testing.T) {
	svc := NewTwilioService()
	got, err := svc.ValidateAndCanonicalizeRecipient("+1 (555) 123-4567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "15551234567" {
		t.Errorf("expected digits-only recipient, got %q", got)
	}
}
