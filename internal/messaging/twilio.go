// Package messaging provides outbound message delivery for ChatRelay.
//
// This file implements the Twilio-backed sender for deployments that reach
// WhatsApp through Twilio's gateway instead of the Cloud API.
package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioOpts holds configuration options for the Twilio sender.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	// FromNumber is the sending WhatsApp number in "whatsapp:+1234567890" form.
	FromNumber string
}

// TwilioOption defines a configuration option for the Twilio sender.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sending WhatsApp number.
func WithFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromNumber = from }
}

// Compile-time check that TwilioService implements Sender.
var _ Sender = (*TwilioService)(nil)

// TwilioService sends WhatsApp messages through the Twilio Messages API.
// Missing credentials disable delivery rather than failing construction.
type TwilioService struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioService creates a Twilio sender from the provided options.
func NewTwilioService(opts ...TwilioOption) *TwilioService {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("TwilioService config loaded",
		"account_sid_set", cfg.AccountSID != "",
		"auth_token_set", cfg.AuthToken != "",
		"from_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		slog.Warn("TwilioService missing credentials, message delivery disabled")
		return &TwilioService{}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioService{client: client, from: cfg.FromNumber}
}

// Enabled reports whether delivery credentials are configured.
func (s *TwilioService) Enabled() bool {
	return s.client != nil
}

// ValidateAndCanonicalizeRecipient canonicalizes a WhatsApp phone number to
// digits-only form.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

// SendMessage delivers a text body to the recipient via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Warn("TwilioService skipping send, invalid recipient", "error", err, "to", to)
		return err
	}
	if !s.Enabled() {
		slog.Warn("TwilioService delivery disabled, dropping message", "to", canonical, "body_length", len(body))
		return nil
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + canonical)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioService delivery failed", "error", err, "to", canonical)
		return fmt.Errorf("twilio delivery failed: %w", err)
	}
	if resp.Sid != nil {
		slog.Info("TwilioService message sent", "to", canonical, "sid", *resp.Sid)
	}
	return nil
}
