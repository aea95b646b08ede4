// Package messaging provides outbound message delivery for ChatRelay.
//
// This file implements the WhatsApp Cloud API (Graph API) sender. Failures are
// classified by Graph error code and logged with a remediation hint; they are
// never allowed to disturb the conversation pipeline.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Constants for Cloud API sender configuration
const (
	// DefaultAPIVersion is the Graph API version used when none is configured.
	DefaultAPIVersion = "v19.0"
	// DefaultBaseURL is the Graph API endpoint.
	DefaultBaseURL = "https://graph.facebook.com"
	// DefaultHTTPTimeout bounds a single send attempt.
	DefaultHTTPTimeout = 30 * time.Second
)

// CloudAPIOpts holds configuration options for the Cloud API sender.
type CloudAPIOpts struct {
	Token         string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
	HTTPClient    *http.Client
}

// CloudAPIOption defines a configuration option for the Cloud API sender.
type CloudAPIOption func(*CloudAPIOpts)

// WithToken sets the Cloud API bearer token.
func WithToken(token string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.Token = token }
}

// WithPhoneNumberID sets the sending phone-number identifier.
func WithPhoneNumberID(id string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.PhoneNumberID = id }
}

// WithAPIVersion overrides the Graph API version.
func WithAPIVersion(version string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.APIVersion = version }
}

// WithBaseURL overrides the Graph API endpoint (used by tests).
func WithBaseURL(url string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.BaseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.HTTPClient = client }
}

// Compile-time check that CloudAPIService implements Sender.
var _ Sender = (*CloudAPIService)(nil)

// CloudAPIService sends WhatsApp messages through the Cloud API. When the
// token or phone-number ID is missing the service runs disabled: sends become
// logged no-ops so the relay can operate without the integration configured.
type CloudAPIService struct {
	token         string
	phoneNumberID string
	apiVersion    string
	baseURL       string
	client        *http.Client
}

// NewCloudAPIService creates a Cloud API sender from the provided options.
// Missing credentials are not an error; they disable delivery.
func NewCloudAPIService(opts ...CloudAPIOption) *CloudAPIService {
	var cfg CloudAPIOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	slog.Debug("CloudAPIService config loaded",
		"token_set", cfg.Token != "",
		"phone_number_id_set", cfg.PhoneNumberID != "",
		"api_version", cfg.APIVersion)
	if cfg.Token == "" || cfg.PhoneNumberID == "" {
		slog.Warn("CloudAPIService missing credentials, message delivery disabled")
	}
	return &CloudAPIService{
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		apiVersion:    cfg.APIVersion,
		baseURL:       cfg.BaseURL,
		client:        cfg.HTTPClient,
	}
}

// Enabled reports whether delivery credentials are configured.
func (s *CloudAPIService) Enabled() bool {
	return s.token != "" && s.phoneNumberID != ""
}

// ValidateAndCanonicalizeRecipient canonicalizes a WhatsApp phone number to
// digits-only form.
func (s *CloudAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

// sendPayload is the Cloud API text message request body.
type sendPayload struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             textPayload `json:"text"`
}

type textPayload struct {
	Body string `json:"body"`
}

// graphErrorResponse is the error envelope the Graph API returns on failure.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

// SendMessage delivers a text body to the recipient. Invalid recipients and
// missing credentials are logged and skipped without a delivery attempt.
func (s *CloudAPIService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Warn("CloudAPIService skipping send, invalid recipient", "error", err, "to", to)
		return err
	}
	if !s.Enabled() {
		slog.Warn("CloudAPIService delivery disabled, dropping message", "to", canonical, "body_length", len(body))
		return nil
	}

	payload, err := json.Marshal(sendPayload{
		MessagingProduct: "whatsapp",
		To:               canonical,
		Type:             "text",
		Text:             textPayload{Body: body},
	})
	if err != nil {
		slog.Error("CloudAPIService failed to encode payload", "error", err, "to", canonical)
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", s.baseURL, s.apiVersion, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		slog.Error("CloudAPIService failed to build request", "error", err, "to", canonical)
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("CloudAPIService send request failed", "error", err, "to", canonical)
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		slog.Info("CloudAPIService message sent", "to", canonical, "body_length", len(body))
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var graphResp graphErrorResponse
	_ = json.Unmarshal(respBody, &graphResp)
	hint := classifyGraphError(resp.StatusCode, graphResp.Error)
	slog.Error("CloudAPIService delivery failed",
		"to", canonical,
		"status", resp.StatusCode,
		"code", graphResp.Error.Code,
		"subcode", graphResp.Error.Subcode,
		"message", graphResp.Error.Message,
		"fbtrace_id", graphResp.Error.FBTraceID,
		"hint", hint)
	return fmt.Errorf("delivery failed with status %d (code %d): %s", resp.StatusCode, graphResp.Error.Code, hint)
}

// classifyGraphError maps a Graph API failure to a remediation hint. Each
// class gets a distinct diagnostic so operators can act from the log alone.
func classifyGraphError(status int, e graphError) string {
	switch {
	case e.Code == 190:
		return "access token expired or revoked; generate a new token in Meta Business settings"
	case e.Code == 10 || (e.Code >= 200 && e.Code <= 299):
		return "permission or app-mode issue; check that the app is live and has whatsapp_business_messaging permission"
	case e.Code == 100 && e.Subcode == 33:
		return "phone-number ID does not exist or does not match the token; verify WHATSAPP_PHONE_NUMBER_ID"
	case e.Code == 100 || e.Code == 131008 || e.Code == 131009:
		return "malformed request parameters; check recipient format and message body"
	case e.Code == 4 || e.Code == 80007 || e.Code == 130429:
		return "rate limit hit; reduce send volume and retry later"
	case status == http.StatusUnauthorized:
		return "unauthorized; verify the access token"
	default:
		return "unclassified delivery failure; inspect the Graph API response"
	}
}
