package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sheetstack/chatrelay/internal/models"
	"github.com/sheetstack/chatrelay/internal/store"
)

type dispatched struct {
	UserID    string
	Text      string
	MessageID string
}

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore, *[]dispatched) {
	t.Helper()
	mem := store.NewInMemoryStore()
	srv := NewServer(nil, mem, "secret-token", HealthConfig{OpenAIKeySet: true})
	var calls []dispatched
	srv.dispatchFn = func(userID, text, messageID string) {
		calls = append(calls, dispatched{UserID: userID, Text: text, MessageID: messageID})
	}
	return srv, mem, &calls
}

func TestWebhookVerification(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on matching token, got %d", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Errorf("expected challenge echoed back, got %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 on token mismatch, got %d", rec.Code)
	}
}

func TestWebhookVerificationWithoutConfiguredToken(t *testing.T) {
	mem := store.NewInMemoryStore()
	srv := NewServer(nil, mem, "", HealthConfig{})

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=&hub.challenge=x", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("verification must fail when no token is configured, got %d", rec.Code)
	}
}

const inboundPayload = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "biz-1",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"messages": [{
					"from": "15551234567",
					"id": "wamid.abc",
					"timestamp": "1714500000",
					"type": "text",
					"text": {"body": "What are your hours?"}
				}]
			}
		}]
	}]
}`

func TestWebhookDispatchesTextMessages(t *testing.T) {
	srv, _, calls := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(inboundPayload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("webhook must always acknowledge, got %d", rec.Code)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected one dispatched message, got %d", len(*calls))
	}
	got := (*calls)[0]
	if got.UserID != "15551234567" || got.Text != "What are your hours?" || got.MessageID != "wamid.abc" {
		t.Errorf("unexpected dispatch: %+v", got)
	}
}

func TestWebhookIgnoresStatusesAndNonText(t *testing.T) {
	srv, _, calls := newTestServer(t)

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"statuses": [{"id": "wamid.x", "status": "delivered", "recipient_id": "15551234567"}],
					"messages": [{"from": "15551234567", "id": "wamid.img", "type": "image"}]
				}
			}]
		}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("webhook must always acknowledge, got %d", rec.Code)
	}
	if len(*calls) != 0 {
		t.Errorf("statuses and non-text messages must not be dispatched, got %d", len(*calls))
	}
}

func TestWebhookAcknowledgesMalformedPayload(t *testing.T) {
	srv, _, calls := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("malformed payloads are acknowledged, never retried, got %d", rec.Code)
	}
	if len(*calls) != 0 {
		t.Errorf("malformed payload must not dispatch, got %d", len(*calls))
	}
}

func TestHealthHandler(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp.Status != models.APIStatusOK {
		t.Errorf("unexpected status %q", resp.Status)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %T", resp.Result)
	}
	if result["openai_key_set"] != true {
		t.Errorf("expected openai_key_set=true, got %v", result["openai_key_set"])
	}
	if result["whatsapp_token_set"] != false {
		t.Errorf("expected whatsapp_token_set=false, got %v", result["whatsapp_token_set"])
	}
}

func TestFactsHandler(t *testing.T) {
	srv, mem, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/facts", strings.NewReader(`{"name":"hours","value":"9to5"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	facts, err := store.NewFacts(mem).All(context.Background())
	if err != nil {
		t.Fatalf("failed to read facts: %v", err)
	}
	if len(facts) != 1 || facts[0] != (store.Fact{Name: "hours", Value: "9to5"}) {
		t.Errorf("fact not stored: %v", facts)
	}

	req = httptest.NewRequest(http.MethodPost, "/facts", strings.NewReader(`{"value":"no name"}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing name, got %d", rec.Code)
	}
}

func TestResetHandler(t *testing.T) {
	srv, mem, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/reset", strings.NewReader(`{"user_id":"u1"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if _, ok := store.NewResets(mem).Cutoff(context.Background(), "u1"); !ok {
		t.Error("expected a reset marker after reset request")
	}

	req = httptest.NewRequest(http.MethodPost, "/reset", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing user_id, got %d", rec.Code)
	}
}

func TestMethodGuards(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/webhook"},
		{http.MethodPost, "/health"},
		{http.MethodGet, "/facts"},
		{http.MethodGet, "/reset"},
	}
	for _, c := range cases {
		req := httptest.NewRequest(c.method, c.path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", c.method, c.path, rec.Code)
		}
	}
}
