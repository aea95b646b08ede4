// Package api provides the HTTP surface of ChatRelay.
//
// It exposes the messaging-platform webhook (verification handshake and
// inbound notifications), a health report of configured credentials, and
// small admin endpoints for business facts and conversation resets. The
// webhook always acknowledges with success; internal failures never reach the
// platform's retry mechanism.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sheetstack/chatrelay/internal/flow"
	"github.com/sheetstack/chatrelay/internal/store"
)

// HealthConfig reports boolean presence of each required credential set.
type HealthConfig struct {
	OpenAIKeySet         bool `json:"openai_key_set"`
	WhatsAppTokenSet     bool `json:"whatsapp_token_set"`
	PhoneNumberIDSet     bool `json:"phone_number_id_set"`
	VerifyTokenSet       bool `json:"verify_token_set"`
	SpreadsheetIDSet     bool `json:"spreadsheet_id_set"`
	SheetsCredentialsSet bool `json:"sheets_credentials_set"`
}

// Server wires the webhook and admin endpoints to the conversation pipeline.
type Server struct {
	orchestrator *flow.Orchestrator
	facts        store.Facts
	resets       store.Resets
	verifyToken  string
	health       HealthConfig
	// dispatchFn hands an inbound message to the pipeline; tests substitute a
	// synchronous capture.
	dispatchFn func(userID, text, messageID string)
}

// NewServer creates an API server over the orchestrator and store.
func NewServer(orch *flow.Orchestrator, st store.Store, verifyToken string, health HealthConfig) *Server {
	s := &Server{
		orchestrator: orch,
		facts:        store.NewFacts(st),
		resets:       store.NewResets(st),
		verifyToken:  verifyToken,
		health:       health,
	}
	s.dispatchFn = s.dispatch
	return s
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/facts", s.factsHandler)
	mux.HandleFunc("/reset", s.resetHandler)
	return mux
}

// Run starts the HTTP server on addr and blocks until it exits.
func (s *Server) Run(addr string) error {
	slog.Info("ChatRelay API listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// dispatch hands one inbound message to the orchestrator. Each message is an
// independent asynchronous operation (no mutual exclusion, per the relay's
// best-effort history model).
func (s *Server) dispatch(userID, text, messageID string) {
	go s.orchestrator.Handle(context.Background(), userID, text, messageID)
}
