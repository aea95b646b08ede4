// Package api provides the HTTP surface of ChatRelay.
//
// This file contains the individual endpoint handlers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sheetstack/chatrelay/internal/models"
)

// webhookHandler serves both halves of the messaging-platform webhook: the GET
// verification handshake and POST inbound notifications.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhook(w, r)
	case http.MethodPost:
		s.receiveWebhook(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyWebhook answers the platform's subscription handshake: when the mode
// and verify token match, the challenge is echoed back verbatim.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && s.verifyToken != "" && token == s.verifyToken {
		slog.Info("Server.verifyWebhook: webhook verified")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(challenge)); err != nil {
			slog.Error("Server.verifyWebhook: failed to write challenge", "error", err)
		}
		return
	}
	slog.Warn("Server.verifyWebhook: verification rejected", "mode", mode, "token_matched", token == s.verifyToken)
	w.WriteHeader(http.StatusForbidden)
}

// receiveWebhook parses an inbound notification and dispatches each text
// message to the pipeline. It always acknowledges with 200 so internal
// failures never trigger the platform's redelivery.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	var payload models.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.receiveWebhook: undecodable payload, acknowledging anyway", "error", err)
		writeJSONResponse(w, http.StatusOK, models.Success("EVENT_RECEIVED"))
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, status := range change.Value.Statuses {
				slog.Debug("Server.receiveWebhook: ignoring status update", "message_id", status.ID, "status", status.Status)
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					slog.Debug("Server.receiveWebhook: ignoring non-text message", "type", msg.Type, "from", msg.From)
					continue
				}
				// The pipeline is guaranteed non-empty sender and body.
				if msg.From == "" || msg.Text.Body == "" {
					slog.Debug("Server.receiveWebhook: ignoring empty message", "from", msg.From, "message_id", msg.ID)
					continue
				}
				slog.Info("Server.receiveWebhook: dispatching inbound message", "from", msg.From, "message_id", msg.ID)
				s.dispatchFn(msg.From, msg.Text.Body, msg.ID)
			}
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success("EVENT_RECEIVED"))
}

// healthHandler reports boolean presence of each required credential set.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.health))
}

// factRequest is the body of a business-fact upsert.
type factRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// factsHandler upserts one business fact used in every assembled prompt.
func (s *Server) factsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req factRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("fact name and value required"))
		return
	}
	if err := s.facts.Set(r.Context(), req.Name, req.Value); err != nil {
		slog.Error("Server.factsHandler: failed to store fact", "error", err, "name", req.Name)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to store fact"))
		return
	}
	slog.Info("Server.factsHandler: fact stored", "name", req.Name)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// resetRequest is the body of a conversation reset.
type resetRequest struct {
	UserID string `json:"user_id"`
}

// resetHandler records a reset marker hiding the user's prior history from
// future context assembly.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id required"))
		return
	}
	if err := s.resets.Reset(r.Context(), req.UserID); err != nil {
		slog.Error("Server.resetHandler: failed to reset conversation", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to reset conversation"))
		return
	}
	slog.Info("Server.resetHandler: conversation reset", "userID", req.UserID)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
