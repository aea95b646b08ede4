// Package flow implements the conversation pipeline for ChatRelay.
//
// The orchestrator drives one inbound message through deduplication, history
// persistence, context assembly, reply generation, and delivery. Nothing in
// this package raises past its boundary: every failure is logged, degraded to
// a safe default, and at worst answered with a best-effort apology to the user.
package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/sheetstack/chatrelay/internal/genai"
	"github.com/sheetstack/chatrelay/internal/messaging"
	"github.com/sheetstack/chatrelay/internal/models"
	"github.com/sheetstack/chatrelay/internal/store"
)

// HistoryWindowSize is the fixed number of prior turns forwarded to the
// completion client.
const HistoryWindowSize = 12

// ReplyGenerator produces a reply for a prompt and prior turns. Satisfied by
// genai.Client; implementations must always return non-empty text.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, prompt string, history []models.Turn) string
}

// Orchestrator ties the history store, completion client, and message sender
// together for one inbound message at a time. It holds no state across
// invocations beyond what the store persists.
type Orchestrator struct {
	store  store.Store
	facts  store.Facts
	gen    ReplyGenerator
	sender messaging.Sender
	now    func() time.Time
}

// NewOrchestrator creates an orchestrator over the given collaborators.
func NewOrchestrator(s store.Store, gen ReplyGenerator, sender messaging.Sender) *Orchestrator {
	return &Orchestrator{
		store:  s,
		facts:  store.NewFacts(s),
		gen:    gen,
		sender: sender,
		now:    time.Now,
	}
}

// Handle processes one inbound message end to end. It never returns an error
// and never panics past its boundary: the webhook caller always observes
// success. userID and text are guaranteed non-empty by the webhook layer;
// messageID may be empty, in which case deduplication is skipped.
func (o *Orchestrator) Handle(ctx context.Context, userID, text, messageID string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Orchestrator recovered from panic, sending apology", "panic", r, "userID", userID)
			if err := o.sender.SendMessage(ctx, userID, genai.FallbackReply); err != nil {
				slog.Error("Orchestrator apology send failed", "error", err, "userID", userID)
			}
		}
	}()

	slog.Debug("Orchestrator handling inbound message", "userID", userID, "messageID", messageID, "text_length", len(text))

	// Dedup check. Advisory only: a concurrent delivery of the same message ID
	// can slip between this check and the append below.
	if messageID != "" {
		duplicate, err := o.store.HasTurn(ctx, messageID)
		if err != nil {
			slog.Error("Orchestrator dedup check failed, proceeding as new message", "error", err, "messageID", messageID)
		} else if duplicate {
			slog.Info("Orchestrator dropping duplicate message", "userID", userID, "messageID", messageID)
			return
		}
	}

	// Persist the inbound turn. History is best-effort: a write failure is
	// logged and the pipeline continues.
	inbound := models.Turn{
		Timestamp: o.now().UTC(),
		UserID:    userID,
		Role:      models.RoleUser,
		Content:   text,
		MessageID: messageID,
	}
	if err := o.store.AppendTurn(ctx, inbound); err != nil {
		slog.Error("Orchestrator failed to persist inbound turn", "error", err, "userID", userID)
	}

	history, err := o.store.RecentTurns(ctx, userID, HistoryWindowSize)
	if err != nil {
		slog.Error("Orchestrator history fetch failed, continuing without history", "error", err, "userID", userID)
		history = nil
	}

	facts, err := o.facts.All(ctx)
	if err != nil {
		slog.Error("Orchestrator facts fetch failed, continuing without facts", "error", err, "userID", userID)
		facts = nil
	}
	prompt := AssemblePrompt(facts, text)

	reply := o.gen.GenerateReply(ctx, prompt, history)

	if err := o.store.AppendTurn(ctx, models.Turn{
		Timestamp: o.now().UTC(),
		UserID:    userID,
		Role:      models.RoleAssistant,
		Content:   reply,
	}); err != nil {
		slog.Error("Orchestrator failed to persist assistant turn", "error", err, "userID", userID)
	}

	// Fire-and-forget delivery: the send outcome does not influence the
	// pipeline result.
	if err := o.sender.SendMessage(ctx, userID, reply); err != nil {
		slog.Error("Orchestrator delivery failed, absorbed", "error", err, "userID", userID)
	}
	slog.Debug("Orchestrator finished inbound message", "userID", userID, "messageID", messageID)
}
