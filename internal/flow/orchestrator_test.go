package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sheetstack/chatrelay/internal/genai"
	"github.com/sheetstack/chatrelay/internal/models"
	"github.com/sheetstack/chatrelay/internal/store"
)

type sentMessage struct {
	To   string
	Body string
}

// fakeSender records delivery attempts.
type fakeSender struct {
	mu    sync.Mutex
	sends []sentMessage
	err   error
}

func (f *fakeSender) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	return recipient, nil
}

func (f *fakeSender) SendMessage(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentMessage{To: to, Body: body})
	return f.err
}

func (f *fakeSender) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sends...)
}

// fakeGenerator captures the prompt and history it was handed.
type fakeGenerator struct {
	reply       string
	panicWith   interface{}
	lastPrompt  string
	lastHistory []models.Turn
}

func (f *fakeGenerator) GenerateReply(ctx context.Context, prompt string, history []models.Turn) string {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	f.lastPrompt = prompt
	f.lastHistory = history
	return f.reply
}

func newTestOrchestrator(t *testing.T, reply string) (*Orchestrator, *store.InMemoryStore, *fakeGenerator, *fakeSender) {
	t.Helper()
	mem := store.NewInMemoryStore()
	gen := &fakeGenerator{reply: reply}
	sender := &fakeSender{}
	return NewOrchestrator(mem, gen, sender), mem, gen, sender
}

func TestHandleEndToEnd(t *testing.T) {
	ctx := context.Background()
	orch, mem, gen, sender := newTestOrchestrator(t, "We are open 9to5.")
	facts := store.NewFacts(mem)
	if err := facts.Set(ctx, "hours", "9to5"); err != nil {
		t.Fatalf("failed to seed fact: %v", err)
	}

	orch.Handle(ctx, "55501", "What are your hours?", "wamid.1")

	turns, err := mem.RecentTurns(ctx, "55501", 10)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected user + assistant turns, got %d", len(turns))
	}
	if turns[0].Role != models.RoleUser || turns[0].MessageID != "wamid.1" || turns[0].Content != "What are your hours?" {
		t.Errorf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Role != models.RoleAssistant || turns[1].Content != "We are open 9to5." || turns[1].MessageID != "" {
		t.Errorf("unexpected assistant turn: %+v", turns[1])
	}

	if gen.lastPrompt != "Business facts — hours: 9to5\n\nUser: What are your hours?" {
		t.Errorf("unexpected assembled prompt: %q", gen.lastPrompt)
	}
	// History is fetched after the inbound append, so it includes the message.
	if len(gen.lastHistory) != 1 || gen.lastHistory[0].Content != "What are your hours?" {
		t.Errorf("unexpected history: %+v", gen.lastHistory)
	}

	sends := sender.sent()
	if len(sends) != 1 {
		t.Fatalf("expected exactly one send, got %d", len(sends))
	}
	if sends[0].To != "55501" || sends[0].Body != "We are open 9to5." {
		t.Errorf("unexpected delivery: %+v", sends[0])
	}
}

func TestHandlePromptFollowsFactCreationOrder(t *testing.T) {
	ctx := context.Background()
	orch, mem, gen, _ := newTestOrchestrator(t, "reply")
	facts := store.NewFacts(mem)
	if err := facts.Set(ctx, "name", "Acme"); err != nil {
		t.Fatalf("failed to seed fact: %v", err)
	}
	if err := facts.Set(ctx, "hours", "9to5"); err != nil {
		t.Fatalf("failed to seed fact: %v", err)
	}

	orch.Handle(ctx, "55501", "Hi", "wamid.order")

	want := "Business facts — name: Acme | hours: 9to5\n\nUser: Hi"
	if gen.lastPrompt != want {
		t.Errorf("prompt must list facts in creation order: got %q, want %q", gen.lastPrompt, want)
	}
}

func TestHandleDuplicateMessageID(t *testing.T) {
	ctx := context.Background()
	orch, mem, _, sender := newTestOrchestrator(t, "reply")

	orch.Handle(ctx, "u1", "hello", "wamid.dup")
	orch.Handle(ctx, "u1", "hello", "wamid.dup")

	turns, err := mem.RecentTurns(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("duplicate delivery must not add turns, got %d", len(turns))
	}
	if len(sender.sent()) != 1 {
		t.Errorf("duplicate delivery must not send again, got %d sends", len(sender.sent()))
	}
}

func TestHandleEmptyMessageIDSkipsDedup(t *testing.T) {
	ctx := context.Background()
	orch, mem, _, sender := newTestOrchestrator(t, "reply")

	orch.Handle(ctx, "u1", "hello", "")
	orch.Handle(ctx, "u1", "hello", "")

	turns, err := mem.RecentTurns(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 4 {
		t.Errorf("empty message IDs are not comparable and must both persist, got %d turns", len(turns))
	}
	if len(sender.sent()) != 2 {
		t.Errorf("expected two sends for two distinct messages, got %d", len(sender.sent()))
	}
}

func TestHandleExcludesHistoryBeforeReset(t *testing.T) {
	ctx := context.Background()
	orch, mem, gen, _ := newTestOrchestrator(t, "reply")

	old := models.Turn{
		Timestamp: time.Now().UTC().Add(-time.Hour),
		UserID:    "u1",
		Role:      models.RoleUser,
		Content:   "old message",
		MessageID: "wamid.old",
	}
	if err := mem.AppendTurn(ctx, old); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}
	if err := mem.ResetConversation(ctx, "u1"); err != nil {
		t.Fatalf("ResetConversation failed: %v", err)
	}

	orch.Handle(ctx, "u1", "fresh", "wamid.new")

	for _, turn := range gen.lastHistory {
		if turn.Content == "old message" {
			t.Error("history passed to the generator must exclude turns before the reset cutoff")
		}
	}
	if len(gen.lastHistory) != 1 || gen.lastHistory[0].Content != "fresh" {
		t.Errorf("expected only the post-reset inbound turn in history, got %+v", gen.lastHistory)
	}
}

func TestHandleAbsorbsSendFailure(t *testing.T) {
	ctx := context.Background()
	orch, mem, _, sender := newTestOrchestrator(t, "reply")
	sender.err = errors.New("delivery exploded")

	orch.Handle(ctx, "u1", "hello", "wamid.1")

	// The failure is logged and absorbed; both turns still persist.
	turns, err := mem.RecentTurns(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("send failure must not affect persistence, got %d turns", len(turns))
	}
}

// erroringStore fails every operation, standing in for a dead backend.
type erroringStore struct{}

var errStoreDown = errors.New("store down")

func (erroringStore) HasTurn(ctx context.Context, messageID string) (bool, error) {
	return false, errStoreDown
}
func (erroringStore) AppendTurn(ctx context.Context, turn models.Turn) error { return errStoreDown }
func (erroringStore) RecentTurns(ctx context.Context, userID string, limit int) ([]models.Turn, error) {
	return nil, errStoreDown
}
func (erroringStore) SetSetting(ctx context.Context, key, value string) error { return errStoreDown }
func (erroringStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	return "", false, errStoreDown
}
func (erroringStore) AllSettings(ctx context.Context) ([]store.Setting, error) {
	return nil, errStoreDown
}
func (erroringStore) ResetConversation(ctx context.Context, userID string) error { return errStoreDown }
func (erroringStore) Close() error                                               { return nil }

func TestHandleDegradesOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{reply: "still here"}
	sender := &fakeSender{}
	orch := NewOrchestrator(erroringStore{}, gen, sender)

	orch.Handle(ctx, "u1", "hello", "wamid.1")

	// History is best-effort: a dead store must not stop the reply.
	sends := sender.sent()
	if len(sends) != 1 || sends[0].Body != "still here" {
		t.Errorf("expected reply delivered despite store failure, got %+v", sends)
	}
	if gen.lastPrompt != "hello" {
		t.Errorf("expected raw message prompt with no facts available, got %q", gen.lastPrompt)
	}
}

func TestHandleRecoversFromPanicWithApology(t *testing.T) {
	ctx := context.Background()
	mem := store.NewInMemoryStore()
	gen := &fakeGenerator{panicWith: "boom"}
	sender := &fakeSender{}
	orch := NewOrchestrator(mem, gen, sender)

	orch.Handle(ctx, "u1", "hello", "wamid.1")

	sends := sender.sent()
	if len(sends) != 1 {
		t.Fatalf("expected a best-effort apology send, got %d sends", len(sends))
	}
	if sends[0].Body != genai.FallbackReply {
		t.Errorf("expected apology text %q, got %q", genai.FallbackReply, sends[0].Body)
	}
}
