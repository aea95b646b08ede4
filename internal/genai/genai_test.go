package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sheetstack/chatrelay/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	called bool
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.called = true
	m.params = params
	return m.resp, m.err
}

func completionWith(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGenerateReplySuccess(t *testing.T) {
	mock := &mockChatService{resp: completionWith("All good")}
	client := &Client{chat: mock, model: DefaultModel}

	out := client.GenerateReply(context.Background(), "Hi", nil)
	if out != "All good" {
		t.Errorf("expected model reply, got %q", out)
	}
	if !mock.called {
		t.Fatal("expected completion request to be issued")
	}
	// System instruction first, prompt last.
	if len(mock.params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(mock.params.Messages))
	}
	if mock.params.Messages[0].OfSystem == nil {
		t.Error("first message should be the system instruction")
	}
	if mock.params.Messages[1].OfUser == nil {
		t.Error("last message should be the user prompt")
	}
}

func TestGenerateReplyPreservesHistoryOrder(t *testing.T) {
	mock := &mockChatService{resp: completionWith("ok")}
	client := &Client{chat: mock, model: DefaultModel}

	history := []models.Turn{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "second"},
		{Role: models.RoleUser, Content: "third"},
	}
	client.GenerateReply(context.Background(), "now", history)

	msgs := mock.params.Messages
	if len(msgs) != 5 {
		t.Fatalf("expected system + 3 history + prompt, got %d messages", len(msgs))
	}
	if msgs[1].OfUser == nil || msgs[2].OfAssistant == nil || msgs[3].OfUser == nil {
		t.Errorf("history roles not mapped in order: %+v", msgs)
	}
	if msgs[4].OfUser == nil {
		t.Error("prompt should be the final user message")
	}
}

func TestGenerateReplyFallbackOnError(t *testing.T) {
	mock := &mockChatService{err: errors.New("quota exceeded")}
	client := &Client{chat: mock, model: DefaultModel}

	if out := client.GenerateReply(context.Background(), "Hi", nil); out != FallbackReply {
		t.Errorf("expected fallback reply on service error, got %q", out)
	}
}

func TestGenerateReplyFallbackOnEmptyCompletion(t *testing.T) {
	cases := map[string]*openai.ChatCompletion{
		"no choices":    {Choices: []openai.ChatCompletionChoice{}},
		"empty content": completionWith(""),
	}
	for name, resp := range cases {
		client := &Client{chat: &mockChatService{resp: resp}, model: DefaultModel}
		if out := client.GenerateReply(context.Background(), "Hi", nil); out != FallbackReply {
			t.Errorf("%s: expected fallback reply, got %q", name, out)
		}
	}
}

func TestGenerateReplyUnconfiguredClient(t *testing.T) {
	// No API key: the client is valid but degrades to the fallback reply.
	client := NewClient()
	if out := client.GenerateReply(context.Background(), "Hi", nil); out != FallbackReply {
		t.Errorf("expected fallback reply from unconfigured client, got %q", out)
	}

	var nilClient *Client
	if out := nilClient.GenerateReply(context.Background(), "Hi", nil); out != FallbackReply {
		t.Errorf("expected fallback reply from nil client, got %q", out)
	}
}
