// Package genai provides the language-model completion client built on the OpenAI API.
//
// The client never propagates failures: every error path degrades to a fixed
// fallback reply so the conversation pipeline always has text to deliver.
package genai

import (
	"context"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sheetstack/chatrelay/internal/models"
)

const (
	// FallbackReply is returned whenever a completion cannot be produced.
	FallbackReply = "Sorry, I could not process your request."

	// systemInstruction precedes history and prompt in every request.
	systemInstruction = "You are a helpful assistant for a small business. Keep replies short and clear."
)

// DefaultModel is used when no model is configured.
var DefaultModel = openai.ChatModelGPT4oMini

// chatService defines the minimal interface for chat completions, so tests can
// substitute a fake for the OpenAI client.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the completion client.
type Opts struct {
	APIKey string
	Model  openai.ChatModel
}

// Option defines a configuration option for the completion client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the completion model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion service. A client without an API key
// is valid and simply answers with the fallback reply; a missing credential is
// a disabled feature, not a startup failure.
type Client struct {
	chat  chatService
	model openai.ChatModel
}

// NewClient creates a completion client from the provided options.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.APIKey == "" {
		slog.Warn("genai: no API key configured, replies degrade to fallback text")
		return &Client{model: cfg.Model}
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai: client initialized", "model", cfg.Model)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model}
}

// GenerateReply produces a single reply for the prompt, replaying prior turns
// in order after the fixed system instruction. It always returns non-empty
// text: any failure (unconfigured client, transport error, empty completion)
// is logged and mapped to FallbackReply. One attempt, no streaming.
func (c *Client) GenerateReply(ctx context.Context, prompt string, history []models.Turn) string {
	if c == nil || c.chat == nil {
		slog.Warn("genai: completion requested without configured client, returning fallback")
		return FallbackReply
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(systemInstruction))
	for _, turn := range history {
		switch turn.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("genai: completion request failed", "error", err)
		return FallbackReply
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		slog.Error("genai: completion returned no usable choices")
		return FallbackReply
	}
	slog.Debug("genai: completion succeeded", "history_len", len(history), "reply_length", len(resp.Choices[0].Message.Content))
	return resp.Choices[0].Message.Content
}
