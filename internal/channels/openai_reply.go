package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/shuv1337/shuvbot/internal/bus"
	"github.com/shuv1337/shuvbot/internal/config"
)

const defaultSystemPrompt = "You are a helpful assistant replying in a Signal chat. Keep answers short and plain-text."

// OpenAIReplier generates replies with a chat-completion model on any
// OpenAI-compatible endpoint. Each event is answered on its own; no
// conversation history is kept.
type OpenAIReplier struct {
	client    *openai.Client
	model     string
	system    string
	maxTokens int
	timeout   time.Duration
}

// NewOpenAIReplier creates a replier from cfg; timeout <= 0 uses 30s.
func NewOpenAIReplier(cfg config.OpenAIConfig, timeout time.Duration) *OpenAIReplier {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if timeout <= 0 {
		timeout = defaultReplyTimeout
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	return &OpenAIReplier{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		system:    system,
		maxTokens: cfg.MaxTokens,
		timeout:   timeout,
	}
}

// Generate implements ReplyGenerator.
func (o *OpenAIReplier) Generate(ctx context.Context, ev bus.InboundEvent, route bus.Route) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	slog.Debug("calling chat model", "model", o.model, "chat_id", route.ChatID)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.system},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(ev)},
		},
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai reply: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai reply: no response choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// userPrompt labels the message with who sent it and where.
func userPrompt(ev bus.InboundEvent) string {
	who := ev.SenderName
	if who == "" {
		who = ev.SenderID
	}
	if ev.IsGroup() {
		where := ev.GroupName
		if where == "" {
			where = ev.GroupID
		}
		return fmt.Sprintf("[%s in group %s]\n%s", who, where, ev.Body)
	}
	return fmt.Sprintf("[%s]\n%s", who, ev.Body)
}
