package whatsapp

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zapdesk/zapdesk-backend/internal/models"
)

// Responder produces an AI reply for an inbound message given the ticket's
// recent history. Implemented by the OpenAI client; faked in tests.
type Responder interface {
	Reply(ctx context.Context, cfg *models.BotConfig, history []*models.Message, incoming string) (string, error)
}

// OpenAIResponder calls the chat-completion API with the user's own API key.
type OpenAIResponder struct {
	model string
}

// NewOpenAIResponder creates a responder; model falls back to gpt-4o-mini.
func NewOpenAIResponder(model string) *OpenAIResponder {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIResponder{model: model}
}

// Reply builds a single prompt from system instructions, FAQ, serialized
// history and the new message, and calls the model once.
func (r *OpenAIResponder) Reply(ctx context.Context, cfg *models.BotConfig, history []*models.Message, incoming string) (string, error) {
	client := openai.NewClient(cfg.AIKey)

	system := cfg.SystemPrompt
	if system == "" {
		system = "You are a helpful customer support assistant. Answer briefly and politely."
	}
	if cfg.FAQ != "" {
		system += "\n\nFrequently asked questions:\n" + cfg.FAQ
	}

	var prompt strings.Builder
	for _, msg := range history {
		if msg.Sender == models.SenderContact {
			prompt.WriteString("Client: ")
		} else {
			prompt.WriteString("You: ")
		}
		prompt.WriteString(msg.Text)
		prompt.WriteString("\n")
	}
	prompt.WriteString("Client: ")
	prompt.WriteString(incoming)
	prompt.WriteString("\nYou:")

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
