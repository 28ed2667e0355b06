package llmclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/fyrsmithlabs/orchestrator/internal/model"
)

// AnthropicClient is the Client implementation backed by the real
// Anthropic API, replacing the placeholder stub the platform's earlier
// workflow agents shipped with.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient builds an AnthropicClient. modelName and apiKey are
// required; an empty apiKey produces a client that always errors, so
// misconfiguration surfaces at call time rather than being silently
// tolerated the way the old stub did.
func NewAnthropicClient(apiKey, modelName string, maxTokens int) *AnthropicClient {
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(modelName),
		maxTokens: int64(maxTokens),
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt string, history []model.Message) (Response, error) {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			return Response{}, fmt.Errorf("llmclient: unsupported message role %q", m.Role)
		}
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  messages,
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
			return Response{}, ErrRateLimited
		}
		return Response{}, fmt.Errorf("llmclient: completion request failed: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return Response{
		Text:         text,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}
