package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = anthropic.Model("claude-sonnet-4-5")

const maxOutputTokens = 2048

const systemPrompt = `You are an experienced engineering lead reviewing a task on a kanban board.
Answer in markdown with three short parts: a one-paragraph summary, a bullet list of risks or open
questions, and a bullet list of suggested next steps. Do not repeat the task verbatim.`

// AnthropicProvider generates text with the Claude Messages API.
type AnthropicProvider struct {
	inner anthropic.Client
	model anthropic.Model
}

// NewAnthropicProvider creates a provider. Extra request options such as a
// base URL may be passed for testing.
func NewAnthropicProvider(apiKey, model string, opts ...option.RequestOption) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key not set")
	}
	m := DefaultAnthropicModel
	if model != "" {
		m = anthropic.Model(model)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicProvider{inner: anthropic.NewClient(opts...), model: m}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: int64(maxOutputTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude API call: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(text.String()), nil
}
