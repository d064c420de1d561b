package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func newAnthropicClient(apiKey, model string, opts *clientOptions) (*anthropicClient, error) {
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.baseURL))
	}
	maxTokens := int64(opts.maxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &anthropicClient{client: anthropic.NewClient(clientOpts...), model: model, maxTokens: maxTokens}, nil
}

func (c *anthropicClient) Complete(ctx context.Context, messages []Message) (string, error) {
	return c.complete(ctx, messages, "")
}

// CompleteJSON prefills the assistant turn with an opening brace; the API
// has no JSON response mode.
func (c *anthropicClient) CompleteJSON(ctx context.Context, messages []Message) (string, error) {
	return c.complete(ctx, messages, "{")
}

func (c *anthropicClient) complete(ctx context.Context, messages []Message, prefill string) (string, error) {
	var systemBlocks []anthropic.TextBlockParam
	var chatMessages []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: m.Content})
		case RoleUser:
			chatMessages = append(chatMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			chatMessages = append(chatMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if prefill != "" {
		chatMessages = append(chatMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(prefill)))
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    systemBlocks,
		Messages:  chatMessages,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var b strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	result := strings.TrimSpace(b.String())
	if result == "" {
		return "", fmt.Errorf("anthropic: empty response content")
	}
	if prefill != "" && !strings.HasPrefix(result, prefill) {
		result = prefill + result
	}
	return result, nil
}
