// Package llm is a small provider-neutral chat completion client used for
// question generation and transcript scoring.
package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	defaultMaxTokens = 8192
)

type Message struct {
	Role    string
	Content string
}

type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// JSONCompleter is implemented by clients that can constrain the response to
// a single JSON value.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, messages []Message) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL   string
	maxTokens int
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

func WithMaxTokens(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

func NewClientFromModel(model, apiKey string, opts ...Option) (Client, error) {
	provider, name, err := ParseModel(model)
	if err != nil {
		return nil, err
	}
	return NewClient(provider, apiKey, name, opts...)
}

// CompleteJSON asks for a JSON response, using the provider's JSON mode when
// the client has one.
func CompleteJSON(ctx context.Context, client Client, messages []Message) (string, error) {
	if jc, ok := client.(JSONCompleter); ok {
		return jc.CompleteJSON(ctx, messages)
	}
	return client.Complete(ctx, messages)
}

// StripCodeFence removes a surrounding markdown code fence, with or without a
// language tag.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "{[\"") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
