package generate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Request is one chat completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// Client produces text for a prompt.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// OpenAIConfig configures an OpenAI-compatible chat completion client.
type OpenAIConfig struct {
	// APIKey authenticates against the service. Empty means no client.
	APIKey string

	// BaseURL overrides the service endpoint, e.g. a local gateway
	BaseURL string

	// Model is the chat model (default gpt-4o-mini)
	Model string

	// HTTPTimeout bounds each HTTP round trip (default 30s)
	HTTPTimeout time.Duration
}

// OpenAIClient calls the chat completion endpoint of an OpenAI-compatible
// service.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewClient returns a client for config, or nil when no API key is set.
// A nil Client is a valid configuration: every feature falls back to
// deterministic output.
func NewClient(config OpenAIConfig) Client {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil
	}
	return NewOpenAIClient(config)
}

// NewOpenAIClient creates an OpenAIClient.
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 30 * time.Second
	}

	oc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		oc.BaseURL = config.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: config.HTTPTimeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		model:  config.Model,
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Complete sends req as a system plus user message pair and returns the
// first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedOutput)
	}

	return resp.Choices[0].Message.Content, nil
}

var _ Client = (*OpenAIClient)(nil)
