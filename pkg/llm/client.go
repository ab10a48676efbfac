// Package llm provides the minimal model-calling contract the
// adaptation roles rely on, plus an Anthropic-backed implementation.
// Retry and timeout policy belong to the client, not to the engine.
package llm

import (
	"context"
	stderrors "errors"
	"os"
	"time"

	"github.com/XiaoConstantine/ace-go/pkg/errors"
	"github.com/XiaoConstantine/ace-go/pkg/logging"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Response is a normalized model response.
type Response struct {
	Content   string
	Model     string
	LatencyMs int64
}

// Client is the minimal contract all LLM-backed roles rely on.
type Client interface {
	Generate(ctx context.Context, prompt string) (*Response, error)
}

// AnthropicClient implements Client using the Anthropic Messages API.
type AnthropicClient struct {
	client      *anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithMaxTokens overrides the default completion budget.
func WithMaxTokens(n int64) AnthropicOption {
	return func(a *AnthropicClient) { a.maxTokens = n }
}

// WithTemperature overrides the default sampling temperature.
func WithTemperature(t float64) AnthropicOption {
	return func(a *AnthropicClient) { a.temperature = t }
}

// NewAnthropicClient creates a client for the given model. An empty
// apiKey falls back to ANTHROPIC_API_KEY.
func NewAnthropicClient(apiKey string, model string, opts ...AnthropicOption) (*AnthropicClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New(errors.InvalidInput, "API key is required")
	}
	if model == "" {
		return nil, errors.New(errors.InvalidInput, "model is required")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	a := &AnthropicClient{
		client:      &client,
		model:       anthropic.Model(model),
		maxTokens:   2048,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Generate implements Client.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string) (*Response, error) {
	logger := logging.GetLogger()
	start := time.Now()

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: a.model,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
	})

	if err != nil {
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			logger.Error(ctx, "Anthropic API error: status code %d", apiErr.StatusCode)
		}
		return nil, errors.WithFields(
			errors.Wrap(err, errors.LLMGenerationFailed, "failed to generate response"),
			errors.Fields{"model": string(a.model)},
		)
	}

	if message == nil || len(message.Content) == 0 {
		return nil, errors.New(errors.LLMGenerationFailed, "received empty content from Anthropic API")
	}

	var responseText string
	if block := message.Content[0]; block.Type == "text" {
		responseText = block.Text
	}

	logger.Debug(ctx, "Anthropic response: %d prompt tokens, %d completion tokens",
		message.Usage.InputTokens, message.Usage.OutputTokens)

	return &Response{
		Content:   responseText,
		Model:     string(a.model),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
