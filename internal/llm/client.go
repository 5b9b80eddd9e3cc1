package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Completer is the reasoning/completion collaborator every pipeline step is
// delegated to. Implementations must be stateless and safe for concurrent use;
// steps running in parallel share one instance.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Client struct {
	api   *openai.Client
	model string
}

func NewClient(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(cfg),
		model: model,
	}
}

func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	start := time.Now()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		slog.Error("completion API error", "error", err, "model", c.model)
		return "", fmt.Errorf("completion API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	content := resp.Choices[0].Message.Content
	slog.Info("completion received",
		"model", resp.Model,
		"tokens_used", resp.Usage.TotalTokens,
		"response_length", len(content),
		"elapsed_ms", time.Since(start).Milliseconds())

	return content, nil
}
