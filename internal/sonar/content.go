package sonar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bhuvisx/area-news/backend/internal/normalize"
)

// ContentClient decodes the envelope with go-openai and returns only the
// first choice's message content.
type ContentClient struct {
	client *openai.Client
	model  string
}

// NewContentClient points an OpenAI-compatible client at baseURL.
func NewContentClient(baseURL, apiKey, model string, timeout time.Duration) *ContentClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &ContentClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// Fetch returns the message content as KindContent input.
func (c *ContentClient) Fetch(ctx context.Context, prompt string) (normalize.Input, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return normalize.Input{}, fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return normalize.Input{}, fmt.Errorf("%w: no choices", normalize.ErrEnvelope)
	}
	return normalize.Input{Kind: normalize.KindContent, Text: resp.Choices[0].Message.Content}, nil
}
