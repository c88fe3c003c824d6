// Package sonar talks to the Perplexity Sonar chat-completions API.
package sonar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bhuvisx/area-news/backend/internal/normalize"
)

// MaxResponseBytes caps how much of an upstream body is read.
const MaxResponseBytes = 4 << 20

// ErrResponseTooLarge is returned when the upstream body exceeds MaxResponseBytes.
var ErrResponseTooLarge = errors.New("sonar response too large")

// Fetcher returns the upstream answer for a prompt, tagged with the kind of
// text it is. On a non-2xx response the body is still returned alongside the
// error so callers can keep it for diagnostics.
type Fetcher interface {
	Fetch(ctx context.Context, prompt string) (normalize.Input, error)
}

// StatusError is returned for a non-2xx upstream response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sonar returned status %d", e.StatusCode)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// Client posts prompts with net/http and hands back the full response body.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a raw-body client. timeout bounds the whole exchange.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
	}
}

// Fetch returns the response body as KindEnvelope input.
func (c *Client) Fetch(ctx context.Context, prompt string) (normalize.Input, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return normalize.Input{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return normalize.Input{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		return normalize.Input{}, fmt.Errorf("send chat request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, MaxResponseBytes+1))
	if err != nil {
		return normalize.Input{}, fmt.Errorf("read response body: %w", err)
	}
	if len(body) > MaxResponseBytes {
		return normalize.Input{}, fmt.Errorf("%w: over %d bytes, status %d", ErrResponseTooLarge, MaxResponseBytes, res.StatusCode)
	}

	c.log.Debug("sonar response",
		slog.Int("status", res.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("took", time.Since(start)),
	)

	in := normalize.Input{Kind: normalize.KindEnvelope, Text: string(body)}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return in, &StatusError{StatusCode: res.StatusCode}
	}
	return in, nil
}
