// Package llm talks to a local Ollama-compatible chat endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/askbot/pkg/logger"
	"github.com/okian/askbot/pkg/metrics"
)

// Default client configuration constants.
const (
	DefaultURL     = "http://localhost:11434/api/chat"
	DefaultModel   = "hAiVbot:latest"
	defaultTimeout = 2 * time.Minute
	maxErrorBody   = 512
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message *Message `json:"message"`
}

// Client calls the chat endpoint with retries.
type Client struct {
	url     string
	model   string
	timeout time.Duration
	retry   RetryConfig
	http    *http.Client
	logger  logger.Logger
}

// NewClient creates a client for url.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		model:   DefaultModel,
		timeout: defaultTimeout,
		retry:   DefaultRetryConfig,
		http:    &http.Client{},
		logger:  logger.Get().Named("llm"),
	}
	if c.url == "" {
		c.url = DefaultURL
	}

	// Apply all options
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends messages and returns the assistant's reply text. Every
// failure is reported as ErrUnavailable.
func (c *Client) Generate(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	defer func() {
		metrics.RecordCollaboratorLatency("llm", float64(time.Since(start).Milliseconds()))
	}()

	reply, err := c.generate(ctx, messages)
	if err != nil {
		metrics.RecordCollaboratorFailure("llm")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return reply, nil
}

func (c *Client) generate(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Stream: false})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	resp, err := doWithRetry(ctx, c.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.http.Do(req)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Message == nil || strings.TrimSpace(out.Message.Content) == "" {
		c.logger.Warn(ctx, "unexpected response shape from language model")
		return "", errors.New("response has no message content")
	}
	return out.Message.Content, nil
}
