// Package ai wraps the Anthropic API for the analysis stages. Every LLM call
// in the pipeline goes through one shared Client, which owns retry, rate
// limiting, and the concurrency cap.
package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// ModelDefault handles the reasoning-heavy calls (grouping, analysis)
	ModelDefault = "claude-sonnet-4-5-20250929"
	// ModelFast handles cheap per-file calls (summaries, shortlisting)
	ModelFast = "claude-3-5-haiku-20241022"
)

// ErrMissingAPIKey means no Anthropic credential was found. It is fatal and
// surfaces before any stage starts.
var ErrMissingAPIKey = errors.New("ANTHROPIC_API_KEY not set")

// Config holds client construction options.
type Config struct {
	APIKey             string        // Falls back to ANTHROPIC_API_KEY env var
	Model              string        // Default model (ModelDefault if empty)
	MaxRetries         int           // Retries per call (default: 3)
	InitialBackoff     time.Duration // First backoff (default: 1s)
	MaxBackoff         time.Duration // Backoff ceiling (default: 30s)
	Timeout            time.Duration // Per-attempt timeout (default: 60s)
	MaxConcurrentCalls int           // Concurrent API calls (default: 3)
	RequestsPerSecond  float64       // Client-side rate limit (default: 2)
}

// Client is the shared LLM collaborator handed to every stage.
type Client struct {
	client  *anthropic.Client
	model   string
	cfg     Config
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewClient builds the shared client. Missing credentials fail here, before
// any run transitions to running.
func NewClient(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
	}
	if cfg.Model == "" {
		cfg.Model = ModelDefault
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxConcurrentCalls == 0 {
		cfg.MaxConcurrentCalls = 3
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 2
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client:  &client,
		model:   cfg.Model,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}, nil
}

// Model returns the default model name.
func (c *Client) Model() string { return c.model }

// Complete sends one system+user prompt pair and returns the concatenated
// text blocks of the response. model may be empty to use the default.
func (c *Client) Complete(ctx context.Context, model, system, prompt string, maxTokens int) (string, error) {
	if model == "" {
		model = c.model
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("failed to acquire API slot: %w", err)
	}
	defer c.sem.Release(1)

	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, func(attemptCtx context.Context) error {
		if err := c.limiter.Wait(attemptCtx); err != nil {
			return err
		}
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}
		resp, apiErr := c.client.Messages.New(attemptCtx, params)
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(text.String()), nil
}

// retryWithBackoff runs fn with exponential backoff on transient failures.
func (c *Client) retryWithBackoff(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	backoff := c.cfg.InitialBackoff

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetriableError(err) {
			return err
		}
		if attempt == c.cfg.MaxRetries {
			break
		}

		fmt.Fprintf(os.Stderr, "AI API call failed (attempt %d/%d), retrying in %v: %v\n",
			attempt+1, c.cfg.MaxRetries+1, backoff, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * 2)
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
	return fmt.Errorf("exhausted %d retries: %w", c.cfg.MaxRetries, lastErr)
}

// isRetriableError classifies transient failures worth retrying. Client
// errors other than rate limits indicate a bad request and are not retried.
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	errStr := err.Error()
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "overloaded") {
		return true
	}
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") {
		return true
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") {
		return true
	}
	return false
}
