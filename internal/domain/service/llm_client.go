package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LLMClient is the interface the Planner/Verifier use to reach a language
// model. Decouples the domain from specific provider implementations down
// to a single-shot, JSON-only completion call.
type LLMClient interface {
	Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is a single-shot completion request. Temperature is fixed low
// by the caller (0.1) and MaxTokens bounded; the model is instructed to
// emit only JSON.
type LLMRequest struct {
	Messages    []LLMMessage `json:"messages"`
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature"`
}

// LLMMessage represents a single message in the conversation.
type LLMMessage struct {
	Role    string        `json:"role"` // "system", "user", "assistant"
	Content string        `json:"content"`
	Parts   []ContentPart `json:"parts,omitempty"` // multimodal: used to attach a screenshot to final verification
}

// ContentPart is a multimodal content fragment — the only consumer in this
// system is the final verifier, which may attach the task's last screenshot.
type ContentPart struct {
	Type     string `json:"type"` // "text" or "image"
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"` // base64
}

// LLMResponse is the raw model response.
type LLMResponse struct {
	Content    string `json:"content"`
	ModelUsed  string `json:"model_used"`
	TokensUsed int    `json:"tokens_used"`
}

// CallerConfig bounds a single LLM round (request timeout, retries).
type CallerConfig struct {
	RequestTimeout time.Duration // default 30s
	MaxRetries     int           // transport retry budget, default 2
	RetryBaseWait  time.Duration // default 1s
}

func (c CallerConfig) withDefaults() CallerConfig {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBaseWait <= 0 {
		c.RetryBaseWait = 1 * time.Second
	}
	return c
}

// Caller wraps an LLMClient with bounded request timeout and transport
// retry with exponential backoff, scoped to a single non-streaming round.
type Caller struct {
	client LLMClient
	cfg    CallerConfig
	logger *zap.Logger
}

// NewCaller wraps client with the given bounds.
func NewCaller(client LLMClient, cfg CallerConfig, logger *zap.Logger) *Caller {
	return &Caller{client: client, cfg: cfg.withDefaults(), logger: logger}
}

// Call performs one LLM round with transport-level retry. A transport
// failure (network, timeout) counts as one retry unit, not a step — the
// caller budgets model retries separately from action retries.
func (c *Caller) Call(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.cfg.RetryBaseWait * time.Duration(1<<(attempt-1))
			c.logger.Info("retrying LLM call",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		resp, err := c.client.Generate(callCtx, req)
		cancel()

		if err == nil {
			return resp, nil
		}

		lastErr = err
		if !isRetryableTransportError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("LLM call failed after %d retries: %w", c.cfg.MaxRetries, lastErr)
}

func isRetryableTransportError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	nonRetryable := []string{"context canceled", "unauthorized", "invalid api key", "bad request", "model not found"}
	for _, p := range nonRetryable {
		if strings.Contains(errStr, p) {
			return false
		}
	}

	retryable := []string{"timeout", "deadline exceeded", "connection reset", "connection refused",
		"eof", "502", "503", "504", "529", "rate limit", "too many requests", "overloaded"}
	for _, p := range retryable {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return true
}

// stripJSONFence removes a surrounding ```json ... ``` or ``` ... ``` fence,
// since some models wrap strict JSON output in markdown even when
// instructed not to.
func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// parseStrictJSON strips reasoning tags and a markdown fence, then decodes
// strictly into out. Returns the cleaned text for use in a repair prompt on
// failure.
func parseStrictJSON(raw string, out any) (string, error) {
	cleaned := stripJSONFence(StripReasoningTags(raw))
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(out); err != nil {
		return cleaned, err
	}
	return cleaned, nil
}
