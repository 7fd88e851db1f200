package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingLLM struct {
	failures int
	err      error
	resp     *LLMResponse
	calls    int
}

func (c *countingLLM) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}
	return c.resp, nil
}

func TestCaller_RetriesRetryableTransportErrors(t *testing.T) {
	llm := &countingLLM{failures: 1, err: errors.New("connection reset by peer"), resp: &LLMResponse{Content: "ok"}}
	caller := NewCaller(llm, CallerConfig{MaxRetries: 2, RetryBaseWait: time.Millisecond}, zap.NewNop())
	resp, err := caller.Call(context.Background(), &LLMRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if llm.calls != 2 {
		t.Fatalf("expected exactly 2 calls (1 failure + 1 success), got %d", llm.calls)
	}
}

func TestCaller_DoesNotRetryNonRetryableErrors(t *testing.T) {
	llm := &countingLLM{failures: 100, err: errors.New("401 unauthorized"), resp: &LLMResponse{Content: "unused"}}
	caller := NewCaller(llm, CallerConfig{MaxRetries: 2, RetryBaseWait: time.Millisecond}, zap.NewNop())
	_, err := caller.Call(context.Background(), &LLMRequest{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if llm.calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable error, got %d", llm.calls)
	}
}

func TestCaller_FailsAfterExhaustingRetryBudget(t *testing.T) {
	llm := &countingLLM{failures: 100, err: errors.New("503 service unavailable")}
	caller := NewCaller(llm, CallerConfig{MaxRetries: 2, RetryBaseWait: time.Millisecond}, zap.NewNop())
	_, err := caller.Call(context.Background(), &LLMRequest{})
	if err == nil {
		t.Fatal("expected an error after exhausting the retry budget")
	}
	if llm.calls != 3 {
		t.Fatalf("expected 3 total attempts (1 + 2 retries), got %d", llm.calls)
	}
}

func TestCaller_RespectsContextCancellationDuringBackoff(t *testing.T) {
	llm := &countingLLM{failures: 100, err: errors.New("connection reset")}
	caller := NewCaller(llm, CallerConfig{MaxRetries: 5, RetryBaseWait: time.Second}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := caller.Call(ctx, &LLMRequest{})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseStrictJSON_StripsFenceAndReasoningTags(t *testing.T) {
	var out struct {
		Verdict string `json:"verdict"`
	}
	raw := "<think>hmm let me consider</think>```json\n{\"verdict\":\"ok\"}\n```"
	cleaned, err := parseStrictJSON(raw, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Verdict != "ok" {
		t.Fatalf("expected verdict=ok, got %+v (cleaned=%q)", out, cleaned)
	}
}

func TestParseStrictJSON_RejectsMalformedJSON(t *testing.T) {
	var out map[string]any
	if _, err := parseStrictJSON("this is not json", &out); err == nil {
		t.Fatal("expected a parse error for non-JSON input")
	}
}
