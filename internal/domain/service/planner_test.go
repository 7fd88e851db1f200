package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

// fakeAssembler returns fixed messages regardless of input, sufficient for
// exercising the Planner/Verifier's parse-and-validate contract.
type fakeAssembler struct{}

func (fakeAssembler) Plan(objective string, obs *entity.Observation, history []entity.Step) []LLMMessage {
	return []LLMMessage{{Role: "user", Content: "plan: " + objective}}
}

func (fakeAssembler) Verify(objective string, prior, next *entity.Observation, action entity.ActionKind, payload map[string]any) []LLMMessage {
	return []LLMMessage{{Role: "user", Content: "verify: " + objective}}
}

func (fakeAssembler) FinalVerify(objective string, obs *entity.Observation, history []entity.Step, screenshotB64 string) []LLMMessage {
	return []LLMMessage{{Role: "user", Content: "final: " + objective}}
}

// scriptedLLM returns responses from a queue, one per Generate call, so a
// test can script a sequence (e.g. malformed then well-formed).
type scriptedLLM struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedLLM) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return nil, errors.New("scriptedLLM: ran out of scripted responses")
	}
	return &LLMResponse{Content: s.responses[i]}, nil
}

func newTestCaller(client LLMClient) *Caller {
	// Millisecond backoff keeps tests that intentionally exhaust the
	// transport retry budget fast.
	return NewCaller(client, CallerConfig{RetryBaseWait: time.Millisecond}, zap.NewNop())
}

func TestPlanner_ParsesValidJSONOnFirstTry(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{"action":"navigate","payload":{"url":"https://example.com"},"reason":"go there"}`}}
	planner, err := NewPlanner(fakeAssembler{}, newTestCaller(llm), "test-model", zap.NewNop())
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	plan, err := planner.Next(context.Background(), "go to example.com", &entity.Observation{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Action != entity.ActionNavigate || plan.Done {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestPlanner_DoneWithoutAction(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{"reason":"objective already satisfied","done":true}`}}
	planner, err := NewPlanner(fakeAssembler{}, newTestCaller(llm), "test-model", zap.NewNop())
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	plan, err := planner.Next(context.Background(), "obj", &entity.Observation{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.Done {
		t.Fatal("expected Done=true")
	}
}

func TestPlanner_StripsMarkdownFence(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"```json\n{\"action\":\"click\",\"payload\":{\"selector\":\"#go\"},\"reason\":\"click it\"}\n```"}}
	planner, err := NewPlanner(fakeAssembler{}, newTestCaller(llm), "test-model", zap.NewNop())
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	plan, err := planner.Next(context.Background(), "obj", &entity.Observation{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Action != entity.ActionClick {
		t.Fatalf("expected click, got %+v", plan)
	}
}

func TestPlanner_RepairsAfterMalformedJSON(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"not json at all",
		`{"action":"click","payload":{"selector":"#retry-target"},"reason":"retrying with corrected selector"}`,
	}}
	planner, err := NewPlanner(fakeAssembler{}, newTestCaller(llm), "test-model", zap.NewNop())
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	plan, err := planner.Next(context.Background(), "obj", &entity.Observation{}, nil)
	if err != nil {
		t.Fatalf("expected recovery via repair retry, got error: %v", err)
	}
	if plan.Action != entity.ActionClick {
		t.Fatalf("unexpected plan after repair: %+v", plan)
	}
	if llm.calls != 2 {
		t.Fatalf("expected exactly one repair attempt (2 calls total), got %d", llm.calls)
	}
}

func TestPlanner_ReportsModelParseErrorAfterExhaustingRepairs(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"nope", "still nope", "nope again"}}
	planner, err := NewPlanner(fakeAssembler{}, newTestCaller(llm), "test-model", zap.NewNop())
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	_, err = planner.Next(context.Background(), "obj", &entity.Observation{}, nil)
	if err == nil {
		t.Fatal("expected a model_parse_error after exhausting repair attempts")
	}
	ee, ok := err.(*entity.EngineError)
	if !ok || ee.Kind != entity.ErrKindModel {
		t.Fatalf("expected ErrKindModel, got %v", err)
	}
	if llm.calls != maxRepairAttempts+1 {
		t.Fatalf("expected %d total calls (1 + %d repairs), got %d", maxRepairAttempts+1, maxRepairAttempts, llm.calls)
	}
}

func TestPlanner_SurfacesModelErrorOnTransportFailure(t *testing.T) {
	// "invalid api key" matches the Caller's non-retryable pattern list, so
	// the call fails immediately instead of exhausting the retry budget.
	llm := &scriptedLLM{errs: []error{errors.New("invalid api key")}}
	planner, err := NewPlanner(fakeAssembler{}, newTestCaller(llm), "test-model", zap.NewNop())
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	_, err = planner.Next(context.Background(), "obj", &entity.Observation{}, nil)
	ee, ok := err.(*entity.EngineError)
	if !ok || ee.Kind != entity.ErrKindModel {
		t.Fatalf("expected ErrKindModel, got %v", err)
	}
}

func TestVerifier_ParsesValidVerdict(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{"verdict":"ok","reason":"page shows the expected content"}`}}
	verifier, err := NewVerifier(fakeAssembler{}, newTestCaller(llm), "test-model", zap.NewNop())
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	verdict, err := verifier.Check(context.Background(), "obj", &entity.Observation{}, &entity.Observation{}, entity.ActionClick, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Verdict != entity.VerdictOK {
		t.Fatalf("expected ok verdict, got %+v", verdict)
	}
}

func TestVerifier_RejectsVerdictOutsideEnum(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"verdict":"maybe","reason":"unsure"}`,
		`{"verdict":"retry","reason":"element not visible yet"}`,
	}}
	verifier, err := NewVerifier(fakeAssembler{}, newTestCaller(llm), "test-model", zap.NewNop())
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	verdict, err := verifier.Check(context.Background(), "obj", &entity.Observation{}, &entity.Observation{}, entity.ActionClick, nil)
	if err != nil {
		t.Fatalf("expected recovery via repair retry, got error: %v", err)
	}
	if verdict.Verdict != entity.VerdictRetry {
		t.Fatalf("unexpected verdict after repair: %+v", verdict)
	}
}
