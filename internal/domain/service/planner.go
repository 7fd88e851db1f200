package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

// PromptAssembler is the port the Planner and Verifier use to render their
// prompts. Implemented by infrastructure/prompt.Assembler; defined here
// (rather than imported from there) so that domain/service never depends on
// an infrastructure package — the dependency runs the other way, with
// domain/service receiving ready-built message slices instead of calling
// the prompt engine itself.
type PromptAssembler interface {
	Plan(objective string, obs *entity.Observation, history []entity.Step) []LLMMessage
	Verify(objective string, prior, next *entity.Observation, action entity.ActionKind, payload map[string]any) []LLMMessage
	FinalVerify(objective string, obs *entity.Observation, history []entity.Step, screenshotB64 string) []LLMMessage
}

const planSchemaJSON = `{
  "type": "object",
  "properties": {
    "action": {"type": "string"},
    "payload": {"type": "object"},
    "reason": {"type": "string"},
    "done": {"type": "boolean"}
  },
  "required": ["reason"]
}`

const verdictSchemaJSON = `{
  "type": "object",
  "properties": {
    "verdict": {"type": "string", "enum": ["ok", "retry", "fail"]},
    "reason": {"type": "string"}
  },
  "required": ["verdict", "reason"]
}`

// maxRepairAttempts bounds the parse/validate repair loop: the model gets
// up to this many extra turns with a repair instruction appended before the
// caller reports a model_parse_error.
const maxRepairAttempts = 2

func compileSchema(name, schemaJSON string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema resource %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	return c.Compile(name)
}

func validateJSON(schema *jsonschema.Schema, cleaned string) error {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(cleaned))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}

// PlanResult is the planner's decoded decision: either an action to perform
// or a declaration that the objective is already satisfied (Done).
type PlanResult struct {
	Action  entity.ActionKind `json:"action"`
	Payload map[string]any    `json:"payload"`
	Reason  string            `json:"reason"`
	Done    bool              `json:"done"`
}

// Planner asks the model for the next action given the current observation
// and step history, producing one constrained JSON decision per call.
type Planner struct {
	assembler PromptAssembler
	caller    *Caller
	schema    *jsonschema.Schema
	model     string
	logger    *zap.Logger
}

// NewPlanner compiles the plan-contract schema and constructs a Planner.
func NewPlanner(assembler PromptAssembler, caller *Caller, model string, logger *zap.Logger) (*Planner, error) {
	schema, err := compileSchema("plan.json", planSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &Planner{
		assembler: assembler,
		caller:    caller,
		schema:    schema,
		model:     model,
		logger:    logger.With(zap.String("component", "planner")),
	}, nil
}

// Next returns the model's next decision. On repeated parse or schema
// failure it retries up to maxRepairAttempts times with a repair
// instruction appended to the conversation, then surfaces a model_error
// EngineError.
func (p *Planner) Next(ctx context.Context, objective string, obs *entity.Observation, history []entity.Step) (*PlanResult, error) {
	messages := p.assembler.Plan(objective, obs, history)

	var lastRaw string
	var lastErr error

	for attempt := 0; attempt <= maxRepairAttempts; attempt++ {
		if attempt > 0 {
			messages = append(messages, LLMMessage{
				Role: "user",
				Content: fmt.Sprintf(
					"Your previous response was not valid JSON matching the required shape: %v\n\nPrevious response:\n%s\n\nRespond again with only the corrected JSON object.",
					lastErr, lastRaw),
			})
		}

		resp, err := p.caller.Call(ctx, &LLMRequest{Messages: messages, Model: p.model, Temperature: 0.1, MaxTokens: 1024})
		if err != nil {
			return nil, entity.NewEngineError(entity.ErrKindModel, "planner LLM call failed", err)
		}

		var result PlanResult
		cleaned, perr := parseStrictJSON(resp.Content, &result)
		if perr == nil {
			if verr := validateJSON(p.schema, cleaned); verr == nil {
				if result.Action == "" && !result.Done {
					perr = fmt.Errorf("neither action nor done set")
				} else {
					return &result, nil
				}
			} else {
				perr = verr
			}
		}

		lastRaw, lastErr = resp.Content, perr
		p.logger.Warn("planner output failed validation", zap.Int("attempt", attempt), zap.Error(perr))
	}

	return nil, entity.NewEngineError(entity.ErrKindModel, "model_parse_error: planner output never matched the plan contract", lastErr)
}

// VerifyResult is the verifier's decoded judgment.
type VerifyResult struct {
	Verdict entity.Verdict `json:"verdict"`
	Reason  string         `json:"reason"`
}

// Verifier judges whether a step (or the final task state) satisfies the
// objective. Mirrors Planner's repair-retry shape against a distinct
// verdict-contract schema.
type Verifier struct {
	assembler PromptAssembler
	caller    *Caller
	schema    *jsonschema.Schema
	model     string
	logger    *zap.Logger
}

// NewVerifier compiles the verdict-contract schema and constructs a Verifier.
func NewVerifier(assembler PromptAssembler, caller *Caller, model string, logger *zap.Logger) (*Verifier, error) {
	schema, err := compileSchema("verdict.json", verdictSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		assembler: assembler,
		caller:    caller,
		schema:    schema,
		model:     model,
		logger:    logger.With(zap.String("component", "verifier")),
	}, nil
}

func (v *Verifier) call(ctx context.Context, messages []LLMMessage) (*VerifyResult, error) {
	var lastRaw string
	var lastErr error

	for attempt := 0; attempt <= maxRepairAttempts; attempt++ {
		if attempt > 0 {
			messages = append(messages, LLMMessage{
				Role: "user",
				Content: fmt.Sprintf(
					"Your previous response was not valid JSON matching the required shape: %v\n\nPrevious response:\n%s\n\nRespond again with only the corrected JSON object.",
					lastErr, lastRaw),
			})
		}

		resp, err := v.caller.Call(ctx, &LLMRequest{Messages: messages, Model: v.model, Temperature: 0.1, MaxTokens: 512})
		if err != nil {
			return nil, entity.NewEngineError(entity.ErrKindModel, "verifier LLM call failed", err)
		}

		var result VerifyResult
		cleaned, perr := parseStrictJSON(resp.Content, &result)
		if perr == nil {
			if verr := validateJSON(v.schema, cleaned); verr == nil {
				return &result, nil
			} else {
				perr = verr
			}
		}

		lastRaw, lastErr = resp.Content, perr
		v.logger.Warn("verifier output failed validation", zap.Int("attempt", attempt), zap.Error(perr))
	}

	return nil, entity.NewEngineError(entity.ErrKindModel, "model_parse_error: verifier output never matched the verdict contract", lastErr)
}

// Check judges a single step: did the action visibly move the task toward
// the objective.
func (v *Verifier) Check(ctx context.Context, objective string, prior, next *entity.Observation, action entity.ActionKind, payload map[string]any) (*VerifyResult, error) {
	messages := v.assembler.Verify(objective, prior, next, action, payload)
	return v.call(ctx, messages)
}

// Final judges whether the overall objective has been achieved, optionally
// attaching the task's last screenshot.
func (v *Verifier) Final(ctx context.Context, objective string, obs *entity.Observation, history []entity.Step, screenshotB64 string) (*VerifyResult, error) {
	messages := v.assembler.FinalVerify(objective, obs, history, screenshotB64)
	return v.call(ctx, messages)
}
