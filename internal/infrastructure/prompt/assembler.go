// Package prompt assembles the planner and verifier prompts from a task's
// objective, observation, and step history, covering the three prompt kinds
// the task engine's contract requires. It returns domain/service message
// types directly: this package sits one layer above domain/service and
// hands it ready-to-send messages, never the reverse.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/browserlane/taskengine/internal/domain/entity"
	"github.com/browserlane/taskengine/internal/domain/service"
)

const planSystemPrompt = `You control a web browser on behalf of a user. You will be given an
objective, the current page observation, and a compact history of steps
already attempted. Respond with a single JSON object and nothing else:

{"action": "<kind>", "payload": {...}, "reason": "<short rationale>", "done": false}

"action" must be one of: navigate, waitFor, click, type, press, query,
getPageInfo, getInteractiveElements, smartClick, smartType, switchTab,
download, uploadFile, captureScreenshot.

Set "done": true instead of emitting an action only when the objective is
already satisfied by the current observation. Never invent fields outside
this shape. Never wrap the JSON in prose or markdown.`

const verifySystemPrompt = `You judge whether a single browser action moved the task toward its
objective. Respond with a single JSON object and nothing else:

{"verdict": "ok"|"retry"|"fail", "reason": "<short rationale>"}

Use "retry" when the action did not visibly succeed but another attempt
with a different approach is plausible. Use "fail" only when the objective
can no longer plausibly be achieved.`

const finalVerifySystemPrompt = `You judge whether the overall objective has been achieved, based on the
full step history and the final page observation (and screenshot, if
provided). Respond with a single JSON object and nothing else:

{"verdict": "ok"|"fail", "reason": "<short rationale>"}`

// Assembler builds the Plan, Verify, and FinalVerify prompts.
type Assembler struct{}

// NewAssembler constructs a prompt Assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// compactStep renders a brief (index, action, outcome) summary for history.
func compactStep(s entity.Step) string {
	outcome := string(s.Outcome)
	if s.Error != "" {
		outcome = fmt.Sprintf("%s (%s)", outcome, s.Error)
	}
	return fmt.Sprintf("#%d %s -> %s", s.Index, s.Action, outcome)
}

func renderObservation(obs *entity.Observation) string {
	if obs == nil {
		return "(no observation yet)"
	}
	elements, _ := json.Marshal(obs.Elements)
	var b strings.Builder
	fmt.Fprintf(&b, "url: %s\ntitle: %s\nreadyState: %s\n", obs.URL, obs.Title, obs.ReadyState)
	if obs.Diagnostics.Error != "" {
		fmt.Fprintf(&b, "diagnostics_error: %s\n", obs.Diagnostics.Error)
	}
	fmt.Fprintf(&b, "interactive_elements: %s\n", string(elements))
	return b.String()
}

// Plan builds the planner prompt: objective, latest observation, compact
// history of prior steps.
func (a *Assembler) Plan(objective string, obs *entity.Observation, history []entity.Step) []service.LLMMessage {
	var hist strings.Builder
	if len(history) == 0 {
		hist.WriteString("(no steps yet)")
	}
	for _, s := range history {
		hist.WriteString(compactStep(s))
		hist.WriteString("\n")
	}

	user := fmt.Sprintf("Objective: %s\n\nObservation:\n%s\nHistory:\n%s",
		objective, renderObservation(obs), hist.String())

	return []service.LLMMessage{
		{Role: "system", Content: planSystemPrompt},
		{Role: "user", Content: user},
	}
}

// Verify builds the per-step verifier prompt: objective, prior observation,
// action taken, new observation.
func (a *Assembler) Verify(objective string, prior, next *entity.Observation, action entity.ActionKind, payload map[string]any) []service.LLMMessage {
	payloadJSON, _ := json.Marshal(payload)
	user := fmt.Sprintf(
		"Objective: %s\n\nAction taken: %s %s\n\nBefore:\n%s\nAfter:\n%s",
		objective, action, string(payloadJSON), renderObservation(prior), renderObservation(next),
	)
	return []service.LLMMessage{
		{Role: "system", Content: verifySystemPrompt},
		{Role: "user", Content: user},
	}
}

// FinalVerify builds the final-verification prompt, optionally attaching a
// screenshot as a multimodal content part.
func (a *Assembler) FinalVerify(objective string, obs *entity.Observation, history []entity.Step, screenshotB64 string) []service.LLMMessage {
	var hist strings.Builder
	for _, s := range history {
		hist.WriteString(compactStep(s))
		hist.WriteString("\n")
	}
	user := fmt.Sprintf("Objective: %s\n\nFinal observation:\n%s\nFull history:\n%s",
		objective, renderObservation(obs), hist.String())

	msg := service.LLMMessage{Role: "user", Content: user}
	if screenshotB64 != "" {
		msg.Parts = []service.ContentPart{
			{Type: "text", Text: user},
			{Type: "image", MimeType: "image/png", Data: screenshotB64},
		}
	}

	return []service.LLMMessage{
		{Role: "system", Content: finalVerifySystemPrompt},
		msg,
	}
}
