package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

func TestAssembler_PlanIncludesObjectiveAndSystemPrompt(t *testing.T) {
	a := NewAssembler()
	msgs := a.Plan("log in as admin", nil, nil)

	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "single JSON object") {
		t.Fatalf("unexpected system message: %+v", msgs[0])
	}
	if !strings.Contains(msgs[1].Content, "log in as admin") {
		t.Fatalf("expected objective in user message, got %s", msgs[1].Content)
	}
	if !strings.Contains(msgs[1].Content, "(no observation yet)") {
		t.Fatalf("expected nil-observation placeholder, got %s", msgs[1].Content)
	}
	if !strings.Contains(msgs[1].Content, "(no steps yet)") {
		t.Fatalf("expected empty-history placeholder, got %s", msgs[1].Content)
	}
}

func TestAssembler_PlanRendersObservationAndHistory(t *testing.T) {
	a := NewAssembler()
	obs := &entity.Observation{
		URL:        "https://example.com",
		Title:      "Example",
		ReadyState: "complete",
		Elements:   []entity.ElementDescriptor{{Tag: "button", Text: "Submit"}},
	}
	history := []entity.Step{
		{Index: 0, Action: "navigate", Outcome: entity.OutcomeOK},
		{Index: 1, Action: "click", Outcome: entity.OutcomeError, Error: "element_not_found"},
	}

	msgs := a.Plan("submit the form", obs, history)
	user := msgs[1].Content

	if !strings.Contains(user, "https://example.com") || !strings.Contains(user, "complete") {
		t.Fatalf("expected observation fields rendered, got %s", user)
	}
	if !strings.Contains(user, "#0 navigate ->") || !strings.Contains(user, "#1 click -> error (element_not_found)") {
		t.Fatalf("expected compact step history rendered, got %s", user)
	}
}

func TestAssembler_VerifyIncludesBeforeAndAfter(t *testing.T) {
	a := NewAssembler()
	prior := &entity.Observation{URL: "https://example.com/before"}
	next := &entity.Observation{URL: "https://example.com/after"}

	msgs := a.Verify("go to the next page", prior, next, entity.ActionClick, map[string]any{"selector": "#next"})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	user := msgs[1].Content
	if !strings.Contains(user, "https://example.com/before") || !strings.Contains(user, "https://example.com/after") {
		t.Fatalf("expected both before/after URLs rendered, got %s", user)
	}
	if !strings.Contains(user, `"selector":"#next"`) {
		t.Fatalf("expected payload JSON rendered, got %s", user)
	}
	if !strings.Contains(msgs[0].Content, `"ok"|"retry"|"fail"`) {
		t.Fatalf("expected verify system prompt verdict enum, got %s", msgs[0].Content)
	}
}

func TestAssembler_FinalVerifyWithoutScreenshotHasNoParts(t *testing.T) {
	a := NewAssembler()
	obs := &entity.Observation{URL: "https://example.com/done"}
	msgs := a.FinalVerify("complete checkout", obs, nil, "")

	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Parts != nil {
		t.Fatalf("expected no multimodal parts without a screenshot, got %+v", msgs[1].Parts)
	}
}

func TestAssembler_FinalVerifyWithScreenshotAttachesImagePart(t *testing.T) {
	a := NewAssembler()
	obs := &entity.Observation{URL: "https://example.com/done", TakenAt: time.Now()}
	msgs := a.FinalVerify("complete checkout", obs, nil, "base64data")

	if len(msgs[1].Parts) != 2 {
		t.Fatalf("expected 2 content parts (text + image), got %d", len(msgs[1].Parts))
	}
	if msgs[1].Parts[0].Type != "text" || msgs[1].Parts[1].Type != "image" {
		t.Fatalf("unexpected part types: %+v", msgs[1].Parts)
	}
	if msgs[1].Parts[1].Data != "base64data" || msgs[1].Parts[1].MimeType != "image/png" {
		t.Fatalf("unexpected image part: %+v", msgs[1].Parts[1])
	}
}
