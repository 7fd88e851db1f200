package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

func TestModel_SnapshotMsgUpdatesStateAndQuitsOnTerminal(t *testing.T) {
	m := New("task-1", func() (entity.Snapshot, error) { return entity.Snapshot{}, nil })

	next, cmd := m.Update(snapshotMsg{snap: entity.Snapshot{Status: entity.StatusCompleted}})
	nm := next.(Model)

	if !nm.done {
		t.Fatal("expected the model to mark itself done on a terminal snapshot")
	}
	if cmd == nil {
		t.Fatal("expected a tea.Quit command on reaching a terminal status")
	}
}

func TestModel_SnapshotMsgDoesNotQuitOnNonTerminalStatus(t *testing.T) {
	m := New("task-1", func() (entity.Snapshot, error) { return entity.Snapshot{}, nil })

	next, _ := m.Update(snapshotMsg{snap: entity.Snapshot{Status: entity.StatusProcessing, StepsExecuted: 2}})
	nm := next.(Model)

	if nm.done {
		t.Fatal("expected the model to stay in progress on a non-terminal snapshot")
	}
	if nm.snap.StepsExecuted != 2 {
		t.Fatalf("expected the snapshot to be stored, got %+v", nm.snap)
	}
}

func TestModel_SnapshotMsgErrorIsRecordedWithoutQuitting(t *testing.T) {
	m := New("task-1", func() (entity.Snapshot, error) { return entity.Snapshot{}, nil })
	pollErr := errors.New("connection refused")

	next, cmd := m.Update(snapshotMsg{err: pollErr})
	nm := next.(Model)

	if nm.lastErr != pollErr {
		t.Fatalf("expected lastErr recorded, got %v", nm.lastErr)
	}
	if cmd != nil {
		t.Fatal("expected no command on a poll error")
	}
}

func TestModel_TickMsgStopsSchedulingAfterDone(t *testing.T) {
	m := New("task-1", func() (entity.Snapshot, error) { return entity.Snapshot{}, nil })
	m.done = true

	_, cmd := m.Update(tickMsg(time.Now()))
	if cmd != nil {
		t.Fatal("expected no further tick/fetch commands once the model is done")
	}
}

func TestModel_CtrlCQuits(t *testing.T) {
	m := New("task-1", func() (entity.Snapshot, error) { return entity.Snapshot{}, nil })
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected tea.Quit on ctrl+c")
	}
}

func TestModel_QQuits(t *testing.T) {
	m := New("task-1", func() (entity.Snapshot, error) { return entity.Snapshot{}, nil })
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected tea.Quit on 'q'")
	}
}

func TestModel_ViewRendersStatusAndProgress(t *testing.T) {
	m := New("task-1", func() (entity.Snapshot, error) { return entity.Snapshot{}, nil })
	next, _ := m.Update(snapshotMsg{snap: entity.Snapshot{
		Status:        entity.StatusProcessing,
		StepsExecuted: 3,
		TotalSteps:    20,
		RetryCount:    1,
		CurrentStep:   &entity.CurrentStepDescriptor{Index: 3, Action: "click", Description: "click the submit button"},
	}})
	nm := next.(Model)

	view := nm.View()
	if !strings.Contains(view, "task task-1") {
		t.Fatalf("expected task id in view, got %s", view)
	}
	if !strings.Contains(view, "step 3/20") || !strings.Contains(view, "retries 1") {
		t.Fatalf("expected step/retry counters in view, got %s", view)
	}
	if !strings.Contains(view, "click the submit button") {
		t.Fatalf("expected current step description in view, got %s", view)
	}
}

func TestModel_ViewShowsFailureReasonOnFailedStatus(t *testing.T) {
	m := New("task-1", func() (entity.Snapshot, error) { return entity.Snapshot{}, nil })
	next, _ := m.Update(snapshotMsg{snap: entity.Snapshot{
		Status:        entity.StatusFailed,
		FailureReason: "step_budget_exhausted",
	}})
	nm := next.(Model)

	view := nm.View()
	if !strings.Contains(view, "step_budget_exhausted") {
		t.Fatalf("expected failure reason in view, got %s", view)
	}
	if !strings.Contains(view, "(press q to exit)") {
		t.Fatalf("expected the exit hint once done, got %s", view)
	}
}
