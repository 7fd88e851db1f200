// Package tui renders a task's live progress in the terminal: a
// bubbletea model that polls GET /status/{id} on a fixed interval and
// re-renders the current step, retry count, and — once the task reaches a
// terminal state — the verifier's final verdict text through glamour.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

const pollInterval = 500 * time.Millisecond

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

// PollFunc fetches the latest snapshot for the watched task.
type PollFunc func() (entity.Snapshot, error)

type tickMsg time.Time

type snapshotMsg struct {
	snap entity.Snapshot
	err  error
}

// Model is the bubbletea model backing `gateway watch <task_id>`.
type Model struct {
	taskID  string
	poll    PollFunc
	spinner spinner.Model
	snap    entity.Snapshot
	lastErr error
	done    bool
	render  *glamour.TermRenderer
}

// New constructs a watch Model for taskID, fetching snapshots via poll.
func New(taskID string, poll PollFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	r, _ := glamour.NewTermRenderer(glamour.WithAutoStyle())
	return Model{taskID: taskID, poll: poll, spinner: s, render: r}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.poll()
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tea.Batch(m.fetch(), tick())
	case snapshotMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.snap = msg.snap
		m.lastErr = nil
		if msg.snap.Status.IsTerminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("task %s", m.taskID)))
	b.WriteString("\n")

	if m.lastErr != nil {
		b.WriteString(failStyle.Render("poll error: "+m.lastErr.Error()) + "\n")
		return b.String()
	}

	status := string(m.snap.Status)
	indicator := m.spinner.View()
	if m.snap.Status.IsTerminal() {
		indicator = statusIcon(m.snap.Status)
	}
	b.WriteString(fmt.Sprintf("%s %s\n", indicator, stepStyle.Render(status)))
	b.WriteString(dimStyle.Render(fmt.Sprintf(
		"step %d/%d  retries %d", m.snap.StepsExecuted, m.snap.TotalSteps, m.snap.RetryCount,
	)) + "\n")

	if m.snap.CurrentStep != nil {
		b.WriteString(dimStyle.Render(fmt.Sprintf("current: %s %s",
			m.snap.CurrentStep.Action, m.snap.CurrentStep.Description)) + "\n")
	}

	if m.snap.Status == entity.StatusCompleted && m.snap.Verification != "" {
		b.WriteString("\n")
		if m.render != nil {
			if out, err := m.render.Render(m.snap.Verification); err == nil {
				b.WriteString(out)
			} else {
				b.WriteString(m.snap.Verification + "\n")
			}
		} else {
			b.WriteString(m.snap.Verification + "\n")
		}
	}

	if m.snap.Status == entity.StatusFailed && m.snap.FailureReason != "" {
		b.WriteString("\n" + failStyle.Render("failure: "+m.snap.FailureReason) + "\n")
	}

	if m.done {
		b.WriteString("\n" + dimStyle.Render("(press q to exit)") + "\n")
	}

	return b.String()
}

func statusIcon(s entity.Status) string {
	switch s {
	case entity.StatusCompleted:
		return okStyle.Render("✔")
	case entity.StatusFailed:
		return failStyle.Render("✘")
	case entity.StatusCancelled:
		return dimStyle.Render("⊘")
	default:
		return "?"
	}
}
