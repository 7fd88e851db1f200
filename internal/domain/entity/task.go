package entity

import (
	"sync"
	"time"
)

// Status is the tagged state of a Task. Terminal states are Completed,
// Failed, and Cancelled; a task in a terminal state is never mutated again.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusPlanning   Status = "planning"
	StatusProcessing Status = "processing"
	StatusVerifying  Status = "verifying"
	StatusReplanning Status = "replanning"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether s admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Outcome is the result of dispatching a single action.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// Verdict is the Verifier's judgment of a step or of the final objective.
type Verdict string

const (
	VerdictOK    Verdict = "ok"
	VerdictRetry Verdict = "retry"
	VerdictFail  Verdict = "fail"
)

// Step is one observe-plan-act-verify iteration bound to a task.
// Steps within a task form a contiguous 0..k sequence; no gaps.
type Step struct {
	Index           int       `json:"index"`
	Action          string    `json:"action"`
	Payload         any       `json:"payload"`
	Rationale       string    `json:"rationale"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	Outcome         Outcome   `json:"outcome"`
	Error           string    `json:"error,omitempty"`
	Verdict         Verdict   `json:"verdict,omitempty"`
	VerificationMsg string    `json:"verification_text,omitempty"`
	Attempt         int       `json:"attempt"`
}

// ElementDescriptor describes one interactive element visible on the page.
type ElementDescriptor struct {
	Tag         string `json:"tag"`
	Text        string `json:"text,omitempty"`
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Role        string `json:"role,omitempty"`
	AriaLabel   string `json:"aria_label,omitempty"`
	Href        string `json:"href,omitempty"`
	Value       string `json:"value,omitempty"`
}

// Observation is an immutable snapshot of the page taken by the Observer.
type Observation struct {
	URL         string              `json:"url"`
	Title       string              `json:"title"`
	ReadyState  string              `json:"ready_state"`
	Elements    []ElementDescriptor `json:"elements"`
	Screenshot  string              `json:"screenshot,omitempty"`
	Diagnostics Diagnostics         `json:"diagnostics"`
	TakenAt     time.Time           `json:"taken_at"`
}

// Diagnostics carries non-fatal information about a failed sub-fetch during
// observation. Observation failure never aborts a task by itself.
type Diagnostics struct {
	Error string `json:"error,omitempty"`
}

// Screenshot cadence policies. Final captures one screenshot at final
// verification only; EveryStep additionally captures after each step.
const (
	ScreenshotFinal     = "final"
	ScreenshotEveryStep = "every_step"
)

// Config is the per-task budget snapshot, frozen at submission time so that
// a live configuration hot-reload never mutates a task already in flight.
type Config struct {
	MaxSteps         int
	MaxRetries       int
	ActionTimeout    time.Duration
	ScreenshotPolicy string // ScreenshotFinal or ScreenshotEveryStep
}

// Task is identified by an opaque UUID and owns the full lifecycle of one
// objective. It is created on submission, mutated only by the engine
// goroutine that owns it, and read by the status surface under RLock.
type Task struct {
	mu sync.RWMutex

	ID        string
	Objective string
	CreatedAt time.Time
	Config    Config

	status          Status
	stepIndex       int
	retryCount      int
	totalRetries    int
	history         []Step
	lastObs         *Observation
	lastRationale   string
	finalVerdict    Verdict
	finalText       string
	finalScreenshot string
	failureReason   string

	cancel func()
}

// NewTask constructs a Task in the Queued state.
func NewTask(id, objective string, cfg Config, cancel func()) *Task {
	return &Task{
		ID:        id,
		Objective: objective,
		CreatedAt: time.Now(),
		Config:    cfg,
		status:    StatusQueued,
		cancel:    cancel,
	}
}

// Cancel invokes the task's cancellation function, if any. Safe to call
// more than once.
func (t *Task) Cancel() {
	t.mu.RLock()
	cancel := t.cancel
	t.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Status returns the current status under a read lock.
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// SetStatus transitions the task to a new status. Returns false without
// mutating if the task is already in a terminal state.
func (t *Task) SetStatus(s Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return false
	}
	t.status = s
	return true
}

// StepIndex returns the current step counter.
func (t *Task) StepIndex() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stepIndex
}

// RetryCount returns the current consecutive-failure counter (the one
// checked against MAX_RETRIES; reset to 0 by a successful verdict).
func (t *Task) RetryCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retryCount
}

// TotalRetries returns the cumulative count of retry units consumed over
// the task's whole lifetime, never reset, unlike the consecutive counter.
// This is what the status surface's retry_count field reports: one retry
// followed by success still shows retry_count == 1.
func (t *Task) TotalRetries() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalRetries
}

// ResetRetries zeroes the consecutive-failure counter; a successful verdict
// resets it. TotalRetries is left untouched.
func (t *Task) ResetRetries() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryCount = 0
}

// IncrRetries increments both the consecutive-failure counter and the
// cumulative counter, returning the new consecutive value (what budget
// checks compare against MAX_RETRIES).
func (t *Task) IncrRetries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryCount++
	t.totalRetries++
	return t.retryCount
}

// AppendStep records a completed step and advances the step counter.
// Returns false without mutating if the task is already terminal.
func (t *Task) AppendStep(step Step) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return false
	}
	step.Index = len(t.history)
	t.history = append(t.history, step)
	t.stepIndex = len(t.history)
	return true
}

// SetLastObservation records the latest observation and planner rationale.
func (t *Task) SetLastObservation(obs *Observation, rationale string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}
	t.lastObs = obs
	if rationale != "" {
		t.lastRationale = rationale
	}
}

// LastObservation returns the most recent observation, or nil if none yet.
func (t *Task) LastObservation() *Observation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastObs
}

// History returns a copy of the step history.
func (t *Task) History() []Step {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Step, len(t.history))
	copy(out, t.history)
	return out
}

// Finish records the terminal verdict, verification text, and final
// screenshot, then transitions to completed or failed accordingly.
// No-op if already terminal.
func (t *Task) Finish(verdict Verdict, text, screenshot, failureReason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}
	t.finalVerdict = verdict
	t.finalText = text
	t.finalScreenshot = screenshot
	t.failureReason = failureReason
	if verdict == VerdictOK {
		t.status = StatusCompleted
	} else {
		t.status = StatusFailed
	}
}

// MarkCancelled marks the task cancelled. No-op if already terminal.
func (t *Task) MarkCancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}
	t.status = StatusCancelled
}

// CurrentStepDescriptor describes the in-flight or most recent step for the
// status surface.
type CurrentStepDescriptor struct {
	Index       int    `json:"index"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// Snapshot is an atomic, client-facing view of a task's state.
type Snapshot struct {
	TaskID        string                 `json:"task_id"`
	Status        Status                 `json:"status"`
	StepsExecuted int                    `json:"steps_executed"`
	TotalSteps    int                    `json:"total_steps"`
	CurrentStep   *CurrentStepDescriptor `json:"current_step,omitempty"`
	RetryCount    int                    `json:"retry_count"`
	Verification  string                 `json:"verification,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
}

// Snapshot returns a point-in-time, race-free view of the task.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		TaskID:        t.ID,
		Status:        t.status,
		StepsExecuted: t.stepIndex,
		TotalSteps:    t.Config.MaxSteps,
		RetryCount:    t.totalRetries,
		FailureReason: t.failureReason,
	}
	if t.status.IsTerminal() {
		snap.Verification = t.finalText
	}
	if n := len(t.history); n > 0 {
		last := t.history[n-1]
		snap.CurrentStep = &CurrentStepDescriptor{
			Index:       last.Index,
			Action:      last.Action,
			Description: last.Rationale,
		}
	}
	return snap
}
