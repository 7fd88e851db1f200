package entity

import "time"

// TaskEventType tags the kind of lifecycle notification the engine emits.
type TaskEventType string

const (
	EventStatusChanged  TaskEventType = "status_changed"
	EventStepStarted    TaskEventType = "step_started"
	EventStepCompleted  TaskEventType = "step_completed"
	EventTaskCompleted  TaskEventType = "task_completed"
	EventTaskFailed     TaskEventType = "task_failed"
	EventTaskCancelled  TaskEventType = "task_cancelled"
	EventLinkDisconnect TaskEventType = "link_disconnected"
)

// TaskEvent is a point-in-time notification the engine hands to its
// Notifier — the wiring point for the optional Telegram completion/failure
// sink and for the CLI's watch view.
type TaskEvent struct {
	Type      TaskEventType `json:"type"`
	TaskID    string        `json:"task_id,omitempty"`
	Status    Status        `json:"status,omitempty"`
	StepIndex int           `json:"step_index,omitempty"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
