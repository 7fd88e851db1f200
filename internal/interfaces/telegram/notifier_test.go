package telegram

import (
	"testing"

	"go.uber.org/zap"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

func TestNew_EmptyTokenReturnsNilNotifierAndNilError(t *testing.T) {
	n, err := New("", 0, zap.NewNop())
	if n != nil {
		t.Fatalf("expected a nil Notifier for an empty token, got %+v", n)
	}
	if err != nil {
		t.Fatalf("expected no error for an empty token, got %v", err)
	}
}

func TestNilNotifier_NotifyIsANoOp(t *testing.T) {
	var n *Notifier
	// Must not panic despite the nil receiver and nil bot.
	n.Notify(entity.TaskEvent{Type: entity.EventTaskCompleted, TaskID: "t1"})
}

func TestNilNotifier_NotifyDisconnectIsANoOp(t *testing.T) {
	var n *Notifier
	n.NotifyDisconnect("link closed")
}

func TestNotifier_WithNilBotIsANoOpForEveryTerminalEvent(t *testing.T) {
	n := &Notifier{bot: nil, chatID: 1, logger: zap.NewNop()}
	// bot is nil, so Notify should return before ever dereferencing it,
	// regardless of event type.
	n.Notify(entity.TaskEvent{Type: entity.EventTaskCompleted, TaskID: "t1"})
	n.Notify(entity.TaskEvent{Type: entity.EventTaskFailed, TaskID: "t1", Message: "boom"})
	n.Notify(entity.TaskEvent{Type: entity.EventTaskCancelled, TaskID: "t1"})
}
