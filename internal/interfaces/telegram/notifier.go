// Package telegram is the optional operator notification sink: a task
// completion/failure message, and a persistent Action Link disconnect
// warning, covering the single send-a-message concern this system needs.
package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

// Notifier posts task lifecycle events to a fixed Telegram chat. A nil
// *Notifier is valid and silently drops every Notify call, so the gateway
// can run with or without a configured bot token.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// New constructs a Notifier. Returns (nil, nil) if token is empty; every
// method of the resulting nil Notifier is a no-op.
func New(token string, chatID int64, logger *zap.Logger) (*Notifier, error) {
	if token == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Notifier{bot: bot, chatID: chatID, logger: logger.With(zap.String("component", "telegram-notifier"))}, nil
}

// Notify sends a human-readable line for task completion, failure, and
// cancellation events. Step-level events are not forwarded — only terminal
// outcomes are worth an operator's attention.
func (n *Notifier) Notify(event entity.TaskEvent) {
	if n == nil || n.bot == nil {
		return
	}

	var text string
	switch event.Type {
	case entity.EventTaskCompleted:
		text = fmt.Sprintf("✅ task %s completed", event.TaskID)
	case entity.EventTaskFailed:
		text = fmt.Sprintf("❌ task %s failed: %s", event.TaskID, event.Message)
	case entity.EventTaskCancelled:
		text = fmt.Sprintf("⚪ task %s cancelled", event.TaskID)
	default:
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warn("telegram send failed", zap.Error(err))
	}
}

// NotifyDisconnect reports persistent Action Link reconnection exhaustion,
// the one link-level condition an operator must hear about: the gateway is
// up but can no longer reach the browser agent.
func (n *Notifier) NotifyDisconnect(reason string) {
	if n == nil || n.bot == nil {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, fmt.Sprintf("🔌 browser agent disconnected: %s", reason))
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warn("telegram send failed", zap.Error(err))
	}
}
