// Package safego guards detached goroutines against panics. The task
// engine's per-task workers run for minutes with no caller left to recover
// them; a panic in one task must not take the whole gateway down.
package safego

import (
	"go.uber.org/zap"
)

// Go runs fn in a new goroutine. A panic inside fn is logged with the
// goroutine's name and stack, and the goroutine exits cleanly instead of
// crashing the process.
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
