package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

// ActionDispatcher is the port the engine uses to perform a single browser
// action. Implemented by infrastructure/dispatcher.Dispatcher; kept as a
// domain-local interface for the same reason as PromptAssembler — the
// engine must not import an infrastructure package.
type ActionDispatcher interface {
	Invoke(ctx context.Context, action entity.ActionKind, payload map[string]any) (*entity.Result, error)
}

// Observer is the port the engine uses to snapshot page state.
type Observer interface {
	Observe(ctx context.Context) *entity.Observation
}

// Notifier is invoked by the engine on task completion, failure, or
// cancellation. Wired by the application layer to an optional sink (e.g.
// Telegram); nil is a valid no-op notifier.
type Notifier func(event entity.TaskEvent)

// EngineConfig carries defaults used when a task's own Config is not set
// (e.g. because the Registry creates the task with a frozen snapshot at
// submission, so this is largely a construction-time fallback).
type EngineConfig struct {
	MaxSteps      int
	MaxRetries    int
	ActionTimeout time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 20
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 20 * time.Second
	}
	return c
}

// Engine runs a task's observe-plan-act-verify loop to completion. A single
// Engine instance is shared by all tasks; the Registry calls Run once per
// task from that task's own worker goroutine, which drives the task through
// the five-phase browser task contract to a terminal state.
type Engine struct {
	observer   Observer
	dispatcher ActionDispatcher
	planner    *Planner
	verifier   *Verifier
	logger     *zap.Logger
	notify     Notifier
}

// NewEngine constructs an Engine over its collaborators. notify may be nil.
func NewEngine(observer Observer, dispatcher ActionDispatcher, planner *Planner, verifier *Verifier, logger *zap.Logger, notify Notifier) *Engine {
	if notify == nil {
		notify = func(entity.TaskEvent) {}
	}
	return &Engine{
		observer:   observer,
		dispatcher: dispatcher,
		planner:    planner,
		verifier:   verifier,
		logger:     logger.With(zap.String("component", "engine")),
		notify:     notify,
	}
}

// Run drives task to a terminal state. It is intended to be invoked as the
// body of the task's dedicated worker goroutine; task.Cancel() (which
// cancels ctx) is the only external signal the engine responds to mid-run.
func (e *Engine) Run(ctx context.Context, task *entity.Task) {
	cfg := EngineConfig{
		MaxSteps:      task.Config.MaxSteps,
		MaxRetries:    task.Config.MaxRetries,
		ActionTimeout: task.Config.ActionTimeout,
	}.withDefaults()

	log := e.logger.With(zap.String("task_id", task.ID))
	log.Info("engine starting", zap.String("objective", task.Objective))

	task.SetStatus(entity.StatusPlanning)
	e.notify(entity.TaskEvent{Type: entity.EventStatusChanged, TaskID: task.ID, Status: entity.StatusPlanning, Timestamp: time.Now()})

	consecutiveFailures := 0
	var obs *entity.Observation

	for task.StepIndex() < cfg.MaxSteps {
		if ctx.Err() != nil {
			e.finishCancelled(task, log)
			return
		}

		obs = e.observer.Observe(ctx)
		task.SetLastObservation(obs, "")

		plan, err := e.planner.Next(ctx, task.Objective, obs, task.History())
		if err != nil {
			if ctx.Err() != nil {
				e.finishCancelled(task, log)
				return
			}
			if !e.bumpRetryOrFail(task, &consecutiveFailures, cfg.MaxRetries, err, log) {
				return
			}
			continue
		}

		if plan.Done {
			e.finishFromFinalVerify(ctx, task, obs, log)
			return
		}

		if ctx.Err() != nil {
			e.finishCancelled(task, log)
			return
		}

		task.SetStatus(entity.StatusProcessing)
		e.notify(entity.TaskEvent{Type: entity.EventStepStarted, TaskID: task.ID, StepIndex: task.StepIndex(), Timestamp: time.Now()})

		step := entity.Step{
			Action:    string(plan.Action),
			Payload:   plan.Payload,
			Rationale: plan.Reason,
			StartedAt: time.Now(),
			Attempt:   consecutiveFailures + 1,
		}

		actionCtx, cancel := context.WithTimeout(ctx, cfg.ActionTimeout)
		_, actErr := e.dispatcher.Invoke(actionCtx, plan.Action, plan.Payload)
		cancel()
		step.EndedAt = time.Now()

		if actErr != nil {
			if ctx.Err() != nil {
				e.finishCancelled(task, log)
				return
			}
			step.Outcome = classifyActionErr(actErr)
			step.Error = actErr.Error()
			task.AppendStep(step)
			if !e.bumpRetryOrFail(task, &consecutiveFailures, cfg.MaxRetries, actErr, log) {
				return
			}
			continue
		}
		step.Outcome = entity.OutcomeOK

		task.SetStatus(entity.StatusVerifying)
		nextObs := e.observer.Observe(ctx)
		if task.Config.ScreenshotPolicy == entity.ScreenshotEveryStep {
			nextObs.Screenshot = e.captureScreenshot(ctx, cfg.ActionTimeout, log)
		}

		verdict, verr := e.verifier.Check(ctx, task.Objective, obs, nextObs, plan.Action, plan.Payload)
		if verr != nil {
			if ctx.Err() != nil {
				e.finishCancelled(task, log)
				return
			}
			step.Outcome = entity.OutcomeError
			step.Error = verr.Error()
			task.AppendStep(step)
			if !e.bumpRetryOrFail(task, &consecutiveFailures, cfg.MaxRetries, verr, log) {
				return
			}
			continue
		}

		step.Verdict = verdict.Verdict
		step.VerificationMsg = verdict.Reason
		task.AppendStep(step)
		task.SetLastObservation(nextObs, plan.Reason)
		e.notify(entity.TaskEvent{Type: entity.EventStepCompleted, TaskID: task.ID, StepIndex: task.StepIndex() - 1, Timestamp: time.Now()})

		switch verdict.Verdict {
		case entity.VerdictOK:
			task.ResetRetries()
			consecutiveFailures = 0
			task.SetStatus(entity.StatusPlanning)
		case entity.VerdictRetry:
			if task.RetryCount() >= cfg.MaxRetries {
				e.finish(task, entity.VerdictFail, "", "", "retry_budget_exhausted", log)
				return
			}
			consecutiveFailures = task.IncrRetries()
			task.SetStatus(entity.StatusReplanning)
		default: // VerdictFail
			e.finish(task, entity.VerdictFail, verdict.Reason, "", "semantic_failure", log)
			return
		}
	}

	e.finish(task, entity.VerdictFail, "", "", "step_budget_exhausted", log)
}

// bumpRetryOrFail counts a failed planner call, action, or verifier call as
// one retry unit and records no step itself (for a failed action or
// verifier call, the caller has already appended the attempted step), and
// fails the task if the retry budget is already exhausted, without consuming a further
// unit. Only increments the counter when a retry is still allowed, so it
// never drifts one unit ahead of the budget. Returns false if the task was
// finished.
func (e *Engine) bumpRetryOrFail(task *entity.Task, consecutiveFailures *int, maxRetries int, cause error, log *zap.Logger) bool {
	if task.RetryCount() >= maxRetries {
		log.Warn("retry budget exhausted", zap.Int("max_retries", maxRetries), zap.Error(cause))
		e.finish(task, entity.VerdictFail, "", "", fmt.Sprintf("retry_budget_exhausted: %v", cause), log)
		return false
	}
	*consecutiveFailures = task.IncrRetries()
	log.Warn("retry unit consumed", zap.Int("consecutive_failures", *consecutiveFailures), zap.Error(cause))
	task.SetStatus(entity.StatusReplanning)
	return true
}

func (e *Engine) finishFromFinalVerify(ctx context.Context, task *entity.Task, obs *entity.Observation, log *zap.Logger) {
	screenshot := ""
	if obs != nil {
		screenshot = obs.Screenshot
	}
	if screenshot == "" {
		timeout := task.Config.ActionTimeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		screenshot = e.captureScreenshot(ctx, timeout, log)
	}
	final, err := e.verifier.Final(ctx, task.Objective, obs, task.History(), screenshot)
	if err != nil {
		e.finish(task, entity.VerdictFail, "", "", fmt.Sprintf("model_parse_error: %v", err), log)
		return
	}
	e.finish(task, final.Verdict, final.Reason, screenshot, "", log)
}

// captureScreenshot asks the agent for a screenshot and returns the base64
// PNG string, or "" on any failure — a missing screenshot never fails a
// task, it just leaves the final artifact (and the verifier's image
// attachment) empty.
func (e *Engine) captureScreenshot(ctx context.Context, timeout time.Duration, log *zap.Logger) string {
	shotCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := e.dispatcher.Invoke(shotCtx, entity.ActionCaptureScreenshot, nil)
	if err != nil {
		log.Debug("screenshot capture failed", zap.Error(err))
		return ""
	}
	if s, ok := res.Data.(string); ok {
		return s
	}
	return ""
}

func (e *Engine) finish(task *entity.Task, verdict entity.Verdict, text, screenshot, reason string, log *zap.Logger) {
	task.Finish(verdict, text, screenshot, reason)
	evtType := entity.EventTaskCompleted
	if task.Status() == entity.StatusFailed {
		evtType = entity.EventTaskFailed
	}
	log.Info("task finished", zap.String("status", string(task.Status())), zap.String("reason", reason))
	e.notify(entity.TaskEvent{Type: evtType, TaskID: task.ID, Status: task.Status(), Message: reason, Timestamp: time.Now()})
}

func (e *Engine) finishCancelled(task *entity.Task, log *zap.Logger) {
	task.MarkCancelled()
	log.Info("task cancelled")
	e.notify(entity.TaskEvent{Type: entity.EventTaskCancelled, TaskID: task.ID, Status: entity.StatusCancelled, Timestamp: time.Now()})
}

// classifyActionErr maps a dispatcher error to a step outcome, distinguishing
// action_timeout from a plain action_error per the error taxonomy.
func classifyActionErr(err error) entity.Outcome {
	if ee, ok := err.(*entity.EngineError); ok && ee.Kind == entity.ErrKindActionTimeout {
		return entity.OutcomeTimeout
	}
	return entity.OutcomeError
}
