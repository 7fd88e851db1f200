package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/browserlane/taskengine/internal/domain/entity"
	"github.com/browserlane/taskengine/pkg/safego"
)

// Registry is the in-memory id → task mapping, scoped to the process
// lifetime. The map itself is guarded by a read-mostly lock; each task
// record guards its own mutable fields independently (entity.Task's
// internal mutex).
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*entity.Task
	engine *Engine
	logger *zap.Logger

	defaultConfig entity.Config
}

// NewRegistry constructs a Registry that spawns every submitted task's
// worker using the given Engine and default per-task Config.
func NewRegistry(engine *Engine, defaultConfig entity.Config, logger *zap.Logger) *Registry {
	return &Registry{
		tasks:         make(map[string]*entity.Task),
		engine:        engine,
		logger:        logger.With(zap.String("component", "registry")),
		defaultConfig: defaultConfig,
	}
}

// Submit creates a task record for objective, spawns its engine worker, and
// returns the new task's id. The worker runs detached from the submitting
// goroutine; status is observed by polling Status.
func (r *Registry) Submit(ctx context.Context, objective string) (string, error) {
	if objective == "" {
		return "", entity.ErrEmptyObjective
	}

	id := uuid.NewString()
	taskCtx, cancel := context.WithCancel(ctx)
	task := entity.NewTask(id, objective, r.defaultConfig, cancel)

	r.mu.Lock()
	r.tasks[id] = task
	r.mu.Unlock()

	r.logger.Info("task submitted", zap.String("task_id", id), zap.String("objective", objective))

	safego.Go(r.logger, "task-"+id, func() {
		defer cancel()
		r.engine.Run(taskCtx, task)
	})

	return id, nil
}

// Status returns an atomic snapshot of task id's current state.
func (r *Registry) Status(id string) (entity.Snapshot, error) {
	r.mu.RLock()
	task, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return entity.Snapshot{}, entity.ErrTaskNotFound
	}
	return task.Snapshot(), nil
}

// Cancel requests cancellation of task id. No-op (but not an error) if the
// task has already reached a terminal state.
func (r *Registry) Cancel(id string) error {
	r.mu.RLock()
	task, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return entity.ErrTaskNotFound
	}
	task.Cancel()
	return nil
}

// CancelAll requests cancellation of every non-terminal task. Called on
// process shutdown so in-flight tasks end cancelled rather than being
// abandoned mid-step.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	tasks := make([]*entity.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.RUnlock()

	for _, t := range tasks {
		if !t.Status().IsTerminal() {
			t.Cancel()
		}
	}
}

// Count returns the number of tasks currently tracked by the registry
// (queued plus in-flight plus terminal, for as long as the process runs).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
