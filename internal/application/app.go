// Package application wires the task engine's domain services,
// infrastructure adapters, and request surfaces into a single runnable
// process.
package application

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/browserlane/taskengine/internal/domain/entity"
	"github.com/browserlane/taskengine/internal/domain/service"
	"github.com/browserlane/taskengine/internal/infrastructure/actionlink"
	"github.com/browserlane/taskengine/internal/infrastructure/config"
	"github.com/browserlane/taskengine/internal/infrastructure/dispatcher"
	"github.com/browserlane/taskengine/internal/infrastructure/llm"
	_ "github.com/browserlane/taskengine/internal/infrastructure/llm/anthropic" // register anthropic provider factory
	_ "github.com/browserlane/taskengine/internal/infrastructure/llm/gemini"    // register gemini provider factory
	_ "github.com/browserlane/taskengine/internal/infrastructure/llm/openai"    // register openai provider factory
	"github.com/browserlane/taskengine/internal/infrastructure/prompt"
	"github.com/browserlane/taskengine/internal/interfaces/http"
	"github.com/browserlane/taskengine/internal/interfaces/http/handlers"
	"github.com/browserlane/taskengine/internal/interfaces/telegram"
)

// App is the process-wide container: one Action Link, one Engine, one
// Registry, the HTTP request surface in front of them, and the optional
// Telegram notifier. Built once at startup by NewApp and torn down by Stop.
type App struct {
	config *config.Config
	logger *zap.Logger

	link     *actionlink.Link
	notifier *telegram.Notifier
	registry *service.Registry
	http     *http.Server
	watcher  *config.Watcher
	addr     string
}

// NewApp constructs the full dependency graph: Action Link,
// dispatcher+observer, LLM router, planner and verifier, the execution
// engine, the task registry, and the HTTP request surface in front of it
// all.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{config: cfg, logger: logger}

	link := actionlink.New(logger)

	notifier, err := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	if err != nil {
		return nil, fmt.Errorf("telegram notifier: %w", err)
	}
	if notifier != nil {
		link.SetDisconnectNotifier(notifier.NotifyDisconnect)
	}

	disp := dispatcher.New(link, dispatcher.Config{ForbiddenSchemes: cfg.Dispatcher.ForbiddenSchemes}, logger)
	observer := dispatcher.NewObserver(disp)

	router := llm.NewRouter(logger)
	for _, p := range cfg.LLM.Providers {
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:     p.Name,
			Type:     p.Type,
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			Models:   p.Models,
			Priority: p.Priority,
		}, logger)
		if err != nil {
			logger.Error("failed to create LLM provider",
				zap.String("name", p.Name), zap.String("type", p.Type), zap.Error(err))
			continue
		}
		router.AddProvider(provider)
	}
	logger.Info("LLM router initialized", zap.Int("providers", len(cfg.LLM.Providers)))

	caller := service.NewCaller(router, service.CallerConfig{}, logger)
	assembler := prompt.NewAssembler()

	planner, err := service.NewPlanner(assembler, caller, cfg.LLM.Model, logger)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	verifier, err := service.NewVerifier(assembler, caller, cfg.LLM.Model, logger)
	if err != nil {
		return nil, fmt.Errorf("verifier: %w", err)
	}

	// A bounded semaphore serializing concurrent tasks against the shared
	// single-tab browser agent, per DESIGN.md's Open Question resolution:
	// zero (the default) leaves tasks unserialized, a positive
	// MaxConcurrentTasks caps how many engine workers may run at once. The
	// slot is acquired at submit time and released when the task reaches a
	// terminal state, so it lives in this application-layer wiring rather
	// than inside Registry itself.
	var taskSem chan struct{}
	if limit := cfg.Engine.MaxConcurrentTasks; limit > 0 {
		taskSem = make(chan struct{}, limit)
	}

	notify := buildNotifier(notifier, taskSem)
	engine := service.NewEngine(observer, disp, planner, verifier, logger, notify)

	defaultConfig := entity.Config{
		MaxSteps:         cfg.Engine.MaxSteps,
		MaxRetries:       cfg.Engine.MaxRetries,
		ActionTimeout:    cfg.Engine.ActionTimeout(),
		ScreenshotPolicy: cfg.Engine.ScreenshotPolicy,
	}
	registry := service.NewRegistry(engine, defaultConfig, logger)

	taskHandler := handlers.NewTaskHandler(
		func(objective string) (string, error) {
			if taskSem != nil {
				select {
				case taskSem <- struct{}{}:
				default:
					return "", entity.ErrTooManyConcurrent
				}
			}
			id, err := registry.Submit(context.Background(), objective)
			if err != nil && taskSem != nil {
				<-taskSem
			}
			return id, err
		},
		registry.Status,
		registry.Count,
		func() string { return link.State().String() },
	)

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))

	app.link = link
	app.notifier = notifier
	app.registry = registry
	app.addr = addr
	app.http = http.New(addr, link, taskHandler, logger)

	return app, nil
}

// Start launches the HTTP request surface (which also exposes the Action
// Link's /ws endpoint) and begins accepting submissions. It does not block.
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("starting task engine", zap.String("addr", app.addr))
	app.http.Start()

	if app.watcher == nil {
		watcher, err := config.NewWatcher("config.yaml", app.logger, func(cfg *config.Config) {
			app.config = cfg
		})
		if err != nil {
			app.logger.Warn("config hot-reload disabled", zap.Error(err))
		} else {
			app.watcher = watcher
		}
	}

	app.logger.Info("task engine started")
	return nil
}

// Stop gracefully shuts down the process: the config watcher is released,
// every in-flight task is cancelled (their records end in the cancelled
// state, immutable from then on), and the HTTP server drains within ctx's
// deadline.
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("stopping task engine")
	if app.watcher != nil {
		_ = app.watcher.Close()
	}
	app.registry.CancelAll()
	if err := app.http.Stop(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	app.logger.Info("task engine stopped")
	return nil
}

// Registry exposes the task registry to callers holding the App. The CLI's
// submit/watch subcommands do not use it; they go through the HTTP surface.
func (app *App) Registry() *service.Registry {
	return app.registry
}

// Logger returns the application logger.
func (app *App) Logger() *zap.Logger {
	return app.logger
}

// Config returns the application config.
func (app *App) Config() *config.Config {
	return app.config
}

// buildNotifier composes the engine's terminal-event notifier: it releases
// a concurrency-semaphore slot (when one is configured) on every terminal
// event before forwarding the event to the optional Telegram sink.
func buildNotifier(notifier *telegram.Notifier, sem chan struct{}) service.Notifier {
	return func(evt entity.TaskEvent) {
		switch evt.Type {
		case entity.EventTaskCompleted, entity.EventTaskFailed, entity.EventTaskCancelled:
			if sem != nil {
				select {
				case <-sem:
				default:
				}
			}
		}
		if notifier != nil {
			notifier.Notify(evt)
		}
	}
}
