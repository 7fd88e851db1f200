// Package config loads the gateway's layered configuration: built-in
// defaults, a global ~/.taskengine/config.yaml, an optional project-local
// config.yaml, and finally environment variable overrides. A Watcher
// reloads the whole Config via fsnotify and hands it to a callback; whether
// the reloaded values take effect anywhere is up to that callback.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the gateway's process-wide configuration.
type Config struct {
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Log        LogConfig        `mapstructure:"log"`
}

// GatewayConfig configures the HTTP request surface.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// EngineConfig holds the execution engine's operator-tunable budgets
// (MAX_STEPS, MAX_RETRIES, ACTION_TIMEOUT_SECONDS), the concurrency cap
// MaxConcurrentTasks (0 = unlimited), and the screenshot cadence policy
// ("final" or "every_step").
type EngineConfig struct {
	MaxSteps             int    `mapstructure:"max_steps"`
	MaxRetries           int    `mapstructure:"max_retries"`
	ActionTimeoutSeconds int    `mapstructure:"action_timeout_seconds"`
	MaxConcurrentTasks   int    `mapstructure:"max_concurrent_tasks"`
	ScreenshotPolicy     string `mapstructure:"screenshot_policy"`
}

// ActionTimeout returns the per-action timeout as a time.Duration.
func (e EngineConfig) ActionTimeout() time.Duration {
	return time.Duration(e.ActionTimeoutSeconds) * time.Second
}

// DispatcherConfig holds the dispatcher's forbidden-scheme gate, extensible
// beyond the four built-in defaults.
type DispatcherConfig struct {
	ForbiddenSchemes []string `mapstructure:"forbidden_schemes"`
}

// ProviderConfig configures one LLM provider entry for the router.
type ProviderConfig struct {
	Name     string   `mapstructure:"name"`
	Type     string   `mapstructure:"type"` // anthropic | openai | gemini
	BaseURL  string   `mapstructure:"base_url"`
	APIKey   string   `mapstructure:"api_key"`
	Models   []string `mapstructure:"models"`
	Priority int      `mapstructure:"priority"`
}

// LLMConfig configures the planner/verifier model and available providers.
type LLMConfig struct {
	Model     string           `mapstructure:"model"`
	Providers []ProviderConfig `mapstructure:"providers"`
}

// TelegramConfig configures the optional operator notification sink.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration in priority order (lowest to highest):
// built-in defaults → ~/.taskengine/config.yaml → ./config.yaml →
// environment variables. The well-known unprefixed variables
// (OPENAI_API_KEY, MAX_STEPS, MAX_RETRIES, ACTION_TIMEOUT_SECONDS,
// MODEL_NAME, plus TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID for the optional
// notifier) are applied explicitly after viper's generic env binding so
// they work without a TASKENGINE_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".taskengine")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	localPath := "config.yaml"
	if _, err := os.Stat(localPath); err == nil {
		v2 := viper.New()
		v2.SetConfigFile(localPath)
		if err := v2.ReadInConfig(); err == nil {
			_ = v.MergeConfigMap(v2.AllSettings())
		}
	}

	v.SetEnvPrefix("TASKENGINE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.Model == "" {
		return nil, fmt.Errorf("no model configured: set llm.model or MODEL_NAME")
	}
	if len(cfg.LLM.Providers) == 0 {
		return nil, fmt.Errorf("no LLM provider configured: set llm.providers or OPENAI_API_KEY/ANTHROPIC_API_KEY")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8787)

	v.SetDefault("engine.max_steps", 20)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.action_timeout_seconds", 20)
	v.SetDefault("engine.max_concurrent_tasks", 0)
	v.SetDefault("engine.screenshot_policy", "final")

	v.SetDefault("dispatcher.forbidden_schemes", []string{"chrome://", "edge://", "about:", "chrome-extension://"})

	v.SetDefault("llm.model", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// applyEnvOverrides applies the well-known unprefixed environment
// variable names, independent of viper's TASKENGINE_ prefix scheme.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxSteps = n
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxRetries = n
		}
	}
	if v := os.Getenv("ACTION_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.ActionTimeoutSeconds = n
		}
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.Providers = ensureProvider(cfg.LLM.Providers, "openai", "openai", v)
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.Providers = ensureProvider(cfg.LLM.Providers, "anthropic", "anthropic", v)
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.Providers = ensureProvider(cfg.LLM.Providers, "gemini", "gemini", v)
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = n
		}
	}
}

func ensureProvider(providers []ProviderConfig, name, typ, apiKey string) []ProviderConfig {
	for i := range providers {
		if providers[i].Name == name {
			providers[i].APIKey = apiKey
			return providers
		}
	}
	return append(providers, ProviderConfig{Name: name, Type: typ, APIKey: apiKey, Priority: len(providers)})
}

// Watcher re-runs Load whenever the local config.yaml changes on disk and
// passes the resulting Config to its onChange callback. It does not itself
// apply the new values to the engine, the dispatcher, or any task.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

// NewWatcher starts watching path (the local config.yaml) for writes. onChange
// is invoked with the freshly reloaded Config after each write.
func NewWatcher(path string, logger *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{watcher: fw, logger: logger.With(zap.String("component", "config-watcher"))}

	go func() {
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != filepath.Base(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load()
				if err != nil {
					w.logger.Warn("config reload failed, keeping previous", zap.Error(err))
					continue
				}
				w.logger.Info("config reloaded")
				onChange(cfg)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config watch error", zap.Error(err))
			}
		}
	}()

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
