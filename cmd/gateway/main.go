// Command gateway is the task engine's single binary: `serve` runs the
// gateway process (Action Link + execution engine + HTTP request surface),
// `submit` and `watch` are thin HTTP clients against a running gateway for
// operators working from a terminal.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/browserlane/taskengine/internal/application"
	"github.com/browserlane/taskengine/internal/domain/entity"
	"github.com/browserlane/taskengine/internal/infrastructure/config"
	"github.com/browserlane/taskengine/internal/infrastructure/logger"
	"github.com/browserlane/taskengine/internal/interfaces/tui"
)

const (
	appName    = "taskengine-gateway"
	appVersion = "0.1.0"
)

func main() {
	serve := serveCmd()

	root := &cobra.Command{
		Use:   "gateway",
		Short: "browser task engine gateway",
		// Running the binary with no subcommand starts the gateway process,
		// same as `gateway serve`.
		RunE: serve.RunE,
	}

	var baseURL string
	root.PersistentFlags().StringVar(&baseURL, "url", defaultBaseURL(), "gateway base URL for submit/watch")

	root.AddCommand(
		serve,
		submitCmd(&baseURL),
		watchCmd(&baseURL),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultBaseURL() string {
	if v := os.Getenv("GATEWAY_URL"); v != "" {
		return v
	}
	return "http://127.0.0.1:8787"
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the gateway process (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration: %w", err)
			}

			log, err := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: "stdout"})
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer log.Sync()

			app, err := application.NewApp(cfg, log)
			if err != nil {
				log.Fatal("failed to initialize application", zap.Error(err))
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := app.Start(ctx); err != nil {
				log.Fatal("failed to start application", zap.Error(err))
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			sig := <-quit
			log.Info("received shutdown signal", zap.String("signal", sig.String()))

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := app.Stop(shutdownCtx); err != nil {
				log.Error("error during shutdown", zap.Error(err))
				os.Exit(1)
			}
			return nil
		},
	}
}

func submitCmd(baseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <objective>",
		Short: "submit an objective to a running gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := json.Marshal(map[string]string{"task": args[0]})
			resp, err := http.Post(*baseURL+"/execute", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			defer resp.Body.Close()

			var out struct {
				TaskID string `json:"task_id"`
				Error  string `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("gateway: %s", out.Error)
			}
			fmt.Println(out.TaskID)
			return nil
		},
	}
}

func watchCmd(baseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <task_id>",
		Short: "watch a task's progress to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			poll := func() (entity.Snapshot, error) {
				resp, err := http.Get(*baseURL + "/status/" + taskID)
				if err != nil {
					return entity.Snapshot{}, err
				}
				defer resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return entity.Snapshot{}, fmt.Errorf("gateway returned %d", resp.StatusCode)
				}
				var snap entity.Snapshot
				if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
					return entity.Snapshot{}, err
				}
				return snap, nil
			}

			m := tui.New(taskID, poll)
			_, err := tea.NewProgram(m).Run()
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	}
}
