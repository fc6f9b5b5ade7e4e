// Package cli implements the printguard command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/printguard/internal/control"
	"github.com/vietddude/printguard/internal/core/config"
	"github.com/vietddude/printguard/internal/core/domain"
)

var (
	cfgPath string
	isDebug bool
	noWatch bool
)

var rootCmd = &cobra.Command{
	Use:   "printguard",
	Short: "Printguard label printer gateway",
	Long:  `Printguard keeps flaky label printers usable: pooled connections, retries, readiness checks and automatic recovery.`,
	Run:   runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the health endpoints and background maintenance",
	Run:   runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	serveCmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable config hot reload")
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the config file and initialises logging from it.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	slogLevel := slog.LevelInfo
	switch {
	case isDebug || cfg.Logging.Level == "debug":
		slogLevel = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		slogLevel = slog.LevelWarn
	case cfg.Logging.Level == "error":
		slogLevel = slog.LevelError
	}

	if cfg.Logging.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
	} else {
		stylelog.InitDefault(&tint.Options{
			Level:      slogLevel,
			TimeFormat: time.RFC3339,
		})
	}
	return cfg
}

// withApp builds an App for a one-shot command, runs fn, and shuts it down.
func withApp(fn func(ctx context.Context, app *control.App) error) {
	cfg := loadConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize printguard", "error", err)
		os.Exit(1)
	}
	if err := app.Start(ctx, false); err != nil {
		slog.Error("Failed to start printguard", "error", err)
		os.Exit(1)
	}

	runErr := fn(ctx, app)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		slog.Warn("Error during shutdown", "error", err)
	}

	if runErr != nil {
		slog.Error("Command failed", "error", runErr)
		os.Exit(1)
	}
}

// resultErr turns a failed Result into an error for command handlers.
func resultErr[T any](res domain.Result[T]) error {
	if res.Success {
		return nil
	}
	return res.Error
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize printguard", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx, true); err != nil {
		slog.Error("Failed to start printguard", "error", err)
		os.Exit(1)
	}

	if !noWatch {
		w, err := config.Watch(ctx, cfgPath, app.ApplyConfig, func(err error) {
			slog.Warn("Config reload failed", "error", err)
		})
		if err != nil {
			slog.Warn("Config hot reload disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("Printguard started", "config", cfgPath)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}
