// Command koebridge runs the telephone-to-LLM voice bridge server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/koebridge/koebridge/internal/app"
	"github.com/koebridge/koebridge/internal/config"
	"github.com/koebridge/koebridge/internal/observe"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; environment variables always apply)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "koebridge: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "koebridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("koebridge starting",
		"version", version,
		"environment", cfg.Environment,
		"port", cfg.Port,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must run before app.New so the instruments bind to the exporting
	// provider rather than the no-op default.
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "koebridge",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, app.WithVersion(version))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config reload ─────────────────────────────────────────────────────────
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(prev, next *config.Config) {
			for _, change := range config.Diff(prev, next).Summary() {
				slog.Info("config changed", "change", change)
			}
			application.ApplyConfig(next)
		})
		if err != nil {
			slog.Warn("config watcher not started", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║     koebridge — startup summary      ║")
	fmt.Println("╠══════════════════════════════════════╣")
	printSetting("Environment", string(cfg.Environment))
	printSetting("Listen port", strconv.Itoa(cfg.Port))
	printSetting("LLM", llmLabel(cfg.LLM))
	printSetting("Voice", cfg.LLM.Voice)
	printSetting("Order backend", enabledLabel(cfg.Backend.Configured()))
	printSetting("Transcripts", enabledLabel(cfg.Transcript.Configured()))
	printSetting("Email", enabledLabel(cfg.Email.Configured()))
	printSetting("SMS alerts", enabledLabel(cfg.Twilio.Configured() && cfg.Twilio.SupportNumber != ""))
	if cfg.PublicHost != "" {
		printSetting("Public host", cfg.PublicHost)
	}
	fmt.Println("╚══════════════════════════════════════╝")
}

func printSetting(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s: %-19s ║\n", label, value)
}

func llmLabel(l config.LLMConfig) string {
	if !l.Configured() {
		return "(no api key)"
	}
	if l.Model != "" {
		return l.Model
	}
	return "default model"
}

func enabledLabel(ok bool) string {
	if ok {
		return "enabled"
	}
	return "(disabled)"
}
