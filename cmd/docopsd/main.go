// Command docopsd runs the document-processing job orchestration daemon:
// the HTTP jobs API backed by the bounded executor and SQLite store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/antigravity-dev/docops/internal/api"
	"github.com/antigravity-dev/docops/internal/config"
	"github.com/antigravity-dev/docops/internal/executor"
	"github.com/antigravity-dev/docops/internal/planner"
	"github.com/antigravity-dev/docops/internal/policy"
	"github.com/antigravity-dev/docops/internal/runner"
	"github.com/antigravity-dev/docops/internal/store"
	"github.com/antigravity-dev/docops/internal/tool"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "docops.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	bootLogger.Info("docopsd starting", "config", *configPath)

	loaded, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfgManager := config.NewManager(loaded)
	cfg := cfgManager.Get()

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	st, err := store.Open(cfg.General.DatabaseURL)
	if err != nil {
		logger.Error("failed to open store", "error", err, "database_url", cfg.General.DatabaseURL)
		os.Exit(1)
	}
	defer st.Close()

	pol := policy.Default()
	registry := tool.DefaultRegistry()
	limiter := rate.NewLimiter(rate.Limit(cfg.Executor.RateLimitPerSec), cfg.Executor.RateLimitBurst)

	exec := executor.New(pol, registry, limiter, logger.With("component", "executor"),
		executor.WithTimeout(cfg.Executor.ToolTimeout.Duration))

	r := runner.New(st, planner.Default{}, exec, registry, pol)

	srv := api.NewServer(cfg, st, r, logger.With("component", "api"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("api server error", "error", err)
		}
	}()

	logger.Info("docopsd running", "bind", cfg.API.Bind, "database_url", cfg.General.DatabaseURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			if err := cfgManager.Reload(*configPath); err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			logger.Info("config reloaded; restart required to apply executor/bind changes")
		case syscall.SIGINT, syscall.SIGTERM:
			shutdownStart := time.Now()
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			logger.Info("docopsd stopped", "shutdown_duration", time.Since(shutdownStart).String())
			return
		default:
			cancel()
			return
		}
	}
}
