package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ollama-claude-proxy/internal/config"
	"ollama-claude-proxy/internal/gateway"
	"ollama-claude-proxy/internal/httpserver"
	"ollama-claude-proxy/internal/metrics"
	"ollama-claude-proxy/internal/redact"
	"ollama-claude-proxy/internal/upstream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := newLogger(slog.LevelInfo)
	args := os.Args[1:]

	var err error
	if len(args) > 0 && args[0] == "autostart" {
		err = runAutostart(args[1:], logger)
	} else {
		err = runProxy(args, logger)
	}

	if err == nil {
		return
	}

	logger.Error("command failed", "error", err)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	os.Exit(1)
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func runProxy(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("ollama-claude-proxy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfgPath := fs.String("c", "", "path to optional yaml config file")
	envFile := fs.String("env", "", "path to dotenv file (default .env)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}

	cfg, err := config.Load(config.Options{Path: *cfgPath, EnvFile: *envFile})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.SlogLevel())

	table, err := cfg.Aliases()
	if err != nil {
		return fmt.Errorf("load model aliases: %w", err)
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(table.UpstreamModels()...)
	}

	client, err := upstream.New(upstream.Options{
		APIKey:  cfg.Anthropic.APIKey,
		BaseURL: cfg.Anthropic.BaseURL,
		Version: cfg.Anthropic.Version,
		Timeout: cfg.Anthropic.Timeout,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("create upstream client: %w", err)
	}

	service := gateway.NewService(gateway.Options{
		Aliases:      table,
		Upstream:     client,
		DefaultModel: cfg.DefaultModel,
		Logger:       logger,
	})
	server := httpserver.New(httpserver.Options{
		Addr:            cfg.Listen,
		UpstreamTimeout: cfg.Anthropic.Timeout,
		Logger:          logger,
		Metrics:         m,
	}, service)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("proxy starting",
			"listen", cfg.Listen,
			"log_level", cfg.LogLevel,
			"anthropic_base_url", cfg.Anthropic.BaseURL,
			"api_key", redact.Key(cfg.Anthropic.APIKey),
			"models", table.Names(),
			"default_model", cfg.DefaultModel,
			"metrics_enabled", cfg.MetricsEnabled,
		)
		errCh <- server.ListenAndServe()
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server exited unexpectedly: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("proxy stopped")
	return nil
}
