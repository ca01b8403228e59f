// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

// widgethostd serves the widget hosting core as a standalone daemon:
// an HTTP API for managing widget definitions plus a websocket
// endpoint widgets attach to for capability negotiation and event
// traffic.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/widgethost/core/lib/config"
	"github.com/widgethost/core/lib/version"
	"github.com/widgethost/core/ref"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		localUser   string
		showVersion bool
	)

	pflag.StringVar(&configPath, "config", "", "path to the configuration file (default: $WIDGETHOST_CONFIG)")
	pflag.StringVar(&localUser, "user", "@widgethost:localhost", "local user ID widgets are hosted for")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("widgethostd %s\n", version.Info())
		return nil
	}

	user, err := ref.ParseUserID(localUser)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else if os.Getenv(config.EnvConfigPath) != "" {
		cfg, err = config.Load()
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := newServer(cfg, logger, user)
	defer server.Close()

	httpServer := &http.Server{
		Addr:              cfg.Listen.Address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 2)
	go func() {
		logger.Info("listening", "address", cfg.Listen.Address, "tls", cfg.Listen.TLSCert != "")
		var err error
		if cfg.Listen.TLSCert != "" {
			err = httpServer.ListenAndServeTLS(cfg.Listen.TLSCert, cfg.Listen.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	var metricsServer *http.Server
	if cfg.Listen.MetricsAddress != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Listen.MetricsAddress,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "address", cfg.Listen.MetricsAddress)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errs <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errs:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", "error", err)
		}
	}
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}
