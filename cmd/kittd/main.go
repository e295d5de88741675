// Command kittd is the controller daemon: it loads configuration, wires the
// storage/eventbus/agent/campaign stack via internal/app, and serves the
// HTTP/SSE API until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kitt-bench/controller/internal/app"
	"github.com/kitt-bench/controller/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "kittd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to controller.yaml (defaults to <home>/controller.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	application.Log.WithField("driver", cfg.Database.Driver).
		WithField("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Info("kittd: starting")

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: application.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
			serveErr <- srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		application.Log.Info("kittd: shutting down")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		application.Log.WithField("error", err).Warn("kittd: http shutdown error")
	}
	return application.Stop(shutdownCtx)
}
