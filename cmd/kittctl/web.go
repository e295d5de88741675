package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kitt-bench/controller/internal/app"
	"github.com/kitt-bench/controller/internal/config"
)

// handleWeb serves the controller in-process, the same wiring cmd/kittd
// uses, so `kittctl web serve` is a convenient way to run everything from
// one binary during local development.
func handleWeb(ctx context.Context, home string, args []string) error {
	if len(args) == 0 || args[0] != "serve" {
		fmt.Println(`Usage:
  kittctl web serve`)
		return nil
	}

	cfg, err := config.Load(filepath.Join(home, "controller.yaml"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(runCtx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	application.Log.WithField("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Info("kittctl web: starting")

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
	case <-runCtx.Done():
		application.Log.Info("kittctl web: shutting down")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		application.Log.WithField("error", err).Warn("kittctl web: http shutdown error")
	}
	return application.Stop(shutdownCtx)
}
