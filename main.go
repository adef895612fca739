package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newsletter-reader/config"
	"newsletter-reader/internal/app"
	"newsletter-reader/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("failed to load configuration", "error", err)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat, nil)

	application, err := app.New(cfg)
	if err != nil {
		logging.Fatal("failed to initialize application", "error", err)
	}
	defer application.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           application.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("server started", "port", cfg.AppPort, "url", cfg.AppURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logging.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("graceful shutdown failed", "error", err)
	}
}
