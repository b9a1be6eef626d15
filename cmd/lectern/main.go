package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lecternfm/lectern/internal/app"
	"github.com/lecternfm/lectern/internal/config"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	buildCtx, buildCancel := context.WithTimeout(context.Background(), 30*time.Second)
	result, err := app.Build(buildCtx, cfg, logger)
	buildCancel()
	if err != nil {
		logger.Fatalf("build failed: %v", err)
	}
	logger.Printf("engine: %s (%s), audio output: %s", result.Engine.Mode, result.Engine.Detail, result.Engine.Output)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: result.API.Router(),
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result.Sessions.StartJanitor(runCtx, 5*time.Second)

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logger.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Printf("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("graceful shutdown failed: %v", err)
			_ = httpServer.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Printf("server error: %v", err)
	}
	if err := result.Cleanup(); err != nil {
		logger.Printf("cleanup: %v", err)
	}
	logger.Printf("shutdown complete")
}
