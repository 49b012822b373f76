// establishment-service
//
// Establishment search and matching service of the immersion platform.
// Exposes a REST API used by the gateway to:
//   - search immersion offers around a position (internal index + job board)
//   - read one offer by siret and appellation code
//   - create, update and delete establishments from the form
//
// Runs the maintenance jobs in-process on cron schedules.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/app"
	"github.com/betagouv/l-immersion-facile-sub002/internal/config"
	"github.com/betagouv/l-immersion-facile-sub002/internal/httpapi"
	"github.com/betagouv/l-immersion-facile-sub002/internal/logging"
	"github.com/betagouv/l-immersion-facile-sub002/internal/scheduler"
)

const (
	serviceName = "establishment-service"
	version     = "1.0.0"
)

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] Config error: %v\n", serviceName, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] Logger error: %v\n", serviceName, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Repositories + use cases ─────────────────────────────────────────────
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	// ── Scheduler ────────────────────────────────────────────────────────────
	sched := scheduler.New(logger, a.Jobs()...)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	h := httpapi.NewHandler(a.UseCases(serviceName, version), logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      h.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("version", version), zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	sched.Stop()
	logger.Info("stopped")
}
