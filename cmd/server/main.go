package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/votetally/internal/app"
	"github.com/Clark-Hu/votetally/internal/config"
	httpserver "github.com/Clark-Hu/votetally/internal/http"
	"github.com/Clark-Hu/votetally/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	svc, err := app.Build(ctx, cfg, clockwork.NewRealClock(), logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	server := httpserver.New(cfg, svc.Backend, svc.Ledger, svc.Scheduler, logger.With("component", "http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		return svc.Scheduler.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
