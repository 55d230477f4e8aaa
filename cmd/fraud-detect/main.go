// Command fraud-detect runs a single fraud detection pass and exits. It is
// meant for cron-style scheduling outside the server process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/Clark-Hu/votetally/internal/app"
	"github.com/Clark-Hu/votetally/internal/config"
	"github.com/Clark-Hu/votetally/internal/fraud"
	"github.com/Clark-Hu/votetally/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadProfile(config.ProfileJob)
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

	report, err := svc.Scheduler.TriggerNow(ctx)
	switch {
	case errors.Is(err, fraud.ErrLeaseHeld):
		logger.Info("another instance is running fraud detection; nothing to do")
		return
	case err != nil:
		logger.Error("fraud detection failed", "error", err)
		svc.Close()
		os.Exit(1)
	}

	logger.Info("fraud detection complete",
		"candidates", report.Candidates,
		"baseline_size", report.BaselineSize,
		"flagged", report.Flagged,
		"reversed", report.Reversed,
		"failed", report.Failed,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
}
