package fraud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Clark-Hu/votetally/internal/logging"
	"github.com/Clark-Hu/votetally/internal/metrics"
)

var (
	// ErrRunInProgress is returned when a run is requested while another one in
	// this process has not finished. Runs are skipped, never queued.
	ErrRunInProgress = errors.New("fraud detection run already in progress")

	// ErrLeaseHeld is returned when another replica holds the run lease.
	ErrLeaseHeld = errors.New("fraud detection lease held by another instance")
)

const releaseTimeout = 5 * time.Second

// Runner performs one detection pass.
type Runner interface {
	Run(ctx context.Context) (RunReport, error)
}

// Lease serializes runs across processes.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Scheduler triggers a Runner on a fixed interval and on demand, never letting
// two runs overlap.
type Scheduler struct {
	runner   Runner
	lease    Lease
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger

	running sync.Mutex
}

// NewScheduler builds a Scheduler. lease may be nil for a single-instance deployment.
func NewScheduler(runner Runner, lease Lease, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		lease:    lease,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// Run triggers a detection pass every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("fraud detection scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("fraud detection scheduler stopped")
			return nil
		case <-ticker.Chan():
			_, err := s.TriggerNow(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrRunInProgress), errors.Is(err, ErrLeaseHeld):
				s.logger.Info("skipping scheduled fraud detection", "reason", err)
			default:
				s.logger.Error("scheduled fraud detection failed", "error", err)
			}
		}
	}
}

// TriggerNow runs a detection pass immediately unless one is already running
// here or, with a lease configured, on another instance.
func (s *Scheduler) TriggerNow(ctx context.Context) (RunReport, error) {
	if !s.running.TryLock() {
		metrics.FraudRunsTotal.WithLabelValues("skipped").Inc()
		return RunReport{}, ErrRunInProgress
	}
	defer s.running.Unlock()

	if _, ok := logging.ID(ctx); !ok {
		ctx = logging.WithID(ctx, logging.NewID())
	}

	if s.lease != nil {
		acquired, err := s.lease.TryAcquire(ctx)
		if err != nil {
			metrics.FraudRunsTotal.WithLabelValues("failed").Inc()
			return RunReport{}, fmt.Errorf("acquire run lease: %w", err)
		}
		if !acquired {
			metrics.FraudRunsTotal.WithLabelValues("skipped").Inc()
			return RunReport{}, ErrLeaseHeld
		}
		defer s.releaseLease(ctx)
	}

	return s.runner.Run(ctx)
}

func (s *Scheduler) releaseLease(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.lease.Release(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to release fraud detection lease", "error", err)
	}
}
