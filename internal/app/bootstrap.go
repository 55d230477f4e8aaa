// Package app assembles the components shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/Clark-Hu/votetally/internal/config"
	"github.com/Clark-Hu/votetally/internal/domain"
	"github.com/Clark-Hu/votetally/internal/fraud"
	"github.com/Clark-Hu/votetally/internal/lease"
	"github.com/Clark-Hu/votetally/internal/ledger"
	"github.com/Clark-Hu/votetally/internal/memstore"
	"github.com/Clark-Hu/votetally/internal/metrics"
	"github.com/Clark-Hu/votetally/internal/repository"
	"github.com/Clark-Hu/votetally/internal/store"
)

// Backend is the selected vote store plus its health probe.
type Backend interface {
	domain.VoteStore
	HealthCheck(ctx context.Context) error
}

// Services bundles the wired components.
type Services struct {
	Backend   Backend
	Ledger    *ledger.Ledger
	Detector  *fraud.Detector
	Scheduler *fraud.Scheduler

	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Build opens the configured backend, applies migrations for Postgres, and
// wires the ledger, detector and scheduler.
func Build(ctx context.Context, cfg config.Config, clock clockwork.Clock, logger *slog.Logger) (*Services, error) {
	svc := &Services{}

	backend, err := svc.openBackend(ctx, cfg, logger)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.Backend = backend

	svc.Ledger = ledger.New(backend, ledger.Options{
		Clock:  clock,
		Logger: logger.With("component", "ledger"),
	})

	svc.Detector, err = fraud.NewDetector(backend, svc.Ledger, fraud.Config{
		CandidateWindow: cfg.FraudCandidateWindow,
		BaselineWindow:  cfg.FraudBaselineWindow,
		Threshold:       cfg.FraudZThreshold,
	}, clock, logger.With("component", "fraud"))
	if err != nil {
		svc.Close()
		return nil, err
	}

	var runLease fraud.Lease
	if cfg.RedisURL != "" {
		rl, err := svc.openLease(ctx, cfg, logger)
		if err != nil {
			svc.Close()
			return nil, err
		}
		runLease = rl
	}
	svc.Scheduler = fraud.NewScheduler(svc.Detector, runLease, cfg.FraudInterval, clock, logger.With("component", "scheduler"))

	return svc, nil
}

func (s *Services) openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (Backend, error) {
	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn("using in-memory store; votes are lost on restart")
		return memstore.New(), nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.DBConnTimeoutSecs)*time.Second)
	defer cancel()

	st, err := store.New(dbCtx, cfg.DBURL, store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	s.closers = append(s.closers, st.Close)

	if err := metrics.RegisterPoolStats(func() metrics.PoolStats {
		stat := st.Stats()
		if stat == nil {
			return metrics.PoolStats{}
		}
		return metrics.PoolStats{
			Acquired: stat.AcquiredConns(),
			Idle:     stat.IdleConns(),
			Total:    stat.TotalConns(),
		}
	}); err != nil {
		logger.Warn("failed to register pool metrics", "error", err)
	}

	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return postgresBackend{Repository: repository.New(st), store: st}, nil
}

func (s *Services) openLease(ctx context.Context, cfg config.Config, logger *slog.Logger) (*lease.RunLease, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	s.closers = append(s.closers, func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	rl := lease.New(client, lease.DefaultKey, cfg.FraudLeaseTTL)
	logger.Info("fraud detection lease enabled", "key", lease.DefaultKey, "owner", rl.OwnerID(), "ttl", cfg.FraudLeaseTTL)
	return rl, nil
}

type postgresBackend struct {
	*repository.Repository
	store *store.Store
}

func (b postgresBackend) HealthCheck(ctx context.Context) error {
	return b.store.HealthCheck(ctx)
}
