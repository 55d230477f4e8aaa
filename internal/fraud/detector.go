// Package fraud finds anomalous recent votes by their z-score against a
// trailing baseline of all counted votes, and reverses them.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Clark-Hu/votetally/internal/domain"
	"github.com/Clark-Hu/votetally/internal/metrics"
)

// Defaults for Config.
const (
	DefaultCandidateWindow = 30 * time.Minute
	DefaultBaselineWindow  = 24 * time.Hour
	DefaultThreshold       = 2.0
)

// VoteLister reads votes by creation time.
type VoteLister interface {
	ListVotesSince(ctx context.Context, since time.Time, includeReversed bool) ([]domain.Vote, error)
}

// Reverser excludes a vote from its item's aggregate.
type Reverser interface {
	ReverseVote(ctx context.Context, voterID, itemID string) (domain.Vote, error)
}

// Config tunes a Detector.
type Config struct {
	CandidateWindow time.Duration
	BaselineWindow  time.Duration
	Threshold       float64
}

// DefaultConfig returns the standard windows and threshold.
func DefaultConfig() Config {
	return Config{
		CandidateWindow: DefaultCandidateWindow,
		BaselineWindow:  DefaultBaselineWindow,
		Threshold:       DefaultThreshold,
	}
}

// Validate checks that the windows and threshold are usable.
func (c Config) Validate() error {
	if c.CandidateWindow <= 0 {
		return errors.New("candidate window must be positive")
	}
	if c.BaselineWindow < c.CandidateWindow {
		return fmt.Errorf("baseline window %s must cover candidate window %s", c.BaselineWindow, c.CandidateWindow)
	}
	if c.Threshold <= 0 || math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
		return fmt.Errorf("threshold must be a positive number, got %v", c.Threshold)
	}
	return nil
}

// RunReport summarizes one detection run.
type RunReport struct {
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	Candidates   int       `json:"candidates"`
	BaselineSize int64     `json:"baselineSize"`
	Mean         float64   `json:"mean"`
	StdDev       float64   `json:"stdDev"`
	Flagged      int       `json:"flagged"`
	Reversed     int       `json:"reversed"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
}

// Detector scores recent votes and reverses outliers.
type Detector struct {
	votes    VoteLister
	reverser Reverser
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewDetector builds a Detector. A nil clock means wall-clock time.
func NewDetector(votes VoteLister, reverser Reverser, cfg Config, clock clockwork.Clock, logger *slog.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fraud detector config: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{votes: votes, reverser: reverser, cfg: cfg, clock: clock, logger: logger}, nil
}

// Run performs one detection pass. The baseline is read once, before any
// reversal, so every candidate in the run is scored against the same snapshot.
// A failure to reverse one candidate is logged and counted; it does not stop
// the run. Run only returns an error when the votes cannot be read.
func (d *Detector) Run(ctx context.Context) (RunReport, error) {
	now := d.clock.Now().UTC()
	report := RunReport{StartedAt: now}
	defer func(start time.Time) {
		metrics.FraudRunDuration.Observe(time.Since(start).Seconds())
	}(time.Now())

	baselineVotes, err := d.votes.ListVotesSince(ctx, now.Add(-d.cfg.BaselineWindow), false)
	if err != nil {
		metrics.FraudRunsTotal.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("load baseline: %w", err)
	}
	candidates, err := d.votes.ListVotesSince(ctx, now.Add(-d.cfg.CandidateWindow), true)
	if err != nil {
		metrics.FraudRunsTotal.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("load candidates: %w", err)
	}

	scores := make([]int, len(baselineVotes))
	for i, v := range baselineVotes {
		scores[i] = v.Score
	}
	baseline := NewBaseline(scores)
	baselineStart := now.Add(-d.cfg.BaselineWindow)

	report.Candidates = len(candidates)
	report.BaselineSize = baseline.N
	report.Mean = baseline.Mean()
	report.StdDev = baseline.StdDev()
	metrics.FraudBaselineSize.Set(float64(baseline.N))

	d.logger.InfoContext(ctx, "fraud detection started",
		"candidates", report.Candidates,
		"baseline_size", report.BaselineSize,
		"mean", report.Mean,
		"stddev", report.StdDev,
	)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			metrics.FraudRunsTotal.WithLabelValues("failed").Inc()
			report.FinishedAt = d.clock.Now().UTC()
			return report, fmt.Errorf("fraud detection interrupted: %w", err)
		}

		b := baseline
		if !BaselineIncludesCandidate && !c.Reversed && !c.CreatedAt.Before(baselineStart) {
			b = b.Without(c.Score)
		}

		z, ok := b.ZScore(c.Score)
		if !ok {
			report.Skipped++
			metrics.FraudCandidatesTotal.WithLabelValues("skipped").Inc()
			continue
		}
		if math.Abs(z) < d.cfg.Threshold {
			metrics.FraudCandidatesTotal.WithLabelValues("kept").Inc()
			continue
		}

		report.Flagged++
		if c.Reversed {
			metrics.FraudCandidatesTotal.WithLabelValues("already_reversed").Inc()
			continue
		}
		if _, err := d.reverser.ReverseVote(ctx, c.VoterID, c.ItemID); err != nil {
			report.Failed++
			metrics.FraudCandidatesTotal.WithLabelValues("failed").Inc()
			d.logger.WarnContext(ctx, "failed to reverse flagged vote",
				"item_id", c.ItemID,
				"voter_id", c.VoterID,
				"z_score", z,
				"error", err,
			)
			continue
		}
		report.Reversed++
		metrics.FraudCandidatesTotal.WithLabelValues("reversed").Inc()
		d.logger.InfoContext(ctx, "reversed anomalous vote",
			"item_id", c.ItemID,
			"voter_id", c.VoterID,
			"score", c.Score,
			"z_score", z,
		)
	}

	report.FinishedAt = d.clock.Now().UTC()
	metrics.FraudRunsTotal.WithLabelValues("completed").Inc()
	d.logger.InfoContext(ctx, "fraud detection finished",
		"flagged", report.Flagged,
		"reversed", report.Reversed,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}
