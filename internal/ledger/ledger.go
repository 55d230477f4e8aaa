// Package ledger records votes and keeps each item's aggregate in step with
// them. Every vote write and its aggregate delta commit as one unit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"

	"github.com/Clark-Hu/votetally/internal/domain"
	"github.com/Clark-Hu/votetally/internal/metrics"
	"github.com/Clark-Hu/votetally/internal/retry"
)

// CastResult tells whether CastVote created the vote or changed an existing one.
type CastResult int

const (
	Inserted CastResult = iota + 1
	Updated
)

func (r CastResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// DefaultRetryPolicy retries transient store failures a few times with short backoff.
var DefaultRetryPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: 20 * time.Millisecond,
	MaxBackoff:     250 * time.Millisecond,
}

// Options configures a Ledger. Zero values fall back to defaults.
type Options struct {
	Clock  clockwork.Clock
	Logger *slog.Logger
	Retry  *retry.Policy
}

// Ledger is the entry point for casting and reversing votes.
type Ledger struct {
	store    domain.VoteStore
	engine   Engine
	clock    clockwork.Clock
	logger   *slog.Logger
	policy   retry.Policy
	validate *validator.Validate
}

// New constructs a Ledger over store.
func New(store domain.VoteStore, opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	policy := DefaultRetryPolicy
	if opts.Retry != nil {
		policy = *opts.Retry
	}
	return &Ledger{
		store:    store,
		clock:    opts.Clock,
		logger:   opts.Logger,
		policy:   policy,
		validate: newValidator(),
	}
}

// CastVote records score as voterID's vote on itemID. A first vote inserts into
// the aggregate; a re-vote replaces the old score. Re-voting on a reversed vote
// changes the stored score only, since the vote no longer counts.
func (l *Ledger) CastVote(ctx context.Context, voterID, itemID string, score int) (domain.Vote, CastResult, error) {
	if err := l.validateBallot(ballot{VoterID: voterID, ItemID: itemID, Score: score}); err != nil {
		metrics.VotesCastTotal.WithLabelValues("rejected").Inc()
		return domain.Vote{}, 0, err
	}

	type outcome struct {
		vote   domain.Vote
		result CastResult
	}
	out, err := retry.Do(ctx, l.retryPolicy("cast_vote"), isTransient, func() (outcome, error) {
		var o outcome
		err := l.store.WithinItem(ctx, itemID, func(ctx context.Context, tx domain.ItemTx) error {
			var err error
			o.vote, o.result, err = l.cast(ctx, tx, voterID, score)
			return err
		})
		return o, err
	})
	if err != nil {
		metrics.VotesCastTotal.WithLabelValues("failed").Inc()
		return domain.Vote{}, 0, fmt.Errorf("cast vote: %w", err)
	}

	metrics.VotesCastTotal.WithLabelValues(out.result.String()).Inc()
	l.logger.DebugContext(ctx, "vote cast",
		"item_id", itemID,
		"voter_id", voterID,
		"score", score,
		"result", out.result.String(),
	)
	return out.vote, out.result, nil
}

func (l *Ledger) cast(ctx context.Context, tx domain.ItemTx, voterID string, score int) (domain.Vote, CastResult, error) {
	now := l.clock.Now().UTC()

	existing, err := tx.GetVote(ctx, voterID)
	switch {
	case errors.Is(err, domain.ErrVoteNotFound):
		vote, err := tx.CreateVote(ctx, domain.Vote{
			VoterID:   voterID,
			ItemID:    tx.ItemID(),
			Score:     score,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return domain.Vote{}, 0, fmt.Errorf("create vote: %w", err)
		}
		if _, err := l.engine.Apply(ctx, tx, domain.Insert{Score: score}); err != nil {
			return domain.Vote{}, 0, err
		}
		return vote, Inserted, nil

	case err != nil:
		return domain.Vote{}, 0, fmt.Errorf("load vote: %w", err)
	}

	old := existing.Score
	existing.Score = score
	existing.UpdatedAt = now
	vote, err := tx.UpdateVote(ctx, existing)
	if err != nil {
		return domain.Vote{}, 0, fmt.Errorf("update vote: %w", err)
	}
	if existing.Reversed {
		return vote, Updated, nil
	}
	if _, err := l.engine.Apply(ctx, tx, domain.Update{Old: old, New: score}); err != nil {
		return domain.Vote{}, 0, err
	}
	return vote, Updated, nil
}

// ReverseVote excludes voterID's vote on itemID from the aggregate and marks it
// reversed. Reversing an already reversed vote changes nothing.
func (l *Ledger) ReverseVote(ctx context.Context, voterID, itemID string) (domain.Vote, error) {
	type outcome struct {
		vote    domain.Vote
		changed bool
	}
	out, err := retry.Do(ctx, l.retryPolicy("reverse_vote"), isTransient, func() (outcome, error) {
		var o outcome
		err := l.store.WithinItem(ctx, itemID, func(ctx context.Context, tx domain.ItemTx) error {
			var err error
			o.vote, o.changed, err = l.reverse(ctx, tx, voterID)
			return err
		})
		return o, err
	})
	if err != nil {
		metrics.VoteReversalsTotal.WithLabelValues("failed").Inc()
		return domain.Vote{}, fmt.Errorf("reverse vote: %w", err)
	}

	if !out.changed {
		metrics.VoteReversalsTotal.WithLabelValues("already_reversed").Inc()
		l.logger.InfoContext(ctx, "vote already reversed", "item_id", itemID, "voter_id", voterID)
		return out.vote, nil
	}
	metrics.VoteReversalsTotal.WithLabelValues("reversed").Inc()
	l.logger.InfoContext(ctx, "vote reversed",
		"item_id", itemID,
		"voter_id", voterID,
		"score", out.vote.Score,
	)
	return out.vote, nil
}

func (l *Ledger) reverse(ctx context.Context, tx domain.ItemTx, voterID string) (domain.Vote, bool, error) {
	vote, err := tx.GetVote(ctx, voterID)
	if err != nil {
		return domain.Vote{}, false, err
	}
	if vote.Reversed {
		return vote, false, nil
	}

	if _, err := l.engine.Apply(ctx, tx, domain.Reverse{Score: vote.Score}); err != nil {
		return domain.Vote{}, false, err
	}
	vote.Reversed = true
	vote.UpdatedAt = l.clock.Now().UTC()
	vote, err = tx.UpdateVote(ctx, vote)
	if err != nil {
		return domain.Vote{}, false, fmt.Errorf("update vote: %w", err)
	}
	return vote, true, nil
}

// GetAggregate returns the item's aggregate, or an empty one if nobody voted.
func (l *Ledger) GetAggregate(ctx context.Context, itemID string) (domain.Aggregate, error) {
	if itemID == "" {
		return domain.Aggregate{}, &domain.ValidationError{Field: "itemId", Message: "is required"}
	}
	return l.store.GetAggregate(ctx, itemID)
}

// GetVote returns voterID's vote on itemID.
func (l *Ledger) GetVote(ctx context.Context, voterID, itemID string) (domain.Vote, error) {
	return l.store.GetVote(ctx, voterID, itemID)
}

func (l *Ledger) retryPolicy(op string) retry.Policy {
	p := l.policy
	p.Clock = l.clock
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
		l.logger.Warn("retrying after transient store failure",
			"operation", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
	}
	return p
}

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrTransientStore)
}
