package domain

import (
	"context"
	"time"
)

// ItemTx is a unit of work holding exclusive access to one item's aggregate.
// Every write made through it commits together with the others or not at all.
type ItemTx interface {
	ItemID() string
	GetAggregate(ctx context.Context) (Aggregate, error)
	PutAggregate(ctx context.Context, agg Aggregate) error
	GetVote(ctx context.Context, voterID string) (Vote, error)
	CreateVote(ctx context.Context, vote Vote) (Vote, error)
	UpdateVote(ctx context.Context, vote Vote) (Vote, error)
}

// VoteStore is the persistence boundary for votes and aggregates.
type VoteStore interface {
	// WithinItem runs fn with exclusive access to itemID's aggregate. Calls for
	// the same item serialize; calls for different items do not block each
	// other. Returning an error from fn discards all of its writes.
	WithinItem(ctx context.Context, itemID string, fn func(ctx context.Context, tx ItemTx) error) error
	GetAggregate(ctx context.Context, itemID string) (Aggregate, error)
	GetVote(ctx context.Context, voterID, itemID string) (Vote, error)
	// ListVotesSince returns votes created at or after since, oldest first.
	ListVotesSince(ctx context.Context, since time.Time, includeReversed bool) ([]Vote, error)
}
