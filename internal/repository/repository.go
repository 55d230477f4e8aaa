package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/votetally/internal/domain"
	"github.com/Clark-Hu/votetally/internal/store"
)

var _ domain.VoteStore = (*Repository)(nil)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx so the same repository code
// runs inside and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository aggregates all domain-specific repositories and implements
// domain.VoteStore on top of Postgres.
type Repository struct {
	pool       *pgxpool.Pool
	Votes      *VotesRepository
	Aggregates *AggregatesRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:       pool,
		Votes:      &VotesRepository{db: pool},
		Aggregates: &AggregatesRepository{db: pool},
	}
}

// WithinItem opens a transaction, creates the item's aggregate row if needed
// and locks it with SELECT ... FOR UPDATE. Every other writer for the same item
// blocks on that row lock until this transaction ends.
func (r *Repository) WithinItem(ctx context.Context, itemID string, fn func(ctx context.Context, tx domain.ItemTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr("begin", err)
	}
	defer func() {
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = tx.Rollback(rbCtx)
	}()

	itx := &itemTx{
		itemID:     itemID,
		votes:      &VotesRepository{db: tx},
		aggregates: &AggregatesRepository{db: tx},
	}
	if err := itx.aggregates.lock(ctx, itemID); err != nil {
		return err
	}

	if err := fn(ctx, itx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapErr("commit", err)
	}
	return nil
}

// GetAggregate implements domain.VoteStore.
func (r *Repository) GetAggregate(ctx context.Context, itemID string) (domain.Aggregate, error) {
	return r.Aggregates.Get(ctx, itemID)
}

// GetVote implements domain.VoteStore.
func (r *Repository) GetVote(ctx context.Context, voterID, itemID string) (domain.Vote, error) {
	return r.Votes.Get(ctx, voterID, itemID)
}

// ListVotesSince implements domain.VoteStore.
func (r *Repository) ListVotesSince(ctx context.Context, since time.Time, includeReversed bool) ([]domain.Vote, error) {
	return r.Votes.ListSince(ctx, since, includeReversed)
}

type itemTx struct {
	itemID     string
	votes      *VotesRepository
	aggregates *AggregatesRepository
}

func (tx *itemTx) ItemID() string { return tx.itemID }

func (tx *itemTx) GetAggregate(ctx context.Context) (domain.Aggregate, error) {
	return tx.aggregates.Get(ctx, tx.itemID)
}

func (tx *itemTx) PutAggregate(ctx context.Context, agg domain.Aggregate) error {
	agg.ItemID = tx.itemID
	return tx.aggregates.Put(ctx, agg)
}

func (tx *itemTx) GetVote(ctx context.Context, voterID string) (domain.Vote, error) {
	return tx.votes.Get(ctx, voterID, tx.itemID)
}

func (tx *itemTx) CreateVote(ctx context.Context, vote domain.Vote) (domain.Vote, error) {
	vote.ItemID = tx.itemID
	return tx.votes.Create(ctx, vote)
}

func (tx *itemTx) UpdateVote(ctx context.Context, vote domain.Vote) (domain.Vote, error) {
	vote.ItemID = tx.itemID
	return tx.votes.Update(ctx, vote)
}

// SQLSTATE codes that are not transient. Everything else, serialization
// failures and deadlocks included, is surfaced as a retryable store error.
const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return errors.Join(domain.ErrConstraintViolation, err)
		case codeCheckViolation:
			return errors.Join(domain.ErrInvariantViolation, err)
		}
	}
	return domain.NewStoreError(op, err)
}
