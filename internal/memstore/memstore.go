// Package memstore is an embedded, process-local implementation of
// domain.VoteStore. Per-item exclusion comes from a keylock.Locker; writes made
// inside WithinItem are staged and published only when the callback succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Clark-Hu/votetally/internal/domain"
	"github.com/Clark-Hu/votetally/internal/keylock"
)

var _ domain.VoteStore = (*Store)(nil)

type voteKey struct {
	voterID string
	itemID  string
}

// Store keeps votes and aggregates in memory.
type Store struct {
	locks *keylock.Locker

	mu         sync.RWMutex
	votes      map[voteKey]domain.Vote
	aggregates map[string]domain.Aggregate
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		locks:      keylock.New(),
		votes:      make(map[voteKey]domain.Vote),
		aggregates: make(map[string]domain.Aggregate),
	}
}

// HealthCheck always succeeds; the store has no external dependency.
func (s *Store) HealthCheck(context.Context) error { return nil }

// WithinItem implements domain.VoteStore.
func (s *Store) WithinItem(ctx context.Context, itemID string, fn func(ctx context.Context, tx domain.ItemTx) error) error {
	unlock, err := s.locks.Lock(ctx, itemID)
	if err != nil {
		return domain.NewStoreError("lock item", err)
	}
	defer unlock()

	tx := &itemTx{store: s, itemID: itemID, votes: make(map[string]domain.Vote)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.NewStoreError("commit", err)
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *itemTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for voterID, v := range tx.votes {
		s.votes[voteKey{voterID: voterID, itemID: tx.itemID}] = v
	}
	if tx.aggregate != nil {
		s.aggregates[tx.itemID] = *tx.aggregate
	}
}

// GetAggregate implements domain.VoteStore.
func (s *Store) GetAggregate(_ context.Context, itemID string) (domain.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if agg, ok := s.aggregates[itemID]; ok {
		return agg, nil
	}
	return domain.EmptyAggregate(itemID), nil
}

// GetVote implements domain.VoteStore.
func (s *Store) GetVote(_ context.Context, voterID, itemID string) (domain.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.votes[voteKey{voterID: voterID, itemID: itemID}]; ok {
		return v, nil
	}
	return domain.Vote{}, domain.ErrVoteNotFound
}

// ListVotesSince implements domain.VoteStore with a full scan.
func (s *Store) ListVotesSince(_ context.Context, since time.Time, includeReversed bool) ([]domain.Vote, error) {
	s.mu.RLock()
	out := make([]domain.Vote, 0, len(s.votes))
	for _, v := range s.votes {
		if v.CreatedAt.Before(since) {
			continue
		}
		if v.Reversed && !includeReversed {
			continue
		}
		out = append(out, v)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].VoterID < out[j].VoterID
	})
	return out, nil
}

type itemTx struct {
	store     *Store
	itemID    string
	aggregate *domain.Aggregate
	votes     map[string]domain.Vote
}

func (tx *itemTx) ItemID() string { return tx.itemID }

func (tx *itemTx) GetAggregate(ctx context.Context) (domain.Aggregate, error) {
	if tx.aggregate != nil {
		return *tx.aggregate, nil
	}
	return tx.store.GetAggregate(ctx, tx.itemID)
}

func (tx *itemTx) PutAggregate(_ context.Context, agg domain.Aggregate) error {
	agg.ItemID = tx.itemID
	tx.aggregate = &agg
	return nil
}

func (tx *itemTx) GetVote(ctx context.Context, voterID string) (domain.Vote, error) {
	if v, ok := tx.votes[voterID]; ok {
		return v, nil
	}
	return tx.store.GetVote(ctx, voterID, tx.itemID)
}

func (tx *itemTx) CreateVote(ctx context.Context, vote domain.Vote) (domain.Vote, error) {
	if _, err := tx.GetVote(ctx, vote.VoterID); err == nil {
		return domain.Vote{}, domain.ErrConstraintViolation
	}
	vote.ItemID = tx.itemID
	tx.votes[vote.VoterID] = vote
	return vote, nil
}

func (tx *itemTx) UpdateVote(ctx context.Context, vote domain.Vote) (domain.Vote, error) {
	existing, err := tx.GetVote(ctx, vote.VoterID)
	if err != nil {
		return domain.Vote{}, err
	}
	existing.Score = vote.Score
	existing.Reversed = vote.Reversed
	existing.UpdatedAt = vote.UpdatedAt
	tx.votes[vote.VoterID] = existing
	return existing, nil
}
