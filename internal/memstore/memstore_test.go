package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/votetally/internal/domain"
)

var t0 = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestStore_WithinItemCommits(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinItem(ctx, "post-1", func(ctx context.Context, tx domain.ItemTx) error {
		_, err := tx.CreateVote(ctx, domain.Vote{VoterID: "u1", Score: 4, CreatedAt: t0, UpdatedAt: t0})
		require.NoError(t, err)

		// Staged writes are visible inside the unit.
		v, err := tx.GetVote(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "post-1", v.ItemID)

		return tx.PutAggregate(ctx, domain.Aggregate{TotalVotes: 1, AverageScore: decimal.NewFromInt(4)})
	})
	require.NoError(t, err)

	agg, err := s.GetAggregate(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, "post-1", agg.ItemID)
	assert.Equal(t, int64(1), agg.TotalVotes)

	v, err := s.GetVote(ctx, "u1", "post-1")
	require.NoError(t, err)
	assert.Equal(t, 4, v.Score)
}

func TestStore_WithinItemRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinItem(ctx, "post-1", func(ctx context.Context, tx domain.ItemTx) error {
		_, err := tx.CreateVote(ctx, domain.Vote{VoterID: "u1", Score: 4, CreatedAt: t0})
		require.NoError(t, err)
		require.NoError(t, tx.PutAggregate(ctx, domain.Aggregate{TotalVotes: 1, AverageScore: decimal.NewFromInt(4)}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetVote(ctx, "u1", "post-1")
	assert.ErrorIs(t, err, domain.ErrVoteNotFound)

	agg, err := s.GetAggregate(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EmptyAggregate("post-1"), agg)
}

func TestStore_CreateVoteTwiceIsConstraintViolation(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinItem(ctx, "post-1", func(ctx context.Context, tx domain.ItemTx) error {
		if _, err := tx.CreateVote(ctx, domain.Vote{VoterID: "u1", Score: 1}); err != nil {
			return err
		}
		_, err := tx.CreateVote(ctx, domain.Vote{VoterID: "u1", Score: 2})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)
}

func TestStore_UpdateMissingVote(t *testing.T) {
	s := New()
	err := s.WithinItem(context.Background(), "post-1", func(ctx context.Context, tx domain.ItemTx) error {
		_, err := tx.UpdateVote(ctx, domain.Vote{VoterID: "ghost", Score: 1})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrVoteNotFound)
}

func TestStore_ListVotesSince(t *testing.T) {
	s := New()
	ctx := context.Background()

	seed := []domain.Vote{
		{VoterID: "u1", ItemID: "a", Score: 1, CreatedAt: t0.Add(-2 * time.Hour)},
		{VoterID: "u2", ItemID: "a", Score: 2, CreatedAt: t0.Add(-10 * time.Minute), Reversed: true},
		{VoterID: "u3", ItemID: "b", Score: 3, CreatedAt: t0.Add(-5 * time.Minute)},
		{VoterID: "u4", ItemID: "b", Score: 4, CreatedAt: t0.Add(-48 * time.Hour)},
	}
	for _, v := range seed {
		v := v
		require.NoError(t, s.WithinItem(ctx, v.ItemID, func(ctx context.Context, tx domain.ItemTx) error {
			_, err := tx.CreateVote(ctx, v)
			return err
		}))
	}

	all, err := s.ListVotesSince(ctx, t0.Add(-24*time.Hour), true)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"u1", "u2", "u3"}, []string{all[0].VoterID, all[1].VoterID, all[2].VoterID})

	counted, err := s.ListVotesSince(ctx, t0.Add(-24*time.Hour), false)
	require.NoError(t, err)
	require.Len(t, counted, 2)
	assert.Equal(t, "u1", counted[0].VoterID)
	assert.Equal(t, "u3", counted[1].VoterID)
}

func TestStore_WithinItemHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	unlockHeld := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithinItem(context.Background(), "post-1", func(context.Context, domain.ItemTx) error {
			close(unlockHeld)
			<-release
			return nil
		})
	}()
	<-unlockHeld

	cancel()
	err := s.WithinItem(ctx, "post-1", func(context.Context, domain.ItemTx) error { return nil })
	assert.ErrorIs(t, err, domain.ErrTransientStore)
	close(release)
}
