package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/votetally/internal/domain"
)

// VotesRepository provides persistence helpers for votes.
type VotesRepository struct {
	db DBTX
}

const voteColumns = `voter_id, item_id, score, reversed, created_at, updated_at`

func scanVote(row pgx.Row) (domain.Vote, error) {
	var (
		v     domain.Vote
		score int16
	)
	err := row.Scan(&v.VoterID, &v.ItemID, &score, &v.Reversed, &v.CreatedAt, &v.UpdatedAt)
	v.Score = int(score)
	return v, err
}

// Get retrieves the vote of a specific voter on an item.
func (r *VotesRepository) Get(ctx context.Context, voterID, itemID string) (domain.Vote, error) {
	const query = `SELECT ` + voteColumns + ` FROM votes WHERE voter_id = $1 AND item_id = $2`

	v, err := scanVote(r.db.QueryRow(ctx, query, voterID, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vote{}, domain.ErrVoteNotFound
		}
		return domain.Vote{}, mapErr("get vote", err)
	}
	return v, nil
}

// Create inserts a new vote. A second vote for the same pair is a constraint violation.
func (r *VotesRepository) Create(ctx context.Context, vote domain.Vote) (domain.Vote, error) {
	const query = `
        INSERT INTO votes (voter_id, item_id, score, reversed, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING ` + voteColumns

	v, err := scanVote(r.db.QueryRow(ctx, query,
		vote.VoterID, vote.ItemID, int16(vote.Score), vote.Reversed, vote.CreatedAt, vote.UpdatedAt))
	if err != nil {
		return domain.Vote{}, mapErr("create vote", err)
	}
	return v, nil
}

// Update overwrites the mutable fields of an existing vote. created_at never changes.
func (r *VotesRepository) Update(ctx context.Context, vote domain.Vote) (domain.Vote, error) {
	const query = `
        UPDATE votes
        SET score = $3, reversed = $4, updated_at = $5
        WHERE voter_id = $1 AND item_id = $2
        RETURNING ` + voteColumns

	v, err := scanVote(r.db.QueryRow(ctx, query,
		vote.VoterID, vote.ItemID, int16(vote.Score), vote.Reversed, vote.UpdatedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vote{}, domain.ErrVoteNotFound
		}
		return domain.Vote{}, mapErr("update vote", err)
	}
	return v, nil
}

// ListSince returns votes created at or after since, oldest first. The scan is
// served by votes_created_at_idx.
func (r *VotesRepository) ListSince(ctx context.Context, since time.Time, includeReversed bool) ([]domain.Vote, error) {
	const query = `
        SELECT ` + voteColumns + `
        FROM votes
        WHERE created_at >= $1 AND ($2 OR NOT reversed)
        ORDER BY created_at, item_id, voter_id`

	rows, err := r.db.Query(ctx, query, since, includeReversed)
	if err != nil {
		return nil, mapErr("list votes", err)
	}
	defer rows.Close()

	var votes []domain.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, mapErr("scan vote", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list votes", err)
	}
	return votes, nil
}
