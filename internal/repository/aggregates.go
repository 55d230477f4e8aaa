package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/votetally/internal/domain"
)

// AggregatesRepository persists the per-item running statistics.
type AggregatesRepository struct {
	db DBTX
}

// average_score travels as text so the numeric(4,3) value reaches
// decimal.Decimal without a float round trip.
const aggregateColumns = `item_id, total_votes, average_score::text`

func scanAggregate(row pgx.Row) (domain.Aggregate, error) {
	var (
		agg domain.Aggregate
		avg string
	)
	if err := row.Scan(&agg.ItemID, &agg.TotalVotes, &avg); err != nil {
		return domain.Aggregate{}, err
	}
	d, err := decimal.NewFromString(avg)
	if err != nil {
		return domain.Aggregate{}, fmt.Errorf("parse average_score %q: %w", avg, err)
	}
	agg.AverageScore = d
	return agg, nil
}

// Get returns the aggregate for an item, or the empty aggregate if none exists yet.
func (r *AggregatesRepository) Get(ctx context.Context, itemID string) (domain.Aggregate, error) {
	const query = `SELECT ` + aggregateColumns + ` FROM aggregates WHERE item_id = $1`

	agg, err := scanAggregate(r.db.QueryRow(ctx, query, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EmptyAggregate(itemID), nil
		}
		return domain.Aggregate{}, mapErr("get aggregate", err)
	}
	return agg, nil
}

// Put writes the aggregate row.
func (r *AggregatesRepository) Put(ctx context.Context, agg domain.Aggregate) error {
	const query = `
        INSERT INTO aggregates (item_id, total_votes, average_score, updated_at)
        VALUES ($1, $2, $3, now())
        ON CONFLICT (item_id)
        DO UPDATE SET total_votes = EXCLUDED.total_votes,
                      average_score = EXCLUDED.average_score,
                      updated_at = now()`

	avg := agg.AverageScore.StringFixed(domain.AverageScale)
	if _, err := r.db.Exec(ctx, query, agg.ItemID, agg.TotalVotes, avg); err != nil {
		return mapErr("put aggregate", err)
	}
	return nil
}

// lock makes sure the row exists and takes its row lock for the rest of the
// transaction. Must run inside a transaction.
func (r *AggregatesRepository) lock(ctx context.Context, itemID string) error {
	const insert = `INSERT INTO aggregates (item_id) VALUES ($1) ON CONFLICT (item_id) DO NOTHING`
	const lock = `SELECT item_id FROM aggregates WHERE item_id = $1 FOR UPDATE`

	if _, err := r.db.Exec(ctx, insert, itemID); err != nil {
		return mapErr("create aggregate", err)
	}
	var locked string
	if err := r.db.QueryRow(ctx, lock, itemID).Scan(&locked); err != nil {
		return mapErr("lock aggregate", err)
	}
	return nil
}
