package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Clark-Hu/votetally/internal/domain"
	"github.com/Clark-Hu/votetally/internal/metrics"
)

// Engine applies aggregate deltas inside an item-scoped unit of work.
type Engine struct{}

// Apply reads the item's aggregate from tx, applies d and writes the result
// back through the same tx. The caller must hold tx for the item being changed.
func (Engine) Apply(ctx context.Context, tx domain.ItemTx, d domain.Delta) (domain.Aggregate, error) {
	kind := "unknown"
	if d != nil {
		kind = d.Kind()
	}
	start := time.Now()
	defer func() {
		metrics.AggregateApplyDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	agg, err := tx.GetAggregate(ctx)
	if err != nil {
		return domain.Aggregate{}, fmt.Errorf("load aggregate: %w", err)
	}
	agg.ItemID = tx.ItemID()

	next, err := agg.Apply(d)
	if err != nil {
		return domain.Aggregate{}, err
	}
	if err := tx.PutAggregate(ctx, next); err != nil {
		return domain.Aggregate{}, fmt.Errorf("store aggregate: %w", err)
	}
	return next, nil
}
