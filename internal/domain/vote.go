package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Score bounds accepted for a single vote.
const (
	MinScore = 0
	MaxScore = 5
)

// Vote represents a single voter's score for an item.
type Vote struct {
	VoterID   string
	ItemID    string
	Score     int
	Reversed  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Aggregate holds the running count and mean of the non-reversed votes for an item.
type Aggregate struct {
	ItemID       string
	TotalVotes   int64
	AverageScore decimal.Decimal
}

// EmptyAggregate returns the aggregate of an item nobody has voted on.
func EmptyAggregate(itemID string) Aggregate {
	return Aggregate{ItemID: itemID, AverageScore: decimal.Zero}
}

// ValidScore reports whether score lies in the accepted closed interval.
func ValidScore(score int) bool {
	return score >= MinScore && score <= MaxScore
}
