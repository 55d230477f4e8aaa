package domain

import (
	"github.com/shopspring/decimal"
)

// AverageScale is the number of decimal places kept for AverageScore.
const AverageScale = 3

var maxAverage = decimal.NewFromInt(MaxScore)

// Delta is a single change to an item's aggregate. The set of implementations
// is closed: Insert, Update and Reverse.
type Delta interface {
	Kind() string
	sealed()
}

// Insert counts a voter's first vote on an item.
type Insert struct {
	Score int
}

// Update replaces the score of an already-counted vote.
type Update struct {
	Old int
	New int
}

// Reverse removes a counted vote from the aggregate.
type Reverse struct {
	Score int
}

func (Insert) Kind() string  { return "insert" }
func (Update) Kind() string  { return "update" }
func (Reverse) Kind() string { return "reverse" }

func (Insert) sealed()  {}
func (Update) sealed()  {}
func (Reverse) sealed() {}

// Apply returns the aggregate that results from applying d to a.
//
// The running sum is reconstructed as avg*n, adjusted, and divided by the new
// count. The quotient is rounded half-to-even to AverageScale places on every
// step, exactly as a numeric(4,3) column would store it, so replaying the same
// deltas in the same order reproduces the same average.
func (a Aggregate) Apply(d Delta) (Aggregate, error) {
	if a.TotalVotes < 0 {
		return a, invariantf("aggregate %s has negative vote count %d", a.ItemID, a.TotalVotes)
	}

	n := decimal.NewFromInt(a.TotalVotes)
	sum := a.AverageScore.Mul(n)
	next := Aggregate{ItemID: a.ItemID}

	switch d := d.(type) {
	case Insert:
		if !ValidScore(d.Score) {
			return a, invariantf("insert score %d out of range", d.Score)
		}
		next.TotalVotes = a.TotalVotes + 1
		next.AverageScore = sum.Add(decimal.NewFromInt(int64(d.Score))).
			Div(decimal.NewFromInt(next.TotalVotes))

	case Update:
		if !ValidScore(d.Old) || !ValidScore(d.New) {
			return a, invariantf("update scores %d->%d out of range", d.Old, d.New)
		}
		if a.TotalVotes == 0 {
			return a, invariantf("update on item %s with no counted votes", a.ItemID)
		}
		next.TotalVotes = a.TotalVotes
		next.AverageScore = sum.Sub(decimal.NewFromInt(int64(d.Old))).
			Add(decimal.NewFromInt(int64(d.New))).
			Div(n)

	case Reverse:
		if !ValidScore(d.Score) {
			return a, invariantf("reverse score %d out of range", d.Score)
		}
		if a.TotalVotes == 0 {
			return a, invariantf("reverse on item %s with no counted votes", a.ItemID)
		}
		next.TotalVotes = a.TotalVotes - 1
		if next.TotalVotes == 0 {
			next.AverageScore = decimal.Zero
			return next, nil
		}
		next.AverageScore = sum.Sub(decimal.NewFromInt(int64(d.Score))).
			Div(decimal.NewFromInt(next.TotalVotes))

	default:
		return a, invariantf("unknown delta %T", d)
	}

	next.AverageScore = clampAverage(next.AverageScore.RoundBank(AverageScale))
	return next, nil
}

// Per-step rounding can drift a hair outside [MinScore, MaxScore] after many
// reversals; a mean of in-range scores never leaves the range.
func clampAverage(avg decimal.Decimal) decimal.Decimal {
	if avg.IsNegative() {
		return decimal.Zero
	}
	if avg.GreaterThan(maxAverage) {
		return maxAverage
	}
	return avg
}
