package fraud

import "math"

// BaselineIncludesCandidate controls whether a candidate vote counts toward the
// baseline it is scored against. Candidates fall inside the baseline window, so
// a non-reversed candidate is ordinarily part of its own baseline.
const BaselineIncludesCandidate = true

// Baseline holds exact running sums of the scores in the baseline window.
type Baseline struct {
	N     int64
	Sum   int64
	SumSq int64
}

// NewBaseline accumulates scores into a Baseline.
func NewBaseline(scores []int) Baseline {
	var b Baseline
	for _, s := range scores {
		b = b.With(s)
	}
	return b
}

// With returns b with score added.
func (b Baseline) With(score int) Baseline {
	s := int64(score)
	return Baseline{N: b.N + 1, Sum: b.Sum + s, SumSq: b.SumSq + s*s}
}

// Without returns b with one occurrence of score removed.
func (b Baseline) Without(score int) Baseline {
	s := int64(score)
	return Baseline{N: b.N - 1, Sum: b.Sum - s, SumSq: b.SumSq - s*s}
}

// Mean is the arithmetic mean, or 0 for an empty baseline.
func (b Baseline) Mean() float64 {
	if b.N <= 0 {
		return 0
	}
	return float64(b.Sum) / float64(b.N)
}

// StdDev is the population standard deviation.
func (b Baseline) StdDev() float64 {
	if b.N <= 0 {
		return 0
	}
	return math.Sqrt(float64(b.spread())) / float64(b.N)
}

// n²·variance, exact in integers.
func (b Baseline) spread() int64 {
	return b.N*b.SumSq - b.Sum*b.Sum
}

// ZScore scores a vote against the baseline. ok is false when the baseline is
// empty. A baseline with zero variance scores every vote as 0.
func (b Baseline) ZScore(score int) (z float64, ok bool) {
	if b.N <= 0 {
		return 0, false
	}
	spread := b.spread()
	if spread <= 0 {
		return 0, true
	}
	return float64(b.N*int64(score)-b.Sum) / math.Sqrt(float64(spread)), true
}
