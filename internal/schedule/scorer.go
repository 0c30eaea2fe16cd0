// Package schedule decides what gets extracted and when: a priority
// scorer turns candidate attributes into an urgency score and a
// next-eligible time, and a queue keeps the scored tasks ordered until
// the orchestrator drains them.
package schedule

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/dealhound/crawler/pkg/models"
)

// Weights are the relative contributions of each scoring factor. They
// should sum to 1.0; Jitter doubles as the half-width of the uniform
// noise added after the weighted sum.
type Weights struct {
	Price      float64 `yaml:"price"`
	Time       float64 `yaml:"time"`
	Popularity float64 `yaml:"popularity"`
	Discount   float64 `yaml:"discount"`
	Jitter     float64 `yaml:"jitter"`
}

// Sum returns the total of all weights, jitter included.
func (w Weights) Sum() float64 {
	return w.Price + w.Time + w.Popularity + w.Discount + w.Jitter
}

// Intervals bound the gap between two extractions of the same task.
type Intervals struct {
	Base time.Duration `yaml:"base"`
	Min  time.Duration `yaml:"min"`
	Max  time.Duration `yaml:"max"`
}

// Scorer computes urgency scores. Safe for concurrent use; the jitter
// source is guarded internally.
type Scorer struct {
	weights   Weights
	intervals Intervals
	highValue float64

	now func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// ScorerOption customizes a Scorer, mainly for deterministic tests.
type ScorerOption func(*Scorer)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) ScorerOption {
	return func(s *Scorer) { s.now = now }
}

// WithRand replaces the jitter source.
func WithRand(rng *rand.Rand) ScorerOption {
	return func(s *Scorer) { s.rng = rng }
}

// NewScorer builds a scorer from the given weights and interval bounds.
// highValue is the price above which an item earns the high-value
// popularity bonus.
func NewScorer(w Weights, iv Intervals, highValue float64, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		weights:   w,
		intervals: iv,
		highValue: highValue,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the urgency score in [0,1] and the earliest time the
// task should be extracted again. It has no side effects beyond drawing
// one jitter sample.
func (s *Scorer) Score(attrs models.TaskAttrs) (float64, time.Time) {
	now := s.now()

	score := s.weights.Price*priceFactor(attrs.Price) +
		s.weights.Time*timeDecay(attrs.LastUpdate, now) +
		s.weights.Popularity*s.popularityFactor(attrs) +
		s.weights.Discount*discountFactor(attrs)

	score += s.jitter()
	score = clamp01(score)

	return score, s.nextEligible(score, attrs, now)
}

// priceFactor ramps logarithmically: a 100-unit item scores ~0.14, a
// 10000-unit item ~0.92. Free or unpriced items contribute nothing.
func priceFactor(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return math.Min(1, math.Log(1+price/100)/5)
}

// timeDecay ramps linearly from 0 to 1 over one week since the last
// extraction. A task never extracted is maximally stale.
func timeDecay(lastUpdate, now time.Time) float64 {
	if lastUpdate.IsZero() {
		return 1
	}
	hours := now.Sub(lastUpdate).Hours()
	if hours <= 0 {
		return 0
	}
	return math.Min(1, hours/(24*7))
}

func (s *Scorer) popularityFactor(attrs models.TaskAttrs) float64 {
	base := attrs.Popularity
	if base <= 0 {
		base = 0.5
	}
	if attrs.HasDiscount {
		base += 0.2
	}
	if attrs.Price > s.highValue {
		base += 0.3
	}
	return math.Min(1, base)
}

func discountFactor(attrs models.TaskAttrs) float64 {
	f := 0.5
	if attrs.HasCoupon() {
		f += 0.3
	}
	f += 0.2 * math.Min(1, attrs.DiscountPct/100)
	if attrs.PromoBadge {
		f += 0.2
	}
	return math.Min(1, f)
}

func (s *Scorer) jitter() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weights.Jitter * (2*s.rng.Float64() - 1)
}

// nextEligible derives the refresh interval from the score and anchors
// it at the last extraction: urgent tasks come back sooner, and a task
// whose interval already elapsed is due immediately. A never-extracted
// task is always due. Discounted items refresh at twice the rate,
// applied after the clamp so an active deal can undercut the minimum
// interval.
func (s *Scorer) nextEligible(score float64, attrs models.TaskAttrs, now time.Time) time.Time {
	if attrs.LastUpdate.IsZero() {
		return now
	}
	interval := time.Duration(float64(s.intervals.Base) * (1 - score))
	if interval < s.intervals.Min {
		interval = s.intervals.Min
	}
	if interval > s.intervals.Max {
		interval = s.intervals.Max
	}
	if attrs.HasDiscount {
		interval /= 2
	}
	return attrs.LastUpdate.Add(interval)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
