package models

import "time"

// Task is one unit of scheduling work, keyed by an opaque catalog id.
// Tasks are created during a schedule rebuild, mutated only by rescoring,
// and removed from the queue once dispatched; a later rebuild rediscovers
// them from the candidate source.
type Task struct {
	ID           string
	Priority     float64   // urgency score in [0,1]
	NextEligible time.Time // earliest time this task may be dispatched
	CreatedAt    time.Time
	LastUpdate   time.Time // zero value means never extracted
	Price        float64
	HasDiscount  bool
	Popularity   float64 // externally supplied hint in [0,1], 0 = unknown
}

// TaskAttrs is a raw candidate row as returned by a candidate source query,
// before deduplication and scoring.
type TaskAttrs struct {
	ID            string
	GroupKey      string // variant group; empty means ungrouped
	Price         float64
	OriginalPrice float64
	DiscountPct   float64
	CouponCode    string
	HasDiscount   bool
	PromoBadge    bool
	Popularity    float64
	LastUpdate    time.Time
	CreatedAt     time.Time
}

// HasCoupon reports whether the candidate carries a coupon.
func (a TaskAttrs) HasCoupon() bool { return a.CouponCode != "" }

// FieldSet holds the fields produced by one extraction, keyed by field name.
type FieldSet map[string]string

// Names returns the field names in a FieldSet. Order is unspecified.
func (f FieldSet) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	return names
}

// WorkResult is the outcome of one extraction attempt. It is produced once
// per attempt and consumed by the stats aggregator and the retry
// coordinator; it is never persisted.
type WorkResult struct {
	TaskID        string
	Success       bool
	FieldsChanged []string
	ErrorKind     string // empty on success
	NoOffer       bool   // page rendered but carried no offer at all
	Duration      time.Duration
}
