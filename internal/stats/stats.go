// Package stats accumulates run counters across concurrent extraction
// workers and exposes immutable snapshots of them.
package stats

import "sync"

// Aggregator collects per-run counters. All methods are safe for
// concurrent use. Unlike the exported Prometheus counters, the failure
// column is not monotone: a retry pass that recovers a task moves it
// from failure to success.
type Aggregator struct {
	mu           sync.Mutex
	processed    int
	success      int
	failure      int
	retries      int
	noOffer      int
	fieldUpdates map[string]int

	metrics *Metrics // nil when metrics are disabled
}

// Snapshot is a point-in-time copy of the aggregator counters.
type Snapshot struct {
	Processed    int            `json:"processed"`
	Success      int            `json:"success"`
	Failure      int            `json:"failure"`
	Retries      int            `json:"retries"`
	NoOffer      int            `json:"no_offer"`
	FieldUpdates map[string]int `json:"field_updates"`
}

// New returns an empty aggregator. metrics may be nil.
func New(metrics *Metrics) *Aggregator {
	return &Aggregator{
		fieldUpdates: make(map[string]int),
		metrics:      metrics,
	}
}

// RecordResult accounts the outcome of a first-pass extraction attempt.
func (a *Aggregator) RecordResult(success bool, fieldsChanged []string, noOffer bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.processed++
	if success {
		a.success++
		for _, f := range fieldsChanged {
			a.fieldUpdates[f]++
		}
	} else {
		a.failure++
	}
	if noOffer {
		a.noOffer++
	}
	if a.metrics != nil {
		a.metrics.observeResult(success)
	}
}

// RecordRetryResult accounts a retry-pass attempt for a task already
// counted as failed. A recovered task moves from the failure column to
// the success column; processed does not change because the task was
// already counted on its first pass. firstRetry is set on a task's
// first retry attempt only, so the retries column counts tasks that
// needed retrying rather than attempts.
func (a *Aggregator) RecordRetryResult(success bool, fieldsChanged []string, firstRetry bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if firstRetry {
		a.retries++
	}
	if success {
		a.success++
		a.failure--
		for _, f := range fieldsChanged {
			a.fieldUpdates[f]++
		}
	}
	if a.metrics != nil {
		a.metrics.observeRetry(success)
	}
}

// Snapshot returns a copy of the current counters. The returned map is
// owned by the caller.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	fields := make(map[string]int, len(a.fieldUpdates))
	for k, v := range a.fieldUpdates {
		fields[k] = v
	}
	return Snapshot{
		Processed:    a.processed,
		Success:      a.success,
		Failure:      a.failure,
		Retries:      a.retries,
		NoOffer:      a.noOffer,
		FieldUpdates: fields,
	}
}
