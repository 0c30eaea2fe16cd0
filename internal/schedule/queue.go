package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dealhound/crawler/internal/pqueue"
	"github.com/dealhound/crawler/internal/stats"
	"github.com/dealhound/crawler/pkg/models"
)

// Criteria narrows a candidate source query. Zero values mean "no
// constraint"; RandomSampleSize switches the query to uniform sampling.
type Criteria struct {
	BatchSize        int
	StaleSince       time.Time
	MinPrice         float64
	RandomSampleSize int
	HasDiscountOnly  bool
}

// CandidateSource supplies raw candidates for scheduling. Implementations
// order "stale" queries oldest-first with never-updated rows leading.
type CandidateSource interface {
	Query(ctx context.Context, c Criteria) ([]models.TaskAttrs, error)
}

// PopStatus is the outcome of a single Pop call.
type PopStatus int

const (
	// Ready means a task was returned and is due now.
	Ready PopStatus = iota
	// Empty means the queue holds no tasks at all.
	Empty
	// NotYetDue means tasks exist but none is eligible yet.
	NotYetDue
)

// Queue holds the current cycle's scored tasks, ordered by priority.
// All methods are safe for concurrent use.
type Queue struct {
	scorer *Scorer
	agg    *stats.Aggregator

	now func() time.Time

	mu    sync.Mutex
	heap  *pqueue.Indexed[string]
	tasks map[string]models.Task
}

// NewQueue builds an empty schedule queue around the given scorer.
func NewQueue(scorer *Scorer, agg *stats.Aggregator) *Queue {
	return &Queue{
		scorer: scorer,
		agg:    agg,
		now:    scorer.now,
		heap:   pqueue.New[string](),
		tasks:  make(map[string]models.Task),
	}
}

// Len returns the number of tasks currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Rebuild replaces the queue contents with a fresh batch of up to maxLoad
// candidates. Four query angles are merged: active discounts, high-price
// items, stalest items, and a uniform random sample; a failed angle is
// logged and skipped. The merged set is deduplicated by id, padded with
// random candidates when short, then scored and loaded. Offer-level
// deduplication happens upstream, on the discovery path.
func (q *Queue) Rebuild(ctx context.Context, src CandidateSource, maxLoad int) error {
	quarter := (maxLoad + 3) / 4

	angles := []struct {
		name string
		crit Criteria
	}{
		{"discount", Criteria{BatchSize: quarter, HasDiscountOnly: true}},
		{"high_price", Criteria{BatchSize: quarter, MinPrice: q.scorer.highValue}},
		{"stale", Criteria{BatchSize: quarter, StaleSince: q.now().Add(-24 * time.Hour)}},
		{"random", Criteria{RandomSampleSize: quarter}},
	}

	seen := make(map[string]bool, maxLoad)
	var merged []models.TaskAttrs
	failed := 0

	for _, a := range angles {
		rows, err := src.Query(ctx, a.crit)
		if err != nil {
			failed++
			log.Warn().Err(err).Str("angle", a.name).Msg("Candidate query failed")
			continue
		}
		for _, row := range rows {
			if !seen[row.ID] {
				seen[row.ID] = true
				merged = append(merged, row)
			}
		}
	}
	if failed == len(angles) {
		return fmt.Errorf("rebuild: all candidate queries failed")
	}

	if len(merged) < maxLoad {
		rows, err := src.Query(ctx, Criteria{RandomSampleSize: maxLoad - len(merged)})
		if err != nil {
			log.Warn().Err(err).Msg("Random padding query failed")
		}
		for _, row := range rows {
			if !seen[row.ID] {
				seen[row.ID] = true
				merged = append(merged, row)
			}
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.heap = pqueue.New[string]()
	q.tasks = make(map[string]models.Task, len(merged))
	now := q.now()

	for _, attrs := range merged {
		score, next := q.scorer.Score(attrs)
		q.tasks[attrs.ID] = models.Task{
			ID:           attrs.ID,
			Priority:     score,
			NextEligible: next,
			CreatedAt:    attrs.CreatedAt,
			LastUpdate:   attrs.LastUpdate,
			Price:        attrs.Price,
			HasDiscount:  attrs.HasDiscount,
			Popularity:   attrs.Popularity,
		}
		q.heap.Push(attrs.ID, score)
	}

	log.Info().
		Int("loaded", q.heap.Len()).
		Int("max_load", maxLoad).
		Time("at", now).
		Msg("Schedule rebuilt")
	return nil
}

// Pop removes and returns the highest-priority eligible task. Ineligible
// tasks inspected along the way are pushed back unchanged. When force is
// set the eligibility window is ignored.
func (q *Queue) Pop(force bool) (models.Task, PopStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked(force)
}

func (q *Queue) popLocked(force bool) (models.Task, PopStatus) {
	if q.heap.Len() == 0 {
		return models.Task{}, Empty
	}
	now := q.now()

	type held struct {
		id    string
		score float64
	}
	var skipped []held

	defer func() {
		for _, h := range skipped {
			q.heap.Push(h.id, h.score)
		}
	}()

	for {
		id, score, ok := q.heap.PopMax()
		if !ok {
			return models.Task{}, NotYetDue
		}
		task := q.tasks[id]
		if force || !task.NextEligible.After(now) {
			delete(q.tasks, id)
			return task, Ready
		}
		skipped = append(skipped, held{id: id, score: score})
	}
}

// PopReady drains up to batchSize eligible tasks in priority order.
func (q *Queue) PopReady(batchSize int, force bool) []models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var batch []models.Task
	for len(batch) < batchSize {
		task, status := q.popLocked(force)
		if status != Ready {
			break
		}
		batch = append(batch, task)
	}
	return batch
}

// RecordResult forwards an extraction outcome to the stats aggregator.
// It does not reschedule the task; the next Rebuild is authoritative.
func (q *Queue) RecordResult(r models.WorkResult) {
	q.agg.RecordResult(r.Success, r.FieldsChanged, r.NoOffer)
}

// RecordRetryResult forwards a retry-pass outcome for a task already
// counted as failed. firstRetry marks the task's first retry attempt.
func (q *Queue) RecordRetryResult(r models.WorkResult, firstRetry bool) {
	q.agg.RecordRetryResult(r.Success, r.FieldsChanged, firstRetry)
}
