package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dealhound/crawler/internal/stats"
	"github.com/dealhound/crawler/pkg/models"
)

// fakeSource answers every query angle from one fixed row set.
type fakeSource struct {
	rows []models.TaskAttrs
	err  error
}

func (f *fakeSource) Query(_ context.Context, c Criteria) ([]models.TaskAttrs, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := c.BatchSize
	if c.RandomSampleSize > 0 {
		n = c.RandomSampleSize
	}
	if n > len(f.rows) {
		n = len(f.rows)
	}
	return f.rows[:n], nil
}

func newTestQueue(now time.Time) *Queue {
	s := NewScorer(noJitter(testWeights), testIntervals, 100, WithClock(fixedClock(now)))
	return NewQueue(s, stats.New(nil))
}

func TestPopReadySkipsNotYetDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(now)

	src := &fakeSource{rows: []models.TaskAttrs{
		{ID: "A", Price: 0},                                                       // never updated: due now
		{ID: "B", Price: 50, HasDiscount: true, LastUpdate: now.AddDate(0, 0, -8)}, // stale past max interval
		{ID: "C", Price: 50, LastUpdate: now.Add(-1 * time.Hour)},                  // fresh, min interval 4h
	}}
	if err := q.Rebuild(context.Background(), src, 10); err != nil {
		t.Fatal(err)
	}

	batch := q.PopReady(2, false)
	if len(batch) != 2 {
		t.Fatalf("got %d tasks, want 2", len(batch))
	}
	got := map[string]bool{}
	for _, task := range batch {
		got[task.ID] = true
	}
	if !got["A"] || !got["B"] || got["C"] {
		t.Errorf("batch = %v, want exactly {A, B}", got)
	}
}

func TestForceUpdateIgnoresEligibility(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(now)

	src := &fakeSource{rows: []models.TaskAttrs{
		{ID: "C", Price: 50, LastUpdate: now.Add(-1 * time.Hour)},
	}}
	if err := q.Rebuild(context.Background(), src, 10); err != nil {
		t.Fatal(err)
	}

	if batch := q.PopReady(1, false); len(batch) != 0 {
		t.Fatalf("fresh task popped without force: %v", batch)
	}
	batch := q.PopReady(1, true)
	if len(batch) != 1 || batch[0].ID != "C" {
		t.Fatalf("force pop = %v, want C", batch)
	}
}

func TestIneligibleTasksSurviveTheScan(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(now)

	src := &fakeSource{rows: []models.TaskAttrs{
		{ID: "fresh", Price: 900, LastUpdate: now.Add(-1 * time.Minute)},
		{ID: "due", Price: 5},
	}}
	if err := q.Rebuild(context.Background(), src, 10); err != nil {
		t.Fatal(err)
	}

	q.PopReady(5, false)
	if q.Len() != 1 {
		t.Fatalf("queue len = %d after scan, want ineligible task retained", q.Len())
	}
	if batch := q.PopReady(1, true); len(batch) != 1 || batch[0].ID != "fresh" {
		t.Fatalf("retained task = %v, want fresh", batch)
	}
}

func TestPopStatuses(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(now)

	if _, status := q.Pop(false); status != Empty {
		t.Errorf("empty queue Pop status = %v, want Empty", status)
	}

	src := &fakeSource{rows: []models.TaskAttrs{
		{ID: "fresh", Price: 50, LastUpdate: now.Add(-1 * time.Minute)},
	}}
	if err := q.Rebuild(context.Background(), src, 10); err != nil {
		t.Fatal(err)
	}
	if _, status := q.Pop(false); status != NotYetDue {
		t.Errorf("fresh-only queue Pop status = %v, want NotYetDue", status)
	}
	if task, status := q.Pop(true); status != Ready || task.ID != "fresh" {
		t.Errorf("forced Pop = (%v, %v), want (fresh, Ready)", task.ID, status)
	}
}

func TestRebuildDeduplicatesAcrossAngles(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(now)

	// Every angle returns the same row; it must be loaded once.
	src := &fakeSource{rows: []models.TaskAttrs{{ID: "only", Price: 10, HasDiscount: true}}}
	if err := q.Rebuild(context.Background(), src, 8); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 1 {
		t.Errorf("queue len = %d, want 1", q.Len())
	}
}

func TestRebuildFailsWhenAllQueriesFail(t *testing.T) {
	q := newTestQueue(time.Now())
	src := &fakeSource{err: errors.New("connection refused")}
	if err := q.Rebuild(context.Background(), src, 10); err == nil {
		t.Error("expected error when every candidate query fails")
	}
}
