package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dealhound/crawler/internal/browser"
	"github.com/dealhound/crawler/internal/extract"
	"github.com/dealhound/crawler/pkg/models"
)

func stubPool(size int) *browser.Pool {
	return browser.NewPool(size, func(id int) (*browser.Handle, error) {
		ctx, cancel := context.WithCancel(context.Background())
		return browser.NewHandle(id, ctx, cancel), nil
	})
}

// scriptedExtractor fails a task id a fixed number of times before
// succeeding.
type scriptedExtractor struct {
	mu       sync.Mutex
	failures map[string]int
	errKind  extract.Kind
	calls    map[string]int
}

func newScriptedExtractor(errKind extract.Kind, failures map[string]int) *scriptedExtractor {
	return &scriptedExtractor{
		failures: failures,
		errKind:  errKind,
		calls:    make(map[string]int),
	}
}

func (s *scriptedExtractor) Extract(_ context.Context, taskID string, _ *browser.Handle) (models.FieldSet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[taskID]++
	if s.calls[taskID] <= s.failures[taskID] {
		return nil, false, extract.NewError(s.errKind, taskID, errors.New("scripted failure"))
	}
	return models.FieldSet{extract.FieldPrice: "9.99"}, false, nil
}

func (s *scriptedExtractor) callCount(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[taskID]
}

// mapSink stores fields in memory and reports changed field names.
type mapSink struct {
	mu    sync.Mutex
	rows  map[string]models.FieldSet
	fails int
}

func newMapSink() *mapSink { return &mapSink{rows: make(map[string]models.FieldSet)} }

func (m *mapSink) Upsert(_ context.Context, taskID string, fields models.FieldSet) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails > 0 {
		m.fails--
		return nil, errors.New("store unavailable")
	}
	prev := m.rows[taskID]
	var changed []string
	for name, value := range fields {
		if prev[name] != value {
			changed = append(changed, name)
		}
	}
	m.rows[taskID] = fields
	return changed, nil
}

func testConfig(pool *browser.Pool, ex Extractor, sink Sink) Config {
	return Config{
		Pool:      pool,
		Extractor: ex,
		Sink:      sink,
		// Zero pacing keeps the tests fast.
		Delays:     Delays{},
		MaxRetries: 3,
		Seed:       1,
	}
}

func runOne(t *testing.T, w *Worker, taskID string) models.WorkResult {
	t.Helper()
	tasks := make(chan string, 1)
	tasks <- taskID
	close(tasks)
	results := make(chan models.WorkResult, 1)
	w.Run(context.Background(), NewProcessedSet(), tasks, results)
	close(results)
	res, ok := <-results
	if !ok {
		t.Fatal("worker emitted no result")
	}
	return res
}

func TestWorkerSuccessReportsChangedFields(t *testing.T) {
	pool := stubPool(1)
	defer pool.Close()
	ex := newScriptedExtractor(extract.KindTimeout, nil)
	sink := newMapSink()

	w := New(1, testConfig(pool, ex, sink))
	res := runOne(t, w, "p1")

	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	if len(res.FieldsChanged) != 1 || res.FieldsChanged[0] != extract.FieldPrice {
		t.Errorf("fields changed = %v, want [price]", res.FieldsChanged)
	}
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	pool := stubPool(1)
	defer pool.Close()
	ex := newScriptedExtractor(extract.KindTimeout, map[string]int{"p1": 2})
	sink := newMapSink()

	w := New(1, testConfig(pool, ex, sink))
	res := runOne(t, w, "p1")

	if !res.Success {
		t.Fatalf("result = %+v, want success after retries", res)
	}
	if got := ex.callCount("p1"); got != 3 {
		t.Errorf("extract calls = %d, want 3", got)
	}
}

func TestWorkerGivesUpAfterMaxRetries(t *testing.T) {
	pool := stubPool(1)
	defer pool.Close()
	ex := newScriptedExtractor(extract.KindTimeout, map[string]int{"p1": 99})
	sink := newMapSink()

	w := New(1, testConfig(pool, ex, sink))
	res := runOne(t, w, "p1")

	if res.Success {
		t.Fatal("result should fail once retries are exhausted")
	}
	if res.ErrorKind != string(extract.KindTimeout) {
		t.Errorf("error kind = %q, want timeout", res.ErrorKind)
	}
	if got := ex.callCount("p1"); got != 4 { // initial attempt + 3 retries
		t.Errorf("extract calls = %d, want 4", got)
	}
}

func TestWorkerFatalErrorSkipsRetries(t *testing.T) {
	pool := stubPool(1)
	defer pool.Close()
	ex := newScriptedExtractor(extract.KindUnknown, map[string]int{"p1": 99})
	sink := newMapSink()

	w := New(1, testConfig(pool, ex, sink))
	res := runOne(t, w, "p1")

	if res.Success {
		t.Fatal("fatal error must not produce success")
	}
	if got := ex.callCount("p1"); got != 1 {
		t.Errorf("extract calls = %d, want 1 (no retries on fatal)", got)
	}
	// The discarded session was replaced, so the pool still serves.
	if _, err := pool.Acquire(context.Background()); err != nil {
		t.Errorf("pool unusable after discard: %v", err)
	}
}

func TestWorkerRetriesUpsert(t *testing.T) {
	pool := stubPool(1)
	defer pool.Close()
	ex := newScriptedExtractor(extract.KindTimeout, nil)
	sink := newMapSink()
	sink.fails = 2

	w := New(1, testConfig(pool, ex, sink))
	res := runOne(t, w, "p1")

	if !res.Success {
		t.Fatalf("result = %+v, want success after store retries", res)
	}
}

func TestWorkerPersistentUpsertFailure(t *testing.T) {
	pool := stubPool(1)
	defer pool.Close()
	ex := newScriptedExtractor(extract.KindTimeout, nil)
	sink := newMapSink()
	sink.fails = 99

	w := New(1, testConfig(pool, ex, sink))
	res := runOne(t, w, "p1")

	if res.Success || res.ErrorKind != "persistence" {
		t.Errorf("result = %+v, want persistence failure", res)
	}
}

func TestProcessedSetPreventsDoubleWork(t *testing.T) {
	set := NewProcessedSet()
	if !set.TryClaim("x") {
		t.Fatal("first claim must win")
	}
	if set.TryClaim("x") {
		t.Error("second claim must lose")
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	pool := stubPool(1)
	defer pool.Close()
	ex := newScriptedExtractor(extract.KindTimeout, nil)
	sink := newMapSink()

	w := New(1, testConfig(pool, ex, sink))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := make(chan string) // never closed: only cancellation can stop the worker
	done := make(chan struct{})
	go func() {
		w.Run(ctx, NewProcessedSet(), tasks, make(chan models.WorkResult, 1))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}
