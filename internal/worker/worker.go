// Package worker runs extraction jobs against pooled browser sessions.
// Each worker pulls task ids from a shared channel, renders and parses
// the page with bounded per-attempt retries, writes the result to the
// product store, and paces itself between tasks so the pool as a whole
// stays under the upstream's radar.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dealhound/crawler/internal/browser"
	"github.com/dealhound/crawler/internal/extract"
	"github.com/dealhound/crawler/pkg/models"
)

// Extractor renders and parses one product page using a session the
// caller owns. The bool reports a rendered page with no offer on it.
type Extractor interface {
	Extract(ctx context.Context, taskID string, h *browser.Handle) (models.FieldSet, bool, error)
}

// Sink receives extracted fields. Upsert is idempotent by task id and
// returns the names of fields whose stored values actually changed.
type Sink interface {
	Upsert(ctx context.Context, taskID string, fields models.FieldSet) ([]string, error)
}

// Delays are the pacing ranges between tasks. A failure backs off on
// the longer range.
type Delays struct {
	Min     time.Duration
	Max     time.Duration
	FailMin time.Duration
	FailMax time.Duration
}

// ProcessedSet guards against two workers handling one task id inside
// the same pass.
type ProcessedSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewProcessedSet returns an empty set.
func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{seen: make(map[string]bool)}
}

// TryClaim marks id as taken and reports whether this caller won it.
func (p *ProcessedSet) TryClaim(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[id] {
		return false
	}
	p.seen[id] = true
	return true
}

// Worker executes tasks sequentially. Each worker owns its own RNG so
// pacing draws never contend.
type Worker struct {
	id            int
	pool          *browser.Pool
	extractor     Extractor
	sink          Sink
	delays        Delays
	maxRetries    int
	upsertRetries int

	rng *rand.Rand
	now func() time.Time
}

// Config assembles a worker.
type Config struct {
	Pool          *browser.Pool
	Extractor     Extractor
	Sink          Sink
	Delays        Delays
	MaxRetries    int
	UpsertRetries int
	Seed          int64
	Now           func() time.Time
}

// New builds one worker with the given id.
func New(id int, cfg Config) *Worker {
	// MaxRetries 0 takes the default; pass a negative value to disable
	// per-attempt retrying entirely.
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	} else if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.UpsertRetries <= 0 {
		cfg.UpsertRetries = 3
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano() + int64(id)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Worker{
		id:            id,
		pool:          cfg.Pool,
		extractor:     cfg.Extractor,
		sink:          cfg.Sink,
		delays:        cfg.Delays,
		maxRetries:    cfg.MaxRetries,
		upsertRetries: cfg.UpsertRetries,
		rng:           rand.New(rand.NewSource(cfg.Seed)),
		now:           cfg.Now,
	}
}

// Run drains tasks until the channel closes or ctx is cancelled. A task
// already claimed by another worker is skipped silently. The in-flight
// task always finishes; cancellation only stops new pulls and pacing.
func (w *Worker) Run(ctx context.Context, processed *ProcessedSet, tasks <-chan string, results chan<- models.WorkResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-tasks:
			if !ok {
				return
			}
			if !processed.TryClaim(id) {
				continue
			}
			res := w.process(ctx, id)
			results <- res

			if !w.pause(ctx, res.Success) {
				return
			}
		}
	}
}

// process runs one task end to end: acquire a session, extract with
// per-attempt retries, persist, release or discard.
func (w *Worker) process(ctx context.Context, taskID string) models.WorkResult {
	start := w.now()

	h, err := w.pool.Acquire(ctx)
	if err != nil {
		log.Warn().Err(err).Int("worker", w.id).Str("task_id", taskID).
			Msg("No browser session available")
		return models.WorkResult{
			TaskID:    taskID,
			ErrorKind: "resource_acquisition",
			Duration:  w.now().Sub(start),
		}
	}

	fields, noOffer, err := w.extractWithRetries(ctx, taskID, h)
	if err != nil && extract.IsFatalToSession(err) {
		w.pool.Discard(h)
	} else {
		w.pool.Release(h)
	}
	if err != nil {
		log.Debug().Err(err).Int("worker", w.id).Str("task_id", taskID).
			Msg("Extraction failed")
		return models.WorkResult{
			TaskID:    taskID,
			ErrorKind: string(extract.KindOf(err)),
			Duration:  w.now().Sub(start),
		}
	}

	changed, err := w.upsert(ctx, taskID, fields)
	if err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("Product store upsert failed")
		return models.WorkResult{
			TaskID:    taskID,
			ErrorKind: "persistence",
			NoOffer:   noOffer,
			Duration:  w.now().Sub(start),
		}
	}

	return models.WorkResult{
		TaskID:        taskID,
		Success:       true,
		FieldsChanged: changed,
		NoOffer:       noOffer,
		Duration:      w.now().Sub(start),
	}
}

// extractWithRetries retries transient failures up to maxRetries extra
// attempts, backing off on the failure range between attempts. A fatal
// error stops immediately; the caller discards the session.
func (w *Worker) extractWithRetries(ctx context.Context, taskID string, h *browser.Handle) (models.FieldSet, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			if !w.sleep(ctx, w.draw(w.delays.FailMin, w.delays.FailMax)) {
				return nil, false, lastErr
			}
		}
		fields, noOffer, err := w.extractor.Extract(ctx, taskID, h)
		if err == nil {
			return fields, noOffer, nil
		}
		lastErr = err
		if !extract.IsTransient(err) {
			return nil, false, err
		}
		log.Debug().Err(err).Str("task_id", taskID).Int("attempt", attempt+1).
			Msg("Transient extraction failure")
	}
	return nil, false, lastErr
}

// upsert writes with a bounded retry; store hiccups must not waste a
// successful extraction.
func (w *Worker) upsert(ctx context.Context, taskID string, fields models.FieldSet) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < w.upsertRetries; attempt++ {
		changed, err := w.sink.Upsert(ctx, taskID, fields)
		if err == nil {
			return changed, nil
		}
		lastErr = err
		if !w.sleep(ctx, time.Duration(attempt+1)*100*time.Millisecond) {
			break
		}
	}
	return nil, lastErr
}

// pause sleeps the post-task delay, on the failure range after a
// failure. Returns false when ctx ended the wait.
func (w *Worker) pause(ctx context.Context, success bool) bool {
	var d time.Duration
	if success {
		d = w.draw(w.delays.Min, w.delays.Max)
	} else {
		d = w.draw(w.delays.FailMin, w.delays.FailMax)
	}
	return w.sleep(ctx, d)
}

func (w *Worker) draw(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(w.rng.Int63n(int64(max-min)))
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
