package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dealhound/crawler/pkg/models"
)

// Recorder receives batch outcomes. First-pass results and retry-pass
// results are accounted differently: a retry success moves a task from
// the failure column to the success column instead of re-counting it.
type Recorder interface {
	RecordResult(r models.WorkResult)
	RecordRetryResult(r models.WorkResult, firstRetry bool)
}

// Coordinator drives one batch through the worker fleet: a first pass
// over every task id, then up to RetryCount extra passes over just the
// ids that failed, each preceded by a fixed delay.
type Coordinator struct {
	workers        []*Worker
	recorder       Recorder
	retryCount     int
	interPassDelay time.Duration
}

// NewCoordinator wires a fleet of workers to a result recorder.
func NewCoordinator(workers []*Worker, recorder Recorder, retryCount int, interPassDelay time.Duration) *Coordinator {
	if retryCount < 0 {
		retryCount = 0
	}
	if interPassDelay <= 0 {
		interPassDelay = 2 * time.Second
	}
	return &Coordinator{
		workers:        workers,
		recorder:       recorder,
		retryCount:     retryCount,
		interPassDelay: interPassDelay,
	}
}

// RunBatch processes ids to completion and returns every result emitted
// across all passes, first pass first. Cancelling ctx stops new work;
// in-flight tasks still finish and are recorded.
func (c *Coordinator) RunBatch(ctx context.Context, ids []string) []models.WorkResult {
	if len(ids) == 0 {
		return nil
	}

	var all []models.WorkResult

	results := c.runPass(ctx, ids)
	failed := make([]string, 0)
	for _, r := range results {
		c.recorder.RecordResult(r)
		if !r.Success {
			failed = append(failed, r.TaskID)
		}
	}
	all = append(all, results...)

	retried := make(map[string]bool, len(failed))
	for pass := 1; pass <= c.retryCount && len(failed) > 0; pass++ {
		if ctx.Err() != nil {
			break
		}
		log.Info().
			Int("pass", pass).
			Int("failed", len(failed)).
			Msg("Starting retry pass")
		if !sleepCtx(ctx, c.interPassDelay) {
			break
		}

		results = c.runPass(ctx, failed)
		next := failed[:0]
		for _, r := range results {
			c.recorder.RecordRetryResult(r, !retried[r.TaskID])
			retried[r.TaskID] = true
			if !r.Success {
				next = append(next, r.TaskID)
			}
		}
		all = append(all, results...)
		failed = next
	}

	if len(failed) > 0 {
		log.Warn().Int("failed", len(failed)).Msg("Tasks exhausted all retry passes")
	}
	return all
}

// runPass feeds ids to every worker and gathers their results. Each
// pass gets a fresh processed-set, so a retry pass may revisit ids from
// earlier passes but never races within itself.
func (c *Coordinator) runPass(ctx context.Context, ids []string) []models.WorkResult {
	tasks := make(chan string, len(ids))
	for _, id := range ids {
		tasks <- id
	}
	close(tasks)

	processed := NewProcessedSet()
	resultCh := make(chan models.WorkResult, len(ids))
	done := make(chan struct{})

	var results []models.WorkResult
	go func() {
		defer close(done)
		for r := range resultCh {
			results = append(results, r)
		}
	}()

	var wg sync.WaitGroup
	for _, w := range c.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx, processed, tasks, resultCh)
		}(w)
	}
	wg.Wait()
	close(resultCh)
	<-done

	return results
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
