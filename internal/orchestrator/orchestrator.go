// Package orchestrator drives full crawl cycles: discover candidates
// through the cursor store, rebuild the schedule, and push the due batch
// through the worker fleet.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dealhound/crawler/internal/browser"
	"github.com/dealhound/crawler/internal/cursor"
	"github.com/dealhound/crawler/internal/dedup"
	"github.com/dealhound/crawler/internal/extract"
	"github.com/dealhound/crawler/internal/schedule"
	"github.com/dealhound/crawler/internal/stats"
	"github.com/dealhound/crawler/internal/worker"
	"github.com/dealhound/crawler/pkg/models"
)

// Discoverer fetches one page of the paginated listing.
type Discoverer interface {
	FetchListing(ctx context.Context, h *browser.Handle, cursorToken string) (extract.ListingPage, error)
}

// ProductStore is the catalog side the orchestrator writes to: merging
// discovered candidates in and pruning products whose pages carry no
// offer anymore.
type ProductStore interface {
	Merge(items []models.TaskAttrs) (int, error)
	Delete(ctx context.Context, ids []string) error
}

// Config assembles an orchestrator. Metrics may be nil.
type Config struct {
	Cursors     *cursor.Store
	Queue       *schedule.Queue
	Source      schedule.CandidateSource
	Store       ProductStore
	Discoverer  Discoverer
	Pool        *browser.Pool
	Coordinator *worker.Coordinator
	Stats       *stats.Aggregator
	Metrics     *stats.Metrics

	BatchSize    int
	MaxLoad      int
	DiscoverMax  int
	Cycles       int
	ForceUpdate  bool
	ParallelScan bool
}

// Orchestrator owns the crawl loop. It is built once per run.
type Orchestrator struct {
	cfg Config
}

// New validates the wiring and returns an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Cursors == nil, cfg.Queue == nil, cfg.Source == nil,
		cfg.Store == nil, cfg.Discoverer == nil, cfg.Pool == nil,
		cfg.Coordinator == nil, cfg.Stats == nil:
		return nil, fmt.Errorf("orchestrator: incomplete wiring")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxLoad <= 0 {
		cfg.MaxLoad = 200
	}
	if cfg.Cycles <= 0 {
		cfg.Cycles = 1
	}
	return &Orchestrator{cfg: cfg}, nil
}

// Run executes the configured number of cycles and returns the final
// counters. Cursor state is flushed on the way out even when a cycle
// fails, so a cancelled run resumes where it left off.
func (o *Orchestrator) Run(ctx context.Context) (stats.Snapshot, error) {
	defer func() {
		if err := o.cfg.Cursors.Flush(); err != nil {
			log.Warn().Err(err).Msg("Final cursor flush failed")
		}
	}()

	for cycle := 1; cycle <= o.cfg.Cycles; cycle++ {
		if ctx.Err() != nil {
			break
		}
		log.Info().Int("cycle", cycle).Int("of", o.cfg.Cycles).Msg("Starting crawl cycle")
		if err := o.runCycle(ctx); err != nil {
			return o.cfg.Stats.Snapshot(), fmt.Errorf("cycle %d: %w", cycle, err)
		}
	}
	return o.cfg.Stats.Snapshot(), nil
}

func (o *Orchestrator) runCycle(ctx context.Context) error {
	o.discover(ctx)

	if err := o.cfg.Queue.Rebuild(ctx, o.cfg.Source, o.cfg.MaxLoad); err != nil {
		return err
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SetScheduleDepth(o.cfg.Queue.Len())
	}

	batch := o.cfg.Queue.PopReady(o.cfg.BatchSize, o.cfg.ForceUpdate)
	if len(batch) == 0 {
		log.Info().Msg("No tasks due this cycle")
		return nil
	}
	ids := make([]string, len(batch))
	for i, task := range batch {
		ids[i] = task.ID
	}
	log.Info().Int("batch", len(ids)).Msg("Dispatching extraction batch")

	results := o.cfg.Coordinator.RunBatch(ctx, ids)

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SetScheduleDepth(o.cfg.Queue.Len())
		o.cfg.Metrics.SetPoolInUse(o.cfg.Pool.InUse())
		for _, r := range results {
			o.cfg.Metrics.ObserveExtractDuration(r.Duration.Seconds())
		}
	}
	return o.pruneOfferless(ctx, results)
}

// pruneOfferless deletes products whose pages rendered fine but carried
// no offer at all. Failed tasks are kept; the next rebuild retries them.
func (o *Orchestrator) pruneOfferless(ctx context.Context, results []models.WorkResult) error {
	seen := make(map[string]bool)
	var gone []string
	for _, r := range results {
		if r.Success && r.NoOffer && !seen[r.TaskID] {
			seen[r.TaskID] = true
			gone = append(gone, r.TaskID)
		}
	}
	if len(gone) == 0 {
		return nil
	}
	return o.cfg.Store.Delete(ctx, gone)
}

// discover walks up to DiscoverMax listing cursors and folds what they
// surface into the catalog. Discovery failures never fail the cycle;
// the schedule rebuild still runs on whatever the catalog already holds.
func (o *Orchestrator) discover(ctx context.Context) {
	if o.cfg.DiscoverMax <= 0 {
		return
	}
	if o.cfg.ParallelScan {
		o.discoverParallel(ctx)
		return
	}

	h, err := o.cfg.Pool.Acquire(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("No browser session for discovery")
		return
	}
	for i := 0; i < o.cfg.DiscoverMax && ctx.Err() == nil; i++ {
		token := o.cfg.Cursors.SelectNext()
		if o.fetchCursor(ctx, h, token) {
			continue
		}
		o.cfg.Pool.Discard(h)
		if h, err = o.cfg.Pool.Acquire(ctx); err != nil {
			log.Warn().Err(err).Msg("Could not replace discovery session")
			return
		}
	}
	o.cfg.Pool.Release(h)
}

// discoverParallel fetches DiscoverMax cursors concurrently, one session
// each. The cursor store and the catalog serialize merges internally, so
// the goroutines never interleave partial updates.
func (o *Orchestrator) discoverParallel(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.DiscoverMax; i++ {
		token := o.cfg.Cursors.SelectNext()
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			h, err := o.cfg.Pool.Acquire(ctx)
			if err != nil {
				// Give the unfetched cursor back to the rotation.
				o.cfg.Cursors.Update(token, nil, 0)
				log.Warn().Err(err).Str("cursor", token).Msg("No browser session for discovery")
				return
			}
			if o.fetchCursor(ctx, h, token) {
				o.cfg.Pool.Release(h)
			} else {
				o.cfg.Pool.Discard(h)
			}
		}(token)
	}
	wg.Wait()
}

// fetchCursor fetches one listing page and records the outcome on the
// cursor. It reports whether the session is still usable.
func (o *Orchestrator) fetchCursor(ctx context.Context, h *browser.Handle, token string) bool {
	page, err := o.cfg.Discoverer.FetchListing(ctx, h, token)
	if err != nil {
		o.cfg.Cursors.Update(token, nil, 0)
		log.Warn().Err(err).Str("cursor", token).Msg("Listing fetch failed")
		return !extract.IsFatalToSession(err)
	}

	kept := dedup.Filter(page.Items)
	fresh := 0
	if len(kept) > 0 {
		var err error
		if fresh, err = o.cfg.Store.Merge(kept); err != nil {
			log.Warn().Err(err).Str("cursor", token).Msg("Catalog merge failed")
		}
	}

	ids := make([]string, len(kept))
	for i, item := range kept {
		ids[i] = item.ID
	}
	o.cfg.Cursors.Update(token, ids, len(kept))
	if page.NextCursor != "" {
		o.cfg.Cursors.Observe(page.NextCursor)
	}

	log.Debug().
		Str("cursor", token).
		Int("listed", len(page.Items)).
		Int("kept", len(kept)).
		Int("fresh", fresh).
		Str("next", page.NextCursor).
		Msg("Listing page scanned")
	return true
}
