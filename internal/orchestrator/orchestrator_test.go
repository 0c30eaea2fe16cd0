package orchestrator

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealhound/crawler/internal/browser"
	"github.com/dealhound/crawler/internal/catalog"
	"github.com/dealhound/crawler/internal/cursor"
	"github.com/dealhound/crawler/internal/extract"
	"github.com/dealhound/crawler/internal/schedule"
	"github.com/dealhound/crawler/internal/stats"
	"github.com/dealhound/crawler/internal/worker"
	"github.com/dealhound/crawler/pkg/models"
)

func stubPool(size int) *browser.Pool {
	return browser.NewPool(size, func(id int) (*browser.Handle, error) {
		ctx, cancel := context.WithCancel(context.Background())
		return browser.NewHandle(id, ctx, cancel), nil
	})
}

// scriptedListing serves canned listing pages by cursor token.
type scriptedListing struct {
	mu      sync.Mutex
	pages   map[string]extract.ListingPage
	errs    map[string]error
	fetches []string
}

func (s *scriptedListing) FetchListing(_ context.Context, _ *browser.Handle, token string) (extract.ListingPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, token)
	if err := s.errs[token]; err != nil {
		return extract.ListingPage{}, err
	}
	return s.pages[token], nil
}

func (s *scriptedListing) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetches)
}

// pageExtractor answers every product page with the same fields, except
// ids listed in noOffer, whose pages render without any offer.
type pageExtractor struct {
	fields  models.FieldSet
	noOffer map[string]bool
}

func (e *pageExtractor) Extract(_ context.Context, taskID string, _ *browser.Handle) (models.FieldSet, bool, error) {
	if e.noOffer[taskID] {
		return models.FieldSet{}, true, nil
	}
	return e.fields, false, nil
}

type fixture struct {
	orch    *Orchestrator
	cat     *catalog.FileCatalog
	cursors *cursor.Store
	agg     *stats.Aggregator
}

func build(t *testing.T, listing *scriptedListing, ex *pageExtractor, mutate func(*Config)) fixture {
	t.Helper()
	dir := t.TempDir()

	cat, err := catalog.Open(filepath.Join(dir, "catalog.json"))
	require.NoError(t, err)

	cursors, err := cursor.NewStore(filepath.Join(dir, "cursors.json"), cursor.Options{
		Epsilon: -1, // exploit-only keeps selection deterministic
		Rand:    rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)

	agg := stats.New(nil)
	scorer := schedule.NewScorer(
		schedule.Weights{Price: 0.25, Time: 0.20, Popularity: 0.25, Discount: 0.20, Jitter: 0.10},
		schedule.Intervals{Base: 24 * time.Hour, Min: 4 * time.Hour, Max: 168 * time.Hour},
		100,
		schedule.WithRand(rand.New(rand.NewSource(1))),
	)
	queue := schedule.NewQueue(scorer, agg)

	pool := stubPool(2)
	t.Cleanup(pool.Close)

	workers := []*worker.Worker{
		worker.New(0, worker.Config{Pool: pool, Extractor: ex, Sink: cat, MaxRetries: -1, Seed: 1}),
		worker.New(1, worker.Config{Pool: pool, Extractor: ex, Sink: cat, MaxRetries: -1, Seed: 2}),
	}
	coord := worker.NewCoordinator(workers, queue, 0, time.Millisecond)

	cfg := Config{
		Cursors:     cursors,
		Queue:       queue,
		Source:      cat,
		Store:       cat,
		Discoverer:  listing,
		Pool:        pool,
		Coordinator: coord,
		Stats:       agg,
		BatchSize:   10,
		MaxLoad:     20,
		DiscoverMax: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	orch, err := New(cfg)
	require.NoError(t, err)
	return fixture{orch: orch, cat: cat, cursors: cursors, agg: agg}
}

func twoPageListing() *scriptedListing {
	return &scriptedListing{
		pages: map[string]extract.ListingPage{
			cursor.RootToken: {
				Items: []models.TaskAttrs{
					{ID: "a", GroupKey: "g", Price: 10, OriginalPrice: 20, HasDiscount: true},
					{ID: "a2", GroupKey: "g", Price: 10, OriginalPrice: 20, HasDiscount: true}, // variant dupe
					{ID: "b", Price: 30},                                                       // no offer, filtered out
					{ID: "c", Price: 15, CouponCode: "SAVE5"},
				},
				NextCursor: "p2",
			},
			"p2": {
				Items: []models.TaskAttrs{
					{ID: "d", Price: 50, DiscountPct: 20, HasDiscount: true},
				},
			},
		},
	}
}

func TestRunSingleCycle(t *testing.T) {
	listing := twoPageListing()
	ex := &pageExtractor{fields: models.FieldSet{
		extract.FieldPrice:         "9.99",
		extract.FieldOriginalPrice: "19.99",
	}}
	f := build(t, listing, ex, nil)

	snap, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	// a2 and b fall to dedup and the offer pre-filter; a, c, d remain.
	assert.Equal(t, 3, snap.Processed)
	assert.Equal(t, 3, snap.Success)
	assert.Equal(t, 0, snap.Failure)
	assert.Equal(t, 3, snap.FieldUpdates[extract.FieldPrice])
	assert.Equal(t, 3, f.cat.Len())

	// The second page's token was observed and fetched after the root.
	assert.Equal(t, []string{cursor.RootToken, "p2"}, listing.fetches)
	assert.GreaterOrEqual(t, f.cursors.Len(), 2)
}

func TestOfferlessProductsPruned(t *testing.T) {
	listing := twoPageListing()
	ex := &pageExtractor{
		fields:  models.FieldSet{extract.FieldPrice: "9.99"},
		noOffer: map[string]bool{"c": true},
	}
	f := build(t, listing, ex, nil)

	snap, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, snap.NoOffer)
	assert.Equal(t, 2, f.cat.Len(), "offerless product must be pruned")

	rows, err := f.cat.Query(context.Background(), schedule.Criteria{BatchSize: 10})
	require.NoError(t, err)
	for _, row := range rows {
		assert.NotEqual(t, "c", row.ID)
	}
}

func TestDiscoveryFailureDoesNotAbortCycle(t *testing.T) {
	listing := &scriptedListing{
		errs: map[string]error{
			cursor.RootToken: extract.NewError(extract.KindTimeout, "", extract.ErrTimeout),
		},
	}
	ex := &pageExtractor{fields: models.FieldSet{extract.FieldPrice: "5.00"}}
	f := build(t, listing, ex, func(cfg *Config) { cfg.DiscoverMax = 1 })

	// The catalog already knows one product from an earlier run.
	_, err := f.cat.Merge([]models.TaskAttrs{{ID: "x", Price: 40, HasDiscount: true}})
	require.NoError(t, err)

	snap, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Processed)
	assert.Equal(t, 1, snap.Success)
}

func TestParallelScanFetchesDistinctCursors(t *testing.T) {
	listing := twoPageListing()
	ex := &pageExtractor{fields: models.FieldSet{extract.FieldPrice: "9.99"}}
	f := build(t, listing, ex, func(cfg *Config) { cfg.ParallelScan = true })

	// A second cursor is already known from an earlier run, so both
	// parallel discoverers must get their own token up front.
	f.cursors.Observe("p2")

	snap, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{cursor.RootToken, "p2"}, listing.fetches)
	assert.Equal(t, 3, snap.Processed)
	assert.Equal(t, 3, f.cat.Len())
}

func TestMultipleCycles(t *testing.T) {
	listing := twoPageListing()
	ex := &pageExtractor{fields: models.FieldSet{extract.FieldPrice: "9.99"}}
	f := build(t, listing, ex, func(cfg *Config) {
		cfg.Cycles = 2
		cfg.ForceUpdate = true // second cycle would otherwise find nothing due
	})

	snap, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Processed)
}

func TestIncompleteWiringRejected(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
