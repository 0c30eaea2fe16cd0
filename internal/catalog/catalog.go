// Package catalog is the local product store: a JSON-file-backed
// implementation of the candidate source the scheduler queries and the
// sink the workers write into. It stands in for a relational backend in
// single-host deployments and keeps the whole pipeline runnable from
// one binary.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dealhound/crawler/internal/extract"
	"github.com/dealhound/crawler/internal/schedule"
	"github.com/dealhound/crawler/pkg/models"
)

// record is one stored product with its last extracted field values.
type record struct {
	Attrs  models.TaskAttrs `json:"attrs"`
	Fields models.FieldSet  `json:"fields,omitempty"`
}

type catalogFile struct {
	Version int      `json:"version"`
	Items   []record `json:"items"`
}

// FileCatalog stores products in a single JSON file, written atomically
// on every mutation. All methods are safe for concurrent use.
type FileCatalog struct {
	path string

	mu    sync.Mutex
	items map[string]*record
	rng   *rand.Rand
	now   func() time.Time
}

// Option customizes a FileCatalog, mainly for deterministic tests.
type Option func(*FileCatalog)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *FileCatalog) { c.now = now }
}

// WithRand replaces the sampling source.
func WithRand(rng *rand.Rand) Option {
	return func(c *FileCatalog) { c.rng = rng }
}

// Open loads the catalog at path; a missing file starts empty.
func Open(path string, opts ...Option) (*FileCatalog, error) {
	c := &FileCatalog{
		path:  path,
		items: make(map[string]*record),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for i := range file.Items {
		rec := file.Items[i]
		c.items[rec.Attrs.ID] = &rec
	}
	log.Debug().Str("path", path).Int("items", len(c.items)).Msg("Catalog loaded")
	return c, nil
}

// Len returns the number of stored products.
func (c *FileCatalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Query implements the scheduler's candidate source. Exactly one angle
// applies per call: random sampling, discount-only, price floor, or
// staleness (never-updated rows first, then oldest).
func (c *FileCatalog) Query(ctx context.Context, crit schedule.Criteria) ([]models.TaskAttrs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if crit.RandomSampleSize > 0 {
		return c.sampleLocked(crit.RandomSampleSize), nil
	}

	var rows []models.TaskAttrs
	for _, rec := range c.items {
		attrs := rec.Attrs
		switch {
		case crit.HasDiscountOnly && !attrs.HasDiscount:
			continue
		case crit.MinPrice > 0 && attrs.Price < crit.MinPrice:
			continue
		case !crit.StaleSince.IsZero() && !attrs.LastUpdate.IsZero() && attrs.LastUpdate.After(crit.StaleSince):
			continue
		}
		rows = append(rows, attrs)
	}

	switch {
	case crit.MinPrice > 0:
		sort.Slice(rows, func(i, j int) bool { return rows[i].Price > rows[j].Price })
	case !crit.StaleSince.IsZero():
		sort.Slice(rows, func(i, j int) bool {
			a, b := rows[i].LastUpdate, rows[j].LastUpdate
			if a.IsZero() != b.IsZero() {
				return a.IsZero()
			}
			return a.Before(b)
		})
	default:
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	}

	if crit.BatchSize > 0 && len(rows) > crit.BatchSize {
		rows = rows[:crit.BatchSize]
	}
	return rows, nil
}

func (c *FileCatalog) sampleLocked(n int) []models.TaskAttrs {
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	c.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if n > len(ids) {
		n = len(ids)
	}
	rows := make([]models.TaskAttrs, 0, n)
	for _, id := range ids[:n] {
		rows = append(rows, c.items[id].Attrs)
	}
	return rows
}

// Merge folds discovered candidates into the catalog. Known products
// get their listing-visible attributes refreshed; extraction history is
// kept. The number of previously unknown products is returned.
func (c *FileCatalog) Merge(items []models.TaskAttrs) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := 0
	now := c.now()
	for _, attrs := range items {
		if rec, ok := c.items[attrs.ID]; ok {
			attrs.LastUpdate = rec.Attrs.LastUpdate
			attrs.CreatedAt = rec.Attrs.CreatedAt
			if attrs.Popularity == 0 {
				attrs.Popularity = rec.Attrs.Popularity
			}
			rec.Attrs = attrs
			continue
		}
		attrs.CreatedAt = now
		c.items[attrs.ID] = &record{Attrs: attrs}
		fresh++
	}
	return fresh, c.saveLocked()
}

// Upsert implements the workers' sink: it stores the extracted fields,
// mirrors them into the scheduling attributes, and reports which field
// values actually changed. Writing the same fields twice is a no-op.
func (c *FileCatalog) Upsert(_ context.Context, taskID string, fields models.FieldSet) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.items[taskID]
	if !ok {
		rec = &record{Attrs: models.TaskAttrs{ID: taskID, CreatedAt: c.now()}}
		c.items[taskID] = rec
	}

	var changed []string
	for name, value := range fields {
		if rec.Fields[name] != value {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)

	rec.Fields = fields
	c.applyFieldsLocked(rec)
	rec.Attrs.LastUpdate = c.now()

	return changed, c.saveLocked()
}

// Delete removes products by id, typically ones whose pages no longer
// carry any offer.
func (c *FileCatalog) Delete(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := c.items[id]; ok {
			delete(c.items, id)
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	log.Info().Int("removed", removed).Msg("Pruned offerless products")
	return c.saveLocked()
}

// applyFieldsLocked mirrors extracted field values into the attributes
// the scheduler scores on.
func (c *FileCatalog) applyFieldsLocked(rec *record) {
	attrs := &rec.Attrs
	if v, ok := rec.Fields[extract.FieldPrice]; ok {
		if price, err := strconv.ParseFloat(v, 64); err == nil {
			attrs.Price = price
		}
	}
	if v, ok := rec.Fields[extract.FieldOriginalPrice]; ok {
		if price, err := strconv.ParseFloat(v, 64); err == nil {
			attrs.OriginalPrice = price
		}
	}
	if v, ok := rec.Fields[extract.FieldDiscountPct]; ok {
		if pct, err := strconv.ParseFloat(v, 64); err == nil {
			attrs.DiscountPct = pct
		}
	}
	attrs.CouponCode = rec.Fields[extract.FieldCouponCode]
	attrs.PromoBadge = rec.Fields[extract.FieldPromoBadge] == "true"
	attrs.HasDiscount = attrs.DiscountPct > 0 ||
		(attrs.OriginalPrice > 0 && attrs.Price > 0 && attrs.Price < attrs.OriginalPrice)
}

// saveLocked writes the catalog atomically, same temp-then-rename
// dance as the cursor snapshot.
func (c *FileCatalog) saveLocked() error {
	file := catalogFile{Version: 1, Items: make([]record, 0, len(c.items))}
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		file.Items = append(file.Items, *c.items[id])
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp catalog: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}
