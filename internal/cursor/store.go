// Package cursor schedules opaque pagination tokens. The upstream
// listing is only reachable through page cursors; the store remembers
// every cursor it has seen, scores how productive each one has been,
// and picks the next one to refetch with an epsilon-greedy policy. State
// survives restarts through a versioned JSON snapshot.
package cursor

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dealhound/crawler/internal/pqueue"
)

// RootToken is the empty cursor: fetching it restarts the listing from
// page one.
const RootToken = ""

// Cursor is the tracked state of one pagination token.
type Cursor struct {
	Token        string
	LastUsed     time.Time
	SuccessCount int
	ScanCount    int
	SuccessRate  float64

	discoveredIDs map[string]struct{}
}

// DiscoveredIDs returns a copy of the ids this cursor has surfaced.
func (c *Cursor) DiscoveredIDs() []string {
	ids := make([]string, 0, len(c.discoveredIDs))
	for id := range c.discoveredIDs {
		ids = append(ids, id)
	}
	return ids
}

// Options tune the selection policy. Zero values fall back to defaults.
type Options struct {
	// Epsilon is the exploration probability in SelectNext.
	Epsilon float64
	// SkipRecent excludes that many most-recently-used cursors from the
	// random exploration branch.
	SkipRecent int
	// FullScanEvery forces a restart from the root cursor when that much
	// time has passed since the last full scan.
	FullScanEvery time.Duration
	// SnapshotRetries bounds how often a failed snapshot write is
	// reattempted before the in-memory state is kept for the next flush.
	SnapshotRetries int

	Now  func() time.Time
	Rand *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.Epsilon == 0 {
		o.Epsilon = 0.2
	}
	if o.SkipRecent == 0 {
		o.SkipRecent = 3
	}
	if o.FullScanEvery == 0 {
		o.FullScanEvery = 30 * 24 * time.Hour
	}
	if o.SnapshotRetries == 0 {
		o.SnapshotRetries = 3
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// Store owns all cursor state. All methods are safe for concurrent use;
// mutation is serialized through one lock, so parallel fetchers merging
// results back never interleave partial updates.
type Store struct {
	path string
	opts Options

	mu           sync.Mutex
	cursors      map[string]*Cursor
	heap         *pqueue.Indexed[string]
	lastFullScan time.Time
	recentTokens []string // most recent last
}

// NewStore loads the snapshot at path, or cold-starts with only the
// root cursor when no snapshot exists.
func NewStore(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	file, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:    path,
		opts:    opts,
		cursors: make(map[string]*Cursor),
		heap:    pqueue.New[string](),
	}
	if file.LastFullScan != nil {
		s.lastFullScan = *file.LastFullScan
	}
	now := opts.Now()
	for _, rec := range file.Cursors {
		c := &Cursor{
			Token:         rec.Token,
			LastUsed:      rec.LastUsed,
			SuccessCount:  rec.SuccessCount,
			ScanCount:     rec.ScanCount,
			SuccessRate:   rec.SuccessRate,
			discoveredIDs: make(map[string]struct{}, len(rec.DiscoveredIDs)),
		}
		for _, id := range rec.DiscoveredIDs {
			c.discoveredIDs[id] = struct{}{}
		}
		s.cursors[c.Token] = c
		s.heap.Push(c.Token, s.score(c, now))
	}
	s.ensureRootLocked(now)

	log.Debug().
		Str("path", path).
		Int("cursors", len(s.cursors)).
		Msg("Cursor store loaded")
	return s, nil
}

// Len returns the number of tracked cursors.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cursors)
}

// LastFullScan returns when the listing was last walked from page one.
func (s *Store) LastFullScan() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFullScan
}

// score rewards cursors that have rested long, succeed often, and keep
// discovering new ids.
func (s *Store) score(c *Cursor, now time.Time) float64 {
	var timeFactor float64
	if !c.LastUsed.IsZero() {
		timeFactor = math.Min(10, now.Sub(c.LastUsed).Hours()/24)
	} else {
		timeFactor = 10
	}
	var yield float64
	if c.ScanCount > 0 {
		yield = math.Min(5, float64(len(c.discoveredIDs))/float64(c.ScanCount))
	}
	return 0.5*timeFactor + 0.3*(c.SuccessRate*2) + 0.2*yield
}

// ttl returns the jittered refetch interval: productive cursors come
// back sooner.
func (s *Store) ttl(c *Cursor) time.Duration {
	jitter := 0.8 + 0.4*s.opts.Rand.Float64()
	return time.Duration(float64(24*time.Hour) * ttlMultiplier(c.SuccessRate) * jitter)
}

func ttlMultiplier(successRate float64) float64 {
	switch {
	case successRate > 0.8:
		return 0.5
	case successRate > 0.5:
		return 1
	case successRate > 0.2:
		return 2
	default:
		return 4
	}
}

func (s *Store) expired(c *Cursor, now time.Time) bool {
	if c.LastUsed.IsZero() {
		return true
	}
	return now.Sub(c.LastUsed) > s.ttl(c)
}

// SelectNext picks the cursor to fetch next. A due full scan always wins
// and restarts from the root cursor; otherwise the store explores a
// random non-recent cursor with probability Epsilon, or exploits the
// highest-scored expired cursor. Non-expired cursors inspected on the
// way are re-queued at a decayed score. The selected cursor leaves the
// heap until its next Update re-queues it, so concurrent callers never
// get handed the same token while a fetch is in flight.
func (s *Store) SelectNext() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()

	if s.fullScanExpiredLocked(now) {
		s.lastFullScan = now
		log.Info().Msg("Full scan due, restarting from root cursor")
		return s.markUsedLocked(RootToken)
	}

	if s.opts.Rand.Float64() < s.opts.Epsilon {
		if token, ok := s.randomCursorLocked(); ok {
			return s.markUsedLocked(token)
		}
	}

	// Exploit: walk the heap best-first, at most one look per cursor.
	budget := s.heap.Len()
	for i := 0; i < budget; i++ {
		token, score, ok := s.heap.PopMax()
		if !ok {
			break
		}
		c := s.cursors[token]
		if s.expired(c, now) {
			return s.markUsedLocked(token)
		}
		s.heap.Push(token, score*0.8)
	}
	return s.markUsedLocked(RootToken)
}

func (s *Store) fullScanExpiredLocked(now time.Time) bool {
	if s.lastFullScan.IsZero() {
		return true
	}
	return now.Sub(s.lastFullScan) > s.opts.FullScanEvery
}

// randomCursorLocked picks a uniform-random cursor excluding the
// SkipRecent most recently used tokens. Only queued cursors qualify;
// tokens handed out and not yet updated are off the table.
func (s *Store) randomCursorLocked() (string, bool) {
	recent := make(map[string]bool, len(s.recentTokens))
	for _, token := range s.recentTokens {
		recent[token] = true
	}
	candidates := make([]string, 0, len(s.cursors))
	for token := range s.cursors {
		if !recent[token] && s.heap.Contains(token) {
			candidates = append(candidates, token)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[s.opts.Rand.Intn(len(candidates))], true
}

// markUsedLocked hands token out: it is dropped from the heap until the
// next Update re-queues it and recorded as most recently used.
func (s *Store) markUsedLocked(token string) string {
	s.heap.Remove(token)
	s.recentTokens = append(s.recentTokens, token)
	if len(s.recentTokens) > s.opts.SkipRecent {
		s.recentTokens = s.recentTokens[len(s.recentTokens)-s.opts.SkipRecent:]
	}
	return token
}

// Update records the outcome of fetching a cursor: newly discovered ids
// are merged into its set, its counters and score are refreshed, and the
// snapshot is rewritten. The cursor is created on first use. The number
// of ids not seen by this cursor before is returned.
func (s *Store) Update(token string, discoveredIDs []string, successCount int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	c := s.ensureCursorLocked(token, now)

	fresh := 0
	for _, id := range discoveredIDs {
		if _, ok := c.discoveredIDs[id]; !ok {
			c.discoveredIDs[id] = struct{}{}
			fresh++
		}
	}
	c.ScanCount++
	c.SuccessCount += successCount
	c.SuccessRate = float64(c.SuccessCount) / float64(c.ScanCount)
	c.LastUsed = now

	s.heap.Push(token, s.score(c, now))
	s.flushLocked()
	return fresh
}

// Observe registers a token seen on a listing page without counting a
// scan against it. A new cursor starts expired, so it is picked up soon.
func (s *Store) Observe(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureCursorLocked(token, s.opts.Now())
}

// Flush persists the current state. Called on graceful shutdown; Update
// already flushes after every mutation.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes the snapshot with bounded retries. Persistent
// failure is logged and swallowed: the in-memory state stays intact and
// the next flush tries again.
func (s *Store) flushLocked() error {
	file := s.toSnapshotLocked()

	var err error
	for attempt := 1; attempt <= s.opts.SnapshotRetries; attempt++ {
		if err = writeSnapshot(s.path, file); err == nil {
			return nil
		}
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("Cursor snapshot write failed")
	}
	return err
}

func (s *Store) ensureRootLocked(now time.Time) {
	s.ensureCursorLocked(RootToken, now)
}

// ensureCursorLocked returns the cursor for token, registering it on
// first sight.
func (s *Store) ensureCursorLocked(token string, now time.Time) *Cursor {
	c, ok := s.cursors[token]
	if !ok {
		c = &Cursor{Token: token, discoveredIDs: make(map[string]struct{})}
		s.cursors[token] = c
		s.heap.Push(token, s.score(c, now))
	}
	return c
}
