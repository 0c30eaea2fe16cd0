// Package browser owns the pool of Chrome sessions used for extraction.
// A session costs ~1.5s to start, so the pool keeps warmed contexts
// alive and hands them out exclusively: exactly one worker holds a
// handle at a time, and a broken handle is discarded rather than
// returned.
package browser

import (
	"context"
	"errors"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("browser pool is closed")

// Handle is exclusive ownership of one live browser session. The
// embedded context drives chromedp calls against that session's tab.
type Handle struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the chromedp context of this session.
func (h *Handle) Context() context.Context { return h.ctx }

// NewHandle wraps a session context for custom Factory implementations.
// cancel must tear the session down; the pool calls it on Discard and
// Close.
func NewHandle(id int, ctx context.Context, cancel context.CancelFunc) *Handle {
	return &Handle{id: id, ctx: ctx, cancel: cancel}
}

// Factory builds one fresh, warmed-up session. The pool retries a
// failed build once before reporting the error.
type Factory func(id int) (*Handle, error)

// Pool is a fixed-capacity session pool with lazy construction: handles
// are built on demand up to the capacity, then recycled.
type Pool struct {
	size    int
	factory Factory
	free    chan *Handle

	mu      sync.Mutex
	created int
	nextID  int
	closed  bool

	cleanup func() // tears down shared browser infrastructure on Close
}

// NewPool builds a pool of the given capacity around a session factory.
func NewPool(size int, factory Factory) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		size:    size,
		factory: factory,
		free:    make(chan *Handle, size),
	}
}

// Acquire returns a free session, lazily building one while the pool is
// below capacity. At capacity it blocks until a Release or Discard
// makes room, or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	select {
	case h, ok := <-p.free:
		if !ok {
			return nil, ErrPoolClosed
		}
		return h, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.created < p.size {
		p.created++
		p.nextID++
		id := p.nextID
		p.mu.Unlock()

		h, err := p.build(id)
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, err
		}
		return h, nil
	}
	p.mu.Unlock()

	select {
	case h, ok := <-p.free:
		if !ok {
			return nil, ErrPoolClosed
		}
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// build invokes the factory, allowing one fresh attempt after a failure.
func (p *Pool) build(id int) (*Handle, error) {
	h, err := p.factory(id)
	if err == nil {
		return h, nil
	}
	log.Warn().Err(err).Int("session_id", id).Msg("Session build failed, retrying once")
	return p.factory(id)
}

// Release returns a healthy session to the pool. The tab is parked on
// about:blank first so no page state leaks into the next task.
func (p *Pool) Release(h *Handle) {
	// Best effort; a session that cannot navigate will fail its next
	// task and be discarded there.
	_ = chromedp.Run(h.ctx, chromedp.Navigate("about:blank"))

	// The send stays under the lock so it cannot race Close closing the
	// channel.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		h.cancel()
		return
	}
	select {
	case p.free <- h:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		h.cancel()
		log.Warn().Int("session_id", h.id).Msg("Free list full, dropping session")
	}
}

// Discard destroys a session broken by a fatal error. Capacity is given
// back, so a later Acquire builds a replacement.
func (p *Pool) Discard(h *Handle) {
	h.cancel()
	p.mu.Lock()
	p.created--
	p.mu.Unlock()
	log.Debug().Int("session_id", h.id).Msg("Session discarded")
}

// Close tears down every pooled session and the shared browser process.
// Sessions still held by workers are cancelled when released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.free)
	p.mu.Unlock()

	for h := range p.free {
		h.cancel()
	}
	if p.cleanup != nil {
		p.cleanup()
	}
	log.Info().Msg("Browser pool closed")
}

// Size returns the pool capacity.
func (p *Pool) Size() int { return p.size }

// InUse returns how many sessions are currently checked out.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created - len(p.free)
}
