// Package ratelimit throttles outbound page loads. The upstream source
// bans aggressive clients, so listing fetches and product extractions
// each get their own token bucket, plus per-host buckets derived from
// the navigated URL.
package ratelimit

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Scope names a class of outbound traffic with its own budget.
type Scope string

const (
	// ScopeListing covers paginated catalog fetches.
	ScopeListing Scope = "listing"
	// ScopeProduct covers individual product-page extractions.
	ScopeProduct Scope = "product"
)

// Limiter applies a token-bucket budget per scope and per host. The
// effective wait for a navigation is the slower of the two buckets.
type Limiter struct {
	mu     sync.RWMutex
	scopes map[Scope]*rate.Limiter
	hosts  map[string]*rate.Limiter

	perHost rate.Limit
	burst   int
}

// New builds a limiter with the given per-host rate. Scope budgets are
// registered separately via SetScope.
func New(hostRequestsPerSecond float64, burst int) *Limiter {
	if hostRequestsPerSecond <= 0 {
		hostRequestsPerSecond = 1.0
	}
	if burst <= 0 {
		burst = 2
	}
	return &Limiter{
		scopes:  make(map[Scope]*rate.Limiter),
		hosts:   make(map[string]*rate.Limiter),
		perHost: rate.Limit(hostRequestsPerSecond),
		burst:   burst,
	}
}

// SetScope installs or replaces the budget for a traffic class.
func (l *Limiter) SetScope(scope Scope, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scopes[scope] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Wait blocks until both the scope budget and the host budget for the
// given URL admit one request, or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context, scope Scope, urlStr string) error {
	if sl := l.scopeLimiter(scope); sl != nil {
		if err := sl.Wait(ctx); err != nil {
			return err
		}
	}
	host := hostOf(urlStr)
	if host == "" {
		// Unparseable URL; navigation will fail on its own.
		return nil
	}
	return l.hostLimiter(host).Wait(ctx)
}

// Allow reports whether a request could proceed right now without
// consuming the tokens a Wait would.
func (l *Limiter) Allow(scope Scope, urlStr string) bool {
	if sl := l.scopeLimiter(scope); sl != nil && sl.Tokens() < 1 {
		return false
	}
	host := hostOf(urlStr)
	if host == "" {
		return true
	}
	return l.hostLimiter(host).Tokens() >= 1
}

func (l *Limiter) scopeLimiter(scope Scope) *rate.Limiter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scopes[scope]
}

func (l *Limiter) hostLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.hosts[host]
	l.mu.RUnlock()
	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.hosts[host]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(l.perHost, l.burst)
	l.hosts[host] = limiter
	return limiter
}

func hostOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Host
}
