package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
)

// ErrRateLimited is returned when a (provider, caller) pair has exhausted its quota.
var ErrRateLimited = errors.New("rate limit exceeded")

// Unlimited is reported as Remaining for providers without a quota.
const Unlimited = -1

// Quota is the number of requests admitted per window.
type Quota struct {
	Requests int
	Window   time.Duration
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type bucketKey struct {
	provider catalog.ProviderID
	caller   string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// Limiter is an in-memory token bucket per (provider, caller). A bucket holds
// Requests tokens and refills at Requests per Window, so a fresh or idle caller
// can burst up to the full quota.
type Limiter struct {
	mu      sync.RWMutex
	quotas  map[catalog.ProviderID]Quota
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects the time source used for refills and idleness.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New builds a limiter from the catalog's per-provider quotas.
func New(cat *catalog.Catalog, opts ...Option) *Limiter {
	quotas := make(map[catalog.ProviderID]Quota)
	for _, id := range cat.IDs() {
		cfg, _ := cat.Get(id)
		quotas[id] = Quota{Requests: cfg.RateLimit.Requests, Window: cfg.RateLimit.Window}
	}
	return NewWithQuotas(quotas, opts...)
}

// NewWithQuotas builds a limiter from explicit quotas. Providers without a
// positive quota are never limited.
func NewWithQuotas(quotas map[catalog.ProviderID]Quota, opts ...Option) *Limiter {
	l := &Limiter{
		quotas:  make(map[catalog.ProviderID]Quota, len(quotas)),
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
	for id, q := range quotas {
		l.quotas[id] = q
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one token for the pair and reports whether the call may proceed.
func (l *Limiter) Allow(provider catalog.ProviderID, caller string) bool {
	return l.Check(provider, caller).Allowed
}

// Check consumes one token if available. A denied check consumes nothing.
func (l *Limiter) Check(provider catalog.ProviderID, caller string) Decision {
	q, ok := l.quotas[provider]
	if !ok || q.Requests <= 0 || q.Window <= 0 {
		return Decision{Allowed: true, Remaining: Unlimited}
	}

	now := l.now()
	b := l.getBucket(bucketKey{provider: provider, caller: caller}, q)
	b.lastSeen.Store(now.UnixNano())

	if b.limiter.AllowN(now, 1) {
		return Decision{Allowed: true, Remaining: remaining(b.limiter, now)}
	}

	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return Decision{Allowed: false, Remaining: 0, RetryAfter: delay}
}

// Prune drops buckets idle for longer than idle and returns how many were removed.
// A bucket idle for a full window is indistinguishable from a new one.
func (l *Limiter) Prune(idle time.Duration) int {
	cutoff := l.now().Add(-idle).UnixNano()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, b := range l.buckets {
		if b.lastSeen.Load() < cutoff {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

// Run prunes idle buckets every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune(idle)
		}
	}
}

// Len is the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// LongestWindow is a safe idle threshold for Prune.
func (l *Limiter) LongestWindow() time.Duration {
	var longest time.Duration
	for _, q := range l.quotas {
		if q.Window > longest {
			longest = q.Window
		}
	}
	return longest
}

func (l *Limiter) getBucket(key bucketKey, q Quota) *bucket {
	l.mu.RLock()
	b, exists := l.buckets[key]
	l.mu.RUnlock()
	if exists {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, exists = l.buckets[key]; exists {
		return b
	}
	b = &bucket{limiter: rate.NewLimiter(rate.Every(q.Window/time.Duration(q.Requests)), q.Requests)}
	l.buckets[key] = b
	return b
}

func remaining(lim *rate.Limiter, now time.Time) int {
	tokens := lim.TokensAt(now)
	if tokens < 0 {
		return 0
	}
	return int(math.Floor(tokens))
}
