package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type expiring struct {
	count   int64
	expires time.Time
}

// LocalBackend keeps token buckets and blocks in process memory. It serves
// single-instance deployments without Redis.
type LocalBackend struct {
	mu         sync.Mutex
	limiters   map[string]*localEntry
	blocks     map[string]time.Time
	violations map[string]expiring
	now        func() time.Time
}

// NewLocalBackend creates an in-process limiter state.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		limiters:   make(map[string]*localEntry),
		blocks:     make(map[string]time.Time),
		violations: make(map[string]expiring),
		now:        time.Now,
	}
}

// Allow spends one token from a bucket refilled at limit per window.
func (b *LocalBackend) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.sweep(now, window)

	entry, ok := b.limiters[key]
	if !ok {
		every := window / time.Duration(limit)
		entry = &localEntry{limiter: rate.NewLimiter(rate.Every(every), limit)}
		b.limiters[key] = entry
	}
	entry.lastSeen = now

	allowed := entry.limiter.AllowN(now, 1)
	remaining := int(entry.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, now.Add(window)
}

// sweep drops buckets idle for two windows; a fresh bucket is full anyway.
func (b *LocalBackend) sweep(now time.Time, window time.Duration) {
	for key, entry := range b.limiters {
		if now.Sub(entry.lastSeen) > 2*window {
			delete(b.limiters, key)
		}
	}
}

func (b *LocalBackend) IsBlocked(_ context.Context, ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.blocks[ip]
	if ok && b.now().After(until) {
		delete(b.blocks, ip)
		return false
	}
	return ok
}

func (b *LocalBackend) Block(_ context.Context, ip string, duration time.Duration, _ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocks[ip] = b.now().Add(duration)
}

func (b *LocalBackend) Violation(_ context.Context, ip string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	v := b.violations[ip]
	if now.After(v.expires) {
		v = expiring{}
	}
	v.count++
	v.expires = now.Add(time.Hour)
	b.violations[ip] = v
	return v.count
}
