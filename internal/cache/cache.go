// Package cache stores calculation results keyed by project id.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/coherence/internal/schema"
)

// Store is a result cache keyed by project id. Implementations must be safe
// for concurrent use. Returned results are shared; callers must not mutate
// them.
type Store interface {
	Get(ctx context.Context, projectID string) (*schema.CoherenceResult, bool, error)
	Set(ctx context.Context, projectID string, res *schema.CoherenceResult) error
	Invalidate(ctx context.Context, projectID string) error
}

// Observer is notified of cache lookups.
type Observer interface {
	CacheHit()
	CacheMiss()
}

type entry struct {
	val *schema.CoherenceResult
	exp time.Time
}

// Memory is an in-process Store with a fixed TTL. A TTL of zero keeps
// entries until invalidated.
type Memory struct {
	mu  sync.RWMutex
	m   map[string]entry
	ttl time.Duration
	obs Observer
	now func() time.Time
}

// NewMemory returns an empty Memory cache. obs may be nil.
func NewMemory(ttl time.Duration, obs Observer) *Memory {
	return &Memory{m: make(map[string]entry), ttl: ttl, obs: obs, now: time.Now}
}

// Get implements Store.
func (c *Memory) Get(_ context.Context, projectID string) (*schema.CoherenceResult, bool, error) {
	c.mu.RLock()
	e, ok := c.m[projectID]
	c.mu.RUnlock()
	if !ok || expired(e.exp, c.now()) {
		observe(c.obs, false)
		return nil, false, nil
	}
	observe(c.obs, true)
	return e.val, true, nil
}

// Set implements Store.
func (c *Memory) Set(_ context.Context, projectID string, res *schema.CoherenceResult) error {
	c.mu.Lock()
	c.m[projectID] = entry{val: res, exp: expiry(c.now(), c.ttl)}
	c.mu.Unlock()
	return nil
}

// Invalidate implements Store.
func (c *Memory) Invalidate(_ context.Context, projectID string) error {
	c.mu.Lock()
	delete(c.m, projectID)
	c.mu.Unlock()
	return nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(exp, now time.Time) bool {
	return !exp.IsZero() && now.After(exp)
}

func observe(obs Observer, hit bool) {
	if obs == nil {
		return
	}
	if hit {
		obs.CacheHit()
	} else {
		obs.CacheMiss()
	}
}

// KeyedMutex serializes work per key. The zero value is ready to use.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
