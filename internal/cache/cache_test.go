package cache

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/coherence/internal/schema"
)

type countingObserver struct {
	hits, misses atomic.Int64
}

func (o *countingObserver) CacheHit()  { o.hits.Add(1) }
func (o *countingObserver) CacheMiss() { o.misses.Add(1) }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

// exercise runs the shared Store contract against s.
func exercise(t *testing.T, s Store, clk *clock, obs *countingObserver) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "P-1"); err != nil || ok {
		t.Fatalf("Get on empty cache = %v, %v", ok, err)
	}
	res := &schema.CoherenceResult{ProjectID: "P-1", GlobalScore: 77}
	if err := s.Set(ctx, "P-1", res); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get(ctx, "P-1")
	if err != nil || !ok || got.GlobalScore != 77 {
		t.Fatalf("Get after Set = %+v, %v, %v", got, ok, err)
	}
	if err := s.Invalidate(ctx, "P-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "P-1"); ok {
		t.Error("Get after Invalidate should miss")
	}

	_ = s.Set(ctx, "P-2", res)
	clk.t = clk.t.Add(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "P-2"); ok {
		t.Error("Get after TTL should miss")
	}

	if obs.hits.Load() != 1 || obs.misses.Load() != 3 {
		t.Errorf("observer hits=%d misses=%d, want 1 and 3", obs.hits.Load(), obs.misses.Load())
	}
}

func TestMemory(t *testing.T) {
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	obs := &countingObserver{}
	m := NewMemory(time.Minute, obs)
	m.now = clk.now
	exercise(t, m, clk, obs)
}

func TestMemory_NoTTL(t *testing.T) {
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(0, nil)
	m.now = clk.now
	_ = m.Set(context.Background(), "P", &schema.CoherenceResult{})
	clk.t = clk.t.Add(24 * 365 * time.Hour)
	if _, ok, _ := m.Get(context.Background(), "P"); !ok {
		t.Error("entry without TTL expired")
	}
}

func TestBoltStore(t *testing.T) {
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	obs := &countingObserver{}
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := OpenBolt(path, time.Minute, obs)
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	s.now = clk.now
	exercise(t, s, clk, obs)

	// Results survive reopening.
	_ = s.Set(context.Background(), "P-3", &schema.CoherenceResult{ProjectID: "P-3", GlobalScore: 64,
		CategoryScores: map[schema.Category]int{schema.CategoryBudget: 50}})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s, err = OpenBolt(path, time.Minute, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	s.now = clk.now
	got, ok, err := s.Get(context.Background(), "P-3")
	if err != nil || !ok {
		t.Fatalf("Get after reopen = %v, %v", ok, err)
	}
	if got.GlobalScore != 64 || got.CategoryScores[schema.CategoryBudget] != 50 {
		t.Errorf("reloaded result = %+v", got)
	}
}

func TestKeyedMutex(t *testing.T) {
	var km KeyedMutex
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("P")
			defer unlock()
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()
	if maxActive.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive.Load())
	}
	if len(km.locks) != 0 {
		t.Errorf("locks leaked: %d", len(km.locks))
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	var km KeyedMutex
	unlockA := km.Lock("A")
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("B")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on B blocked behind A")
	}
	unlockA()
}
