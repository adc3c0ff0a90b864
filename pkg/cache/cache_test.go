package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestGetReturnsFreshValue(t *testing.T) {
	c := New[string](Config{Capacity: 10, TTL: time.Hour})
	c.Set("a", "value")

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("expected hit for fresh entry")
	}
	if got != "value" {
		t.Errorf("got %q, want %q", got, "value")
	}
}

func TestGetMissesExpiredEntry(t *testing.T) {
	c := New[string](Config{Capacity: 10, TTL: time.Minute, MaxStale: time.Hour})

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("a", "value")

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := c.Get("a"); ok {
		t.Error("expected miss for expired entry")
	}
}

func TestGetStaleServesExpiredWithinWindow(t *testing.T) {
	c := New[string](Config{Capacity: 10, TTL: time.Minute, MaxStale: time.Hour})

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("a", "value")

	c.now = func() time.Time { return base.Add(30 * time.Minute) }
	got, age, ok := c.GetStale("a")
	if !ok {
		t.Fatal("expected stale hit within the staleness window")
	}
	if got != "value" {
		t.Errorf("got %q, want %q", got, "value")
	}
	if age != 30*time.Minute {
		t.Errorf("age = %s, want 30m", age)
	}
}

func TestGetStaleRefusesBeyondMaxStale(t *testing.T) {
	c := New[string](Config{Capacity: 10, TTL: time.Minute, MaxStale: time.Hour})

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("a", "value")

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, _, ok := c.GetStale("a"); ok {
		t.Error("expected no stale serve past MaxStale")
	}
	if c.Len() != 0 {
		t.Errorf("entry past MaxStale should be dropped, len = %d", c.Len())
	}
}

func TestLRUEvictionOrder(t *testing.T) {
	c := New[int](Config{Capacity: 2, TTL: time.Hour})
	c.Set("a", 1)
	c.Set("b", 2)

	// Touch "a" so "b" becomes least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}

	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestSetOverwriteRefreshesEntry(t *testing.T) {
	c := New[string](Config{Capacity: 10, TTL: time.Minute, MaxStale: time.Hour})

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("a", "old")

	c.now = func() time.Time { return base.Add(50 * time.Second) }
	c.Set("a", "new")

	c.now = func() time.Time { return base.Add(90 * time.Second) }
	got, ok := c.Get("a")
	if !ok {
		t.Fatal("expected refreshed entry to still be fresh")
	}
	if got != "new" {
		t.Errorf("got %q, want %q", got, "new")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](Config{Capacity: 100, TTL: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				key := fmt.Sprintf("key-%d", j%150)
				c.Set(key, n*1000+j)
				c.Get(key)
				c.GetStale(key)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Errorf("cache exceeded capacity: %d", c.Len())
	}
}

func TestStatsCounters(t *testing.T) {
	c := New[int](Config{Capacity: 2, TTL: time.Hour})
	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 miss", s)
	}
}
