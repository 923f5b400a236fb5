package tether

import (
	"fmt"
	"sync"
	"testing"
)

// Cache behavior is observable with nil statements; Close on a nil *sql.Stmt
// is never reached because eviction skips it.

func TestStmtCache_GetMiss(t *testing.T) {
	c := NewStmtCache(4)

	stmt, release := c.Get("SELECT 1")
	if stmt != nil || release != nil {
		t.Error("expected nil, nil on a miss")
	}
}

func TestStmtCache_PutThenGet(t *testing.T) {
	c := NewStmtCache(4)

	c.Put("SELECT 1", nil)
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}

	_, release := c.Get("SELECT 1")
	if release == nil {
		t.Fatal("expected a hit with a release func")
	}
	release()
}

func TestStmtCache_PutAndGet(t *testing.T) {
	c := NewStmtCache(4)

	_, release := c.PutAndGet("SELECT 1", nil)
	if release == nil {
		t.Fatal("expected a referenced entry")
	}
	release()

	if _, r := c.Get("SELECT 1"); r == nil {
		t.Error("entry should remain cached after release")
	} else {
		r()
	}
}

func TestStmtCache_CapacityEviction(t *testing.T) {
	c := NewStmtCache(2)

	c.Put("q1", nil)
	c.Put("q2", nil)
	c.Put("q3", nil)

	if c.Len() != 2 {
		t.Fatalf("expected capacity held at 2, got %d", c.Len())
	}
	if _, r := c.Get("q1"); r != nil {
		t.Error("q1 was least recently used and should be gone")
	}
	if _, r := c.Get("q3"); r == nil {
		t.Error("q3 was just stored and should be cached")
	} else {
		r()
	}
}

func TestStmtCache_GetRefreshesRecency(t *testing.T) {
	c := NewStmtCache(2)

	c.Put("q1", nil)
	c.Put("q2", nil)

	// Touch q1 so q2 becomes the eviction candidate.
	if _, r := c.Get("q1"); r != nil {
		r()
	}
	c.Put("q3", nil)

	if _, r := c.Get("q2"); r != nil {
		t.Error("q2 should have been evicted")
	}
	if _, r := c.Get("q1"); r == nil {
		t.Error("q1 was touched and should survive")
	} else {
		r()
	}
}

func TestStmtCache_ReplaceSameQuery(t *testing.T) {
	c := NewStmtCache(4)

	c.Put("q1", nil)
	c.Put("q1", nil)
	if c.Len() != 1 {
		t.Errorf("expected replacement, got %d entries", c.Len())
	}
}

func TestStmtCache_Clear(t *testing.T) {
	c := NewStmtCache(4)

	c.Put("q1", nil)
	c.Put("q2", nil)
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}
	if _, r := c.Get("q1"); r != nil {
		t.Error("cleared entries must not resolve")
	}

	// The cache stays usable after Clear.
	c.Put("q4", nil)
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}

func TestStmtCache_DefaultCapacity(t *testing.T) {
	c := NewStmtCache(0)

	for i := 0; i < 150; i++ {
		c.Put(fmt.Sprintf("q%d", i), nil)
	}
	if c.Len() != 100 {
		t.Errorf("expected default capacity 100, got %d", c.Len())
	}
}

func TestStmtCache_Concurrent(t *testing.T) {
	c := NewStmtCache(8)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				query := fmt.Sprintf("q%d", (g+i)%24)
				if stmt, release := c.Get(query); release != nil {
					_ = stmt
					release()
					continue
				}
				_, release := c.PutAndGet(query, nil)
				release()
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 8 {
		t.Errorf("capacity exceeded: %d", c.Len())
	}
}
