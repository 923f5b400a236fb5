package tether

import (
	"container/list"
	"database/sql"
	"sync"
	"sync/atomic"
)

// StmtCache is a concurrency-safe LRU of prepared statements keyed by query
// text. Statements stay open while referenced: eviction marks an entry and
// the last release closes it, so an executing statement is never closed
// underneath its caller.
type StmtCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*cacheEntry
	lruList  *list.List
}

type cacheEntry struct {
	stmt     *sql.Stmt
	element  *list.Element
	refCount int32
	evicted  bool
	query    string
}

// NewStmtCache builds a cache holding at most capacity statements; zero or
// negative defaults to 100.
func NewStmtCache(capacity int) *StmtCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &StmtCache{
		capacity: capacity,
		items:    make(map[string]*cacheEntry),
		lruList:  list.New(),
	}
}

// Get returns the cached statement for query and a release func the caller
// must invoke when done, or nil, nil on a miss.
func (c *StmtCache) Get(query string) (*sql.Stmt, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.items[query]; exists {
		c.lruList.MoveToFront(entry.element)
		atomic.AddInt32(&entry.refCount, 1)
		return entry.stmt, func() {
			c.release(entry)
		}
	}

	return nil, nil
}

// Put stores stmt under query, evicting the least recently used entry at
// capacity. An existing entry for the same query is evicted first.
func (c *StmtCache) Put(query string, stmt *sql.Stmt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.putLocked(query, stmt)
}

func (c *StmtCache) putLocked(query string, stmt *sql.Stmt) *cacheEntry {
	if entry, exists := c.items[query]; exists {
		c.evictEntry(entry)
	}

	if len(c.items) >= c.capacity {
		c.evictLRU()
	}

	entry := &cacheEntry{
		stmt:  stmt,
		query: query,
	}
	entry.element = c.lruList.PushFront(entry)
	c.items[query] = entry
	return entry
}

// PutAndGet stores stmt and returns it already referenced, under one lock
// acquisition, so a racing eviction cannot close it between the store and the
// first use.
func (c *StmtCache) PutAndGet(query string, stmt *sql.Stmt) (*sql.Stmt, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.putLocked(query, stmt)
	atomic.AddInt32(&entry.refCount, 1)
	return entry.stmt, func() {
		c.release(entry)
	}
}

func (c *StmtCache) evictLRU() {
	element := c.lruList.Back()
	if element == nil {
		return
	}
	c.evictEntry(element.Value.(*cacheEntry))
}

// evictEntry unlinks the entry and closes its statement unless still in use;
// an in-use statement closes on final release instead.
func (c *StmtCache) evictEntry(entry *cacheEntry) {
	c.lruList.Remove(entry.element)
	delete(c.items, entry.query)
	entry.evicted = true

	if atomic.LoadInt32(&entry.refCount) == 0 && entry.stmt != nil {
		_ = entry.stmt.Close()
	}
}

func (c *StmtCache) release(entry *cacheEntry) {
	if atomic.AddInt32(&entry.refCount, -1) != 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.evicted && atomic.LoadInt32(&entry.refCount) == 0 && entry.stmt != nil {
		_ = entry.stmt.Close()
	}
}

// Clear evicts everything; in-use statements close as their holders release.
func (c *StmtCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.items {
		entry.evicted = true
		if atomic.LoadInt32(&entry.refCount) == 0 && entry.stmt != nil {
			_ = entry.stmt.Close()
		}
	}

	c.items = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// Close releases every cached statement.
func (c *StmtCache) Close() error {
	c.Clear()
	return nil
}

// Len returns the number of cached statements.
func (c *StmtCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
