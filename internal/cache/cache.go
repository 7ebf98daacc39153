// Package cache provides the two best-effort in-process caches the
// pipeline shares: a bounded LRU for assembled puzzles and a TTL cache
// for fetched file contents. Both are injected into the components that
// need them; neither is a correctness dependency, since a miss is
// always satisfiable by re-deriving from upstream.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
)

// PuzzleCache is a fixed-capacity LRU keyed by puzzle identity. Entries
// are immutable once created, so last-writer-wins under concurrent
// insert is acceptable.
type PuzzleCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	entries  map[string]*list.Element
}

type puzzleEntry struct {
	key    string
	puzzle *domain.Puzzle
}

// NewPuzzleCache creates an LRU puzzle cache. Capacity must be positive;
// non-positive values fall back to 512.
func NewPuzzleCache(capacity int) *PuzzleCache {
	if capacity <= 0 {
		capacity = 512
	}
	return &PuzzleCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Get returns the cached puzzle and marks it most recently used.
func (c *PuzzleCache) Get(id string) (*domain.Puzzle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*puzzleEntry).puzzle, true
}

// Put inserts or refreshes a puzzle, evicting the least recently used
// entry on overflow.
func (c *PuzzleCache) Put(p *domain.Puzzle) {
	if p == nil || p.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[p.ID]; ok {
		el.Value.(*puzzleEntry).puzzle = p
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&puzzleEntry{key: p.ID, puzzle: p})
	c.entries[p.ID] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*puzzleEntry).key)
		}
	}
}

// Remove drops a puzzle, e.g. after a moderation delete.
func (c *PuzzleCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[id]; ok {
		c.order.Remove(el)
		delete(c.entries, id)
	}
}

// Len reports the current entry count.
func (c *PuzzleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// ContentCache caches fetched file contents keyed by
// (owner, repo, path, ref) with a fixed TTL and a capacity bound.
type ContentCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	order    *list.List
	entries  map[string]*list.Element
	now      func() time.Time
}

type contentEntry struct {
	key     string
	content string
	expires time.Time
}

// NewContentCache creates a TTL content cache. Non-positive ttl falls
// back to 15 minutes, non-positive capacity to 256.
func NewContentCache(ttl time.Duration, capacity int) *ContentCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &ContentCache{
		ttl:      ttl,
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

// ContentKey builds the cache key for a file fetch.
func ContentKey(owner, repo, path, ref string) string {
	return owner + "/" + repo + "/" + path + "@" + ref
}

// Get returns the cached content if present and unexpired.
func (c *ContentCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return "", false
	}
	entry := el.Value.(*contentEntry)
	if c.now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return "", false
	}
	c.order.MoveToFront(el)
	return entry.content, true
}

// Put stores content under key, evicting the oldest entry on overflow.
func (c *ContentCache) Put(key, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*contentEntry)
		entry.content = content
		entry.expires = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&contentEntry{
		key:     key,
		content: content,
		expires: c.now().Add(c.ttl),
	})
	c.entries[key] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*contentEntry).key)
		}
	}
}

// Len reports the current entry count, including not-yet-swept expired
// entries.
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
