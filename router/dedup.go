package router

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// dedupWindow is how long a RouteId is remembered before the cleanup
// sweep evicts it (spec §3 "Message dedup cache").
const dedupWindow = 5 * time.Minute

// dedupCache remembers which RouteIds have already been forwarded, so
// ForwardMessage never processes the same envelope twice.
type dedupCache struct {
	mu   sync.Mutex
	seen map[uuid.UUID]time.Time
}

func newDedupCache() *dedupCache {
	return &dedupCache{seen: make(map[uuid.UUID]time.Time)}
}

// checkAndInsert reports whether id was already present, then
// unconditionally records it with the current time.
func (c *dedupCache) checkAndInsert(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.seen[id]
	c.seen[id] = time.Now()
	return existed
}

func (c *dedupCache) sweep() {
	cutoff := time.Now().Add(-dedupWindow)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.seen {
		if t.Before(cutoff) {
			delete(c.seen, id)
		}
	}
}

func (c *dedupCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
