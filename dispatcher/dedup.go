package dispatcher

import (
	"fmt"
	"sync"
	"time"
)

// dedupCache remembers (rule, entity, event, window) keys seen in the
// current window.
type dedupCache struct {
	window time.Duration

	mu     sync.Mutex
	bucket int64
	seen   map[string]int64
}

func newDedupCache(window time.Duration) *dedupCache {
	return &dedupCache{window: window, seen: make(map[string]int64)}
}

// admit reports whether the run is the first one for its key in the window.
func (c *dedupCache) admit(ruleID, entityID, event string, now time.Time) bool {
	bucket := now.UnixNano() / int64(c.window)
	key := fmt.Sprintf("%s|%s|%s|%d", ruleID, entityID, event, bucket)

	c.mu.Lock()
	defer c.mu.Unlock()

	if bucket != c.bucket {
		for k, b := range c.seen {
			if b < bucket {
				delete(c.seen, k)
			}
		}
		c.bucket = bucket
	}
	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = bucket
	return true
}
