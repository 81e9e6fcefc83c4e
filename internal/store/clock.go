package store

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing Unix-millisecond ordering keys, so no
// two messages written through one process share a CreatedAt.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// Next returns the next ordering key.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now
	if c.now != nil {
		now = c.now
	}
	ms := now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}
