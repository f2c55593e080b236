package harness

import "sync"

// logicalClock is a resettable monotonic counter for trace seq values.
// The first call to Next returns 1.
type logicalClock struct {
	mu  sync.Mutex
	seq int64
}

// Next increments and returns the next sequence number.
func (c *logicalClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *logicalClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock so the next call to Next returns 1.
func (c *logicalClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
