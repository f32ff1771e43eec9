// Package clock hands out logical timestamps for session records.
package clock

import (
	"sync"
	"time"
)

// Clock returns logical timestamps in milliseconds
type Clock interface {
	Now() int64
	Observe(t int64)
}

// Logical is a monotonic clock: every call returns a value strictly greater
// than the previous one, even if the wall clock stalls or steps backwards.
type Logical struct {
	mu   sync.Mutex
	last int64
	wall func() int64
}

// NewLogical creates a logical clock seeded from the wall clock
func NewLogical() *Logical {
	return &Logical{wall: func() int64 { return time.Now().UnixMilli() }}
}

// NewLogicalFrom creates a logical clock driven by the given source. Used in tests.
func NewLogicalFrom(source func() int64) *Logical {
	return &Logical{wall: source}
}

// Now implements Clock.
func (c *Logical) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.wall()
	if t <= c.last {
		t = c.last + 1
	}
	c.last = t
	return t
}

// Observe advances the clock past t so later values order after records
// that were stamped elsewhere (remote merges, imports).
func (c *Logical) Observe(t int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.last {
		c.last = t
	}
}
