// Package idle tracks inbound activity and stops the process once it has
// been idle for too long.
package idle

import (
	"sync/atomic"
	"time"
)

// Clock records the last moment an inbound request was observed.
// It is safe for concurrent use without external locking.
type Clock struct {
	now  func() time.Time
	base time.Time

	// last is the offset of the most recent touch from base, in nanoseconds.
	// Offsets are computed from monotonic readings, so wall clock jumps
	// do not affect them.
	last atomic.Int64
}

// NewClock returns a Clock whose last activity is now.
func NewClock() *Clock {
	return NewClockAt(time.Now)
}

// NewClockAt returns a Clock that reads the current time from now.
func NewClockAt(now func() time.Time) *Clock {
	return &Clock{now: now, base: now()}
}

// Touch records the current instant as the last activity.
func (c *Clock) Touch() {
	off := int64(c.now().Sub(c.base))
	for {
		prev := c.last.Load()
		if off <= prev {
			return
		}
		if c.last.CompareAndSwap(prev, off) {
			return
		}
	}
}

// Elapsed returns the time since the last touch.
func (c *Clock) Elapsed() time.Duration {
	d := c.now().Sub(c.base) - time.Duration(c.last.Load())
	if d < 0 {
		return 0
	}
	return d
}

// LastActivity returns the wall clock time of the last touch.
func (c *Clock) LastActivity() time.Time {
	return c.base.Add(time.Duration(c.last.Load()))
}
