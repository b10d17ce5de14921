package clock

import "time"

// FakeClock is a Clock whose time moves only when a test advances it.
// Times are normalized to UTC so assertions stay stable across machines.
type FakeClock struct {
	now time.Time
}

// NewFakeClock returns a clock frozen at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

// Now returns the frozen time.
func (c *FakeClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}
