package service

import "time"

// Clock measures event start times as monotonic offsets from the pipeline origin.
type Clock struct {
	origin time.Time
}

func NewClock() *Clock {
	return &Clock{origin: time.Now()}
}

// NewClockAt pins the origin, mostly for tests.
func NewClockAt(origin time.Time) *Clock {
	return &Clock{origin: origin}
}

// Now returns the offset of the current instant.
func (c *Clock) Now() time.Duration { return time.Since(c.origin) }

// Date converts an offset back to wall-clock time.
func (c *Clock) Date(offset time.Duration) time.Time { return c.origin.Add(offset) }

func (c *Clock) Origin() time.Time { return c.origin }
