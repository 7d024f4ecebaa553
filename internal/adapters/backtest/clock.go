package backtest

import "time"

// SimClock is a simulated clock advanced strictly per event by the backtest
// loop. Everything in a backtest runs on one goroutine, so no locking.
type SimClock struct {
	now time.Time
}

// NewSimClock starts the clock at the given instant.
func NewSimClock(start time.Time) *SimClock {
	return &SimClock{now: start}
}

// Now returns the simulated time.
func (c *SimClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward. Moving backwards is ignored so an
// out-of-order event cannot rewind time.
func (c *SimClock) Advance(t time.Time) {
	if t.After(c.now) {
		c.now = t
	}
}
