package ports

import "time"

// Clock abstracts time so live/paper modes run on the wall clock while
// backtests advance a simulated clock strictly per event.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
