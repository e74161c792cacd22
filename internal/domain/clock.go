package domain

import "time"

// Clock supplies the current time. Injected so the daily quota rollover
// is testable without waiting for real time to pass.
type Clock interface {
	Now() time.Time
}

// RealClock is the wall-clock implementation of Clock.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }
