package turn

import "time"

// Timer is a pending callback created by [Clock.AfterFunc].
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer; false means the callback already ran or is running.
	Stop() bool
}

// Clock schedules the silence timer.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock is the wall clock.
type RealClock struct{}

// AfterFunc wraps [time.AfterFunc].
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
