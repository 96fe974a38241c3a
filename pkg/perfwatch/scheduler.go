package perfwatch

import "time"

// Timer cancels a scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call stopped it.
	Stop() bool
}

// Scheduler runs callbacks after a delay. It is the only source of background
// activity in the collector, so tests substitute a manual implementation.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// SystemScheduler schedules on the wall clock.
type SystemScheduler struct{}

// AfterFunc wraps time.AfterFunc.
func (SystemScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
