// Package clock is the time source used by timers and the coordinator.
// Production code uses Real(); tests use Fake() and move time with Advance.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// AfterFunc calls f after d. The fake clock calls f synchronously
	// from Advance; the real clock calls it on its own goroutine.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop prevents the call. It reports false if the call already happened
// or was already stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}
