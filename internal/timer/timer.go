// Package timer implements the phase countdown used by raid events.
package timer

import (
	"sync"
	"time"

	"raidline/internal/clock"
)

// TickFunc receives the time left in the running countdown.
type TickFunc func(remaining time.Duration)

// PhaseTimer is a cancellable countdown. Each Start or Reschedule opens a
// new generation; callbacks belonging to an older generation are dropped.
// Within one generation, ticks and expiry never overlap and no tick is
// delivered once the generation expired or was cancelled.
//
// Callbacks run on the clock's goroutine without any lock of the owner
// held, so owners must serialize their own state.
type PhaseTimer struct {
	clock    clock.Clock
	interval time.Duration
	onTick   TickFunc

	mu       sync.Mutex
	gen      uint64
	active   bool
	deadline time.Time
	onExpire func()
	expiry   *clock.Timer
	tick     *clock.Timer

	// deliver serializes callback delivery so that a tick and the expiry
	// of the same generation can never run concurrently.
	deliver sync.Mutex
}

type Option func(*PhaseTimer)

// WithTicks delivers the remaining time to fn every interval.
func WithTicks(interval time.Duration, fn TickFunc) Option {
	return func(t *PhaseTimer) {
		t.interval = interval
		t.onTick = fn
	}
}

func New(c clock.Clock, opts ...Option) *PhaseTimer {
	if c == nil {
		c = clock.Real()
	}
	t := &PhaseTimer{clock: c}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start arms the countdown, replacing any running one. A non-positive
// duration fires onExpire on a new goroutine.
func (t *PhaseTimer) Start(d time.Duration, onExpire func()) {
	t.mu.Lock()
	t.stopLocked()
	t.gen++
	gen := t.gen
	t.active = true
	t.onExpire = onExpire
	t.deadline = t.clock.Now().Add(d)
	t.mu.Unlock()

	if d <= 0 {
		go t.expire(gen)
		return
	}
	t.arm(gen, d)
}

// Reschedule replaces the countdown with a new duration, keeping the
// expiry callback. It is a no-op if the timer is not running.
func (t *PhaseTimer) Reschedule(d time.Duration) {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	fn := t.onExpire
	t.mu.Unlock()
	t.Start(d, fn)
}

// Cancel stops the countdown. Safe to call repeatedly and after expiry.
func (t *PhaseTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.gen++
	t.active = false
	t.onExpire = nil
}

// Active reports whether a countdown is running.
func (t *PhaseTimer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Remaining returns the time left, or zero when not running.
func (t *PhaseTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked()
}

func (t *PhaseTimer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return time.Time{}
	}
	return t.deadline
}

func (t *PhaseTimer) remainingLocked() time.Duration {
	if !t.active {
		return 0
	}
	left := t.deadline.Sub(t.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

func (t *PhaseTimer) arm(gen uint64, d time.Duration) {
	// Arming happens outside mu: a fake clock may run callbacks inline.
	expiry := t.clock.AfterFunc(d, func() { t.expire(gen) })
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		expiry.Stop()
		return
	}
	t.expiry = expiry
	t.mu.Unlock()
	t.armTick(gen)
}

func (t *PhaseTimer) armTick(gen uint64) {
	if t.onTick == nil || t.interval <= 0 {
		return
	}
	tick := t.clock.AfterFunc(t.interval, func() { t.fireTick(gen) })
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || !t.active {
		tick.Stop()
		return
	}
	t.tick = tick
}

func (t *PhaseTimer) fireTick(gen uint64) {
	t.deliver.Lock()
	t.mu.Lock()
	if t.gen != gen || !t.active {
		t.mu.Unlock()
		t.deliver.Unlock()
		return
	}
	left := t.remainingLocked()
	fn := t.onTick
	t.mu.Unlock()
	if left > 0 {
		fn(left)
	}
	t.deliver.Unlock()
	if left > 0 {
		t.armTick(gen)
	}
}

func (t *PhaseTimer) expire(gen uint64) {
	t.deliver.Lock()
	defer t.deliver.Unlock()
	t.mu.Lock()
	if t.gen != gen || !t.active {
		t.mu.Unlock()
		return
	}
	fn := t.onExpire
	t.stopLocked()
	t.active = false
	t.onExpire = nil
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *PhaseTimer) stopLocked() {
	if t.expiry != nil {
		t.expiry.Stop()
		t.expiry = nil
	}
	if t.tick != nil {
		t.tick.Stop()
		t.tick = nil
	}
}
