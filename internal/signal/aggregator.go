// Package signal holds capped participant signals and the confirmation
// dialog that guards them.
package signal

import (
	"slices"
	"sync"
)

type Result int

const (
	Accepted Result = iota
	// Full means the kind already reached its cap.
	Full
	Duplicate
	// Uncapped means the kind has no cap and is not tracked here.
	Uncapped
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Full:
		return "full"
	case Duplicate:
		return "duplicate"
	case Uncapped:
		return "uncapped"
	}
	return "unknown"
}

// Aggregator maps each capped kind to the participants holding it, in
// acceptance order. It is a cache of the event record's signals.
type Aggregator struct {
	mu      sync.Mutex
	caps    map[string]int
	holders map[string][]string
}

func NewAggregator(caps map[string]int) *Aggregator {
	a := &Aggregator{
		caps:    make(map[string]int, len(caps)),
		holders: make(map[string][]string),
	}
	for k, v := range caps {
		a.caps[k] = v
	}
	return a
}

// Capped reports whether kind has a cap on this event.
func (a *Aggregator) Capped(kind string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.caps[kind] > 0
}

func (a *Aggregator) Cap(kind string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.caps[kind]
}

func (a *Aggregator) Count(kind string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.holders[kind])
}

func (a *Aggregator) Has(kind, participantID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Contains(a.holders[kind], participantID)
}

// Check is the provisional test run before a dialog is offered. It does
// not reserve anything.
func (a *Aggregator) Check(kind, participantID string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkLocked(kind, participantID)
}

// TryAccept is the commit-time test. It appends participantID only when
// the kind still has room.
func (a *Aggregator) TryAccept(kind, participantID string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	res := a.checkLocked(kind, participantID)
	if res == Accepted {
		a.holders[kind] = append(a.holders[kind], participantID)
	}
	return res
}

// Remove undoes an accept whose write failed.
func (a *Aggregator) Remove(kind, participantID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.holders[kind]
	if i := slices.Index(list, participantID); i >= 0 {
		a.holders[kind] = slices.Delete(list, i, i+1)
	}
}

// Holders returns a copy of the participants holding kind.
func (a *Aggregator) Holders(kind string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.holders[kind])
}

// Snapshot returns every capped kind with its holders.
func (a *Aggregator) Snapshot() map[string][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string][]string, len(a.caps))
	for kind := range a.caps {
		out[kind] = slices.Clone(a.holders[kind])
	}
	return out
}

func (a *Aggregator) checkLocked(kind, participantID string) Result {
	limit := a.caps[kind]
	if limit <= 0 {
		return Uncapped
	}
	if slices.Contains(a.holders[kind], participantID) {
		return Duplicate
	}
	if len(a.holders[kind]) >= limit {
		return Full
	}
	return Accepted
}
