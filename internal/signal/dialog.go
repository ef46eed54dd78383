package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"raidline/internal/clock"
)

type State string

const (
	Offered   State = "offered"
	Confirmed State = "confirmed"
	Declined  State = "declined"
	TimedOut  State = "timed_out"
)

func (s State) Terminal() bool { return s != Offered }

const DefaultDialogTimeout = 60 * time.Second

// DialogRequest is what the participant is asked to confirm.
type DialogRequest struct {
	ID            string
	GuildID       string
	EventID       string
	ParticipantID string
	Kind          string
	Prompt        string
}

// Prompter carries a dialog to the participant. Confirm blocks until the
// participant answers or ctx is done.
type Prompter interface {
	Confirm(ctx context.Context, req DialogRequest) (bool, error)
}

// Dialog is a single Offered -> {Confirmed, Declined, TimedOut} exchange.
// It owns its timeout, independent of the event that spawned it.
type Dialog struct {
	Request DialogRequest
	Timeout time.Duration

	clock   clock.Clock
	mu      sync.Mutex
	started bool
	done    chan struct{}
	state   State
	err     error
}

func NewDialog(c clock.Clock, req DialogRequest, timeout time.Duration) *Dialog {
	if c == nil {
		c = clock.Real()
	}
	if timeout <= 0 {
		timeout = DefaultDialogTimeout
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return &Dialog{Request: req, Timeout: timeout, clock: c, state: Offered}
}

func (d *Dialog) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns the transport error that ended the dialog, if any.
func (d *Dialog) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Run offers the dialog and returns its terminal state. A dialog runs at
// most once; later calls return the state reached by the first.
// Cancelling ctx ends the dialog as TimedOut.
func (d *Dialog) Run(ctx context.Context, p Prompter) State {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return d.wait()
	}
	d.started = true
	d.done = make(chan struct{})
	d.mu.Unlock()
	defer close(d.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	expired := make(chan struct{})
	t := d.clock.AfterFunc(d.Timeout, func() {
		close(expired)
		cancel()
	})
	defer t.Stop()

	ok, err := p.Confirm(ctx, d.Request)

	// An answer that made it back wins over a timer firing at the same time.
	var final State
	switch {
	case err == nil && ok:
		final = Confirmed
	case err == nil:
		final = Declined
	case isExpired(expired), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		final = TimedOut
	default:
		final = Declined
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Offered {
		d.state = final
		if err != nil && !errors.Is(err, context.Canceled) {
			d.err = err
		}
	}
	return d.state
}

func (d *Dialog) wait() State {
	<-d.done
	return d.State()
}

func isExpired(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
