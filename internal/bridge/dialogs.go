package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"raidline/internal/signal"
)

var ErrUnknownDialog = errors.New("no pending dialog with that id")

// Dialogs implements signal.Prompter. Confirm asks the bridge to show the
// prompt and then waits for Resolve to be called with the answer.
type Dialogs struct {
	client  *Client
	mu      sync.Mutex
	pending map[string]chan bool
}

func NewDialogs(c *Client) *Dialogs {
	return &Dialogs{client: c, pending: make(map[string]chan bool)}
}

var _ signal.Prompter = (*Dialogs)(nil)

type dialogBody struct {
	DialogID      string `json:"dialog_id"`
	GuildID       string `json:"guild_id"`
	EventID       string `json:"event_id"`
	ParticipantID string `json:"participant_id"`
	Kind          string `json:"kind"`
	Prompt        string `json:"prompt"`
}

func (d *Dialogs) Confirm(ctx context.Context, req signal.DialogRequest) (bool, error) {
	answer := make(chan bool, 1)
	d.mu.Lock()
	d.pending[req.ID] = answer
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, req.ID)
		d.mu.Unlock()
	}()

	body := dialogBody{
		DialogID:      req.ID,
		GuildID:       req.GuildID,
		EventID:       req.EventID,
		ParticipantID: req.ParticipantID,
		Kind:          req.Kind,
		Prompt:        req.Prompt,
	}
	if err := d.client.do(ctx, "open_dialog", http.MethodPost, "dialogs", body, nil); err != nil {
		return false, err
	}
	select {
	case ok := <-answer:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve hands the participant's answer to the waiting Confirm call.
func (d *Dialogs) Resolve(dialogID string, accept bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	answer, ok := d.pending[dialogID]
	if !ok {
		return ErrUnknownDialog
	}
	select {
	case answer <- accept:
	default:
		// already answered
	}
	return nil
}

func (d *Dialogs) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
