package raid

import (
	"context"
	"fmt"
	"slices"
	"time"

	"raidline/internal/domain"
	"raidline/internal/signal"
)

const (
	noticeNoLongerNeeded = "Thanks, but no more %s are needed for this run."
	noticeTooSlow        = "Sorry, you were too slow: the last %s slot was confirmed while you were answering."
	noticeTryAgain       = "Your %s could not be recorded. Please react again."
	noticeConfirmed      = "Your %s is confirmed."
	noticeSignupOver     = "Signup for this run is over, your %s was not recorded."
	noticeAreaFull       = "The run is full, you could not be moved in."
)

// HandleReaction feeds one reaction into an event. It is the programmatic
// twin of the subscription stream.
func (c *Coordinator) HandleReaction(ctx context.Context, guildID, eventID string, re ReactionEvent) error {
	ev, ok := c.lookup(guildID, eventID)
	if !ok {
		return domain.ErrNotFound
	}
	c.handleReaction(ev, re)
	return nil
}

func (c *Coordinator) handleReaction(ev *event, re ReactionEvent) {
	if re.ParticipantID == "" || re.Kind == "" || re.Removed {
		// Removing a reaction never withdraws a committed signal.
		return
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.closed || ev.rec.Kind != domain.KindRaid {
		return
	}
	switch ev.rec.Phase {
	case domain.PhaseSignup:
		c.offerLocked(ev, re.Kind, re.ParticipantID)
	case domain.PhaseGrace:
		if re.Kind == c.cfg.Raid.AdmissionSignal {
			c.admitLocked(context.Background(), ev, re.ParticipantID)
		}
	}
}

func pendingKey(kind, participantID string) string { return kind + "\x00" + participantID }

// offerLocked runs the provisional check and opens a dialog when it passes.
func (c *Coordinator) offerLocked(ev *event, kind, participantID string) {
	if !ev.agg.Capped(kind) {
		return
	}
	key := pendingKey(kind, participantID)
	if _, busy := ev.pending[key]; busy {
		return
	}
	switch ev.agg.Check(kind, participantID) {
	case signal.Duplicate:
		return
	case signal.Full:
		c.metrics.signalsRejected.WithLabelValues(kind, "full").Inc()
		c.notify(ev, participantID, fmt.Sprintf(noticeNoLongerNeeded, c.cfg.Label(kind)))
		return
	}
	if c.prompter == nil {
		c.commitLocked(ev, kind, participantID)
		return
	}
	ev.pending[key] = struct{}{}
	d := signal.NewDialog(c.clock, signal.DialogRequest{
		GuildID:       ev.rec.GuildID,
		EventID:       ev.rec.ID,
		ParticipantID: participantID,
		Kind:          kind,
		Prompt:        c.renderPrompt(ev.rec, kind),
	}, c.cfg.Raid.ConfirmTimeout)
	c.dialogs.Add(1)
	go c.runDialog(ev, d)
}

func (c *Coordinator) runDialog(ev *event, d *signal.Dialog) {
	defer c.dialogs.Done()
	req := d.Request
	state := d.Run(ev.ctx, c.prompter)
	c.metrics.dialogs.WithLabelValues(string(state)).Inc()

	ev.mu.Lock()
	defer ev.mu.Unlock()
	delete(ev.pending, pendingKey(req.Kind, req.ParticipantID))
	if state != signal.Confirmed {
		ev.log.Debug("dialog finished without confirmation", "participant", req.ParticipantID, "signal", req.Kind, "state", state, "err", d.Err())
		return
	}
	if ev.closed {
		ev.log.Debug("dialog result dropped", "participant", req.ParticipantID, "signal", req.Kind, "err", ErrStaleEvent)
		return
	}
	if ev.rec.Phase == domain.PhaseActive {
		c.notify(ev, req.ParticipantID, fmt.Sprintf(noticeSignupOver, c.cfg.Label(req.Kind)))
		return
	}
	c.commitLocked(ev, req.Kind, req.ParticipantID)
}

// commitLocked rechecks the cap and appends the signal. The aggregator
// entry is rolled back if the write fails.
func (c *Coordinator) commitLocked(ev *event, kind, participantID string) {
	switch ev.agg.TryAccept(kind, participantID) {
	case signal.Duplicate, signal.Uncapped:
		return
	case signal.Full:
		c.metrics.signalsRejected.WithLabelValues(kind, "too_slow").Inc()
		c.notify(ev, participantID, fmt.Sprintf(noticeTooSlow, c.cfg.Label(kind)))
		return
	}
	next := ev.rec.Clone()
	next.Signals = append(next.Signals, domain.Signal{Kind: kind, ParticipantID: participantID, AcceptedAt: c.clock.Now().UTC()})
	rule := c.cfg.Signals[kind]
	if rule.EarlyAccess && !slices.Contains(next.GraceParticipants, participantID) {
		next.GraceParticipants = append(next.GraceParticipants, participantID)
	}
	if err := c.persist(c.ctx, ev, next, "commit signal"); err != nil {
		ev.agg.Remove(kind, participantID)
		c.notify(ev, participantID, fmt.Sprintf(noticeTryAgain, c.cfg.Label(kind)))
		return
	}
	c.metrics.signalsAccepted.WithLabelValues(kind).Inc()
	ev.log.Info("signal accepted", "participant", participantID, "signal", kind)
	c.notify(ev, participantID, fmt.Sprintf(noticeConfirmed, c.cfg.Label(kind)))
	if rule.RevealsLocation && ev.rec.Location != "" {
		c.notify(ev, participantID, c.renderLocation(ev.rec))
	}
	if ev.rec.Phase == domain.PhaseGrace && rule.EarlyAccess {
		c.admitLocked(c.ctx, ev, participantID)
	}
	c.refreshLocked(ev, ev.timer.Remaining())
}

// admitLocked moves a participant into the area during grace. Early-access
// holders only need a free seat; everyone else must also leave room for
// early-access holders not yet inside.
func (c *Coordinator) admitLocked(ctx context.Context, ev *event, participantID string) bool {
	rec := ev.rec
	present, err := c.surface.AreaParticipants(ctx, rec.AreaID)
	if err != nil {
		ev.log.Warn("read area participants", "err", err)
		return false
	}
	if slices.Contains(present, participantID) {
		return true
	}
	reserved := 0
	for _, id := range rec.GraceParticipants {
		if id != participantID && !slices.Contains(present, id) {
			reserved++
		}
	}
	ceiling := c.cfg.Raid.AreaCeiling
	early := rec.IsGraceParticipant(participantID)
	allowed := ceiling <= 0 || len(present) < ceiling
	if allowed && !early && ceiling > 0 {
		allowed = len(present)+reserved < ceiling
	}
	if !allowed {
		c.metrics.signalsRejected.WithLabelValues(c.cfg.Raid.AdmissionSignal, "area_full").Inc()
		c.notify(ev, participantID, noticeAreaFull)
		return false
	}
	if err := c.bestEffort(ev, "move participant", func() error {
		return c.surface.MoveParticipant(ctx, participantID, rec.AreaID)
	}); err != nil {
		return false
	}
	next := rec.Clone()
	next.Participants = append(slices.Clone(present), participantID)
	_ = c.persist(ctx, ev, next, "admit participant")
	ev.log.Info("participant admitted", "participant", participantID, "early_access", early)
	if rec.Location != "" {
		c.notify(ev, participantID, c.renderLocation(rec))
	}
	return true
}

// refreshLocked redraws the signup and control messages.
func (c *Coordinator) refreshLocked(ev *event, remaining time.Duration) {
	rec := ev.rec
	_ = c.bestEffort(ev, "edit signup", func() error {
		return c.surface.EditMessage(c.ctx, rec.MessageRef, c.renderSignup(rec, remaining))
	})
	if !rec.ControlRef.IsZero() {
		_ = c.bestEffort(ev, "edit control", func() error {
			return c.surface.EditMessage(c.ctx, rec.ControlRef, c.renderControl(rec))
		})
	}
}
