package raid

import (
	"context"
	"slices"
	"time"

	"raidline/internal/domain"
)

const actorTimer = "timer"

// expire runs when an event's phase timer fires. Persistence failures are
// retried after the configured delay; the phase stays where it was.
func (c *Coordinator) expire(ev *event) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.closed {
		return
	}
	if err := c.advanceLocked(c.ctx, ev, actorTimer); err != nil {
		if IsPersistence(err) && !ev.closed {
			ev.log.Warn("phase advance failed, retrying", "retry_in", c.retry, "err", err)
			ev.timer.Start(c.retry, func() { c.expire(ev) })
			return
		}
		ev.log.Error("phase advance failed", "err", err)
	}
}

func (c *Coordinator) tick(ev *event, remaining time.Duration) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.closed || (ev.rec.Phase != domain.PhaseSignup && ev.rec.Phase != domain.PhaseGrace) {
		return
	}
	rec := ev.rec
	_ = c.bestEffort(ev, "tick", func() error {
		return c.surface.EditMessage(c.ctx, rec.MessageRef, c.renderSignup(rec, remaining))
	})
}

// advanceLocked moves the event to its next phase. The durable record is
// re-read first so a replay after a crash or a concurrent close is a no-op.
func (c *Coordinator) advanceLocked(ctx context.Context, ev *event, actor string) error {
	stored, err := c.store.GetEventRecord(ctx, ev.rec.GuildID, ev.rec.ID)
	switch {
	case isNotFound(err):
		c.resolveLocked(ctx, ev, "record missing")
		return nil
	case err != nil:
		return &PersistenceError{Op: "read event record", Err: err}
	case stored.Phase == domain.PhaseClosed:
		c.finalizeLocked(ctx, ev, stored)
		return nil
	}

	rec := ev.rec
	if err := c.surface.EditMessage(ctx, rec.MessageRef, c.renderSignup(rec, 0)); IsTargetGone(err) {
		c.resolveLocked(ctx, ev, "signup message gone")
		return nil
	}
	switch {
	case rec.Kind == domain.KindHeadcount:
		return c.closeLocked(ctx, ev, domain.OutcomeCompleted, nil, actor)
	case rec.Phase == domain.PhaseSignup:
		return c.endSignupLocked(ctx, ev, actor)
	case rec.Phase == domain.PhaseGrace:
		return c.startActiveLocked(ctx, ev, actor)
	}
	return nil
}

// endSignupLocked closes signup. With nobody in the area the raid is
// aborted; otherwise it enters grace, or goes straight to active when the
// planner grants no grace time.
func (c *Coordinator) endSignupLocked(ctx context.Context, ev *event, actor string) error {
	rec := ev.rec
	present, err := c.surface.AreaParticipants(ctx, rec.AreaID)
	if err != nil {
		ev.log.Info("area unavailable at end of signup", "err", err)
		c.resolveLocked(ctx, ev, "area unavailable")
		return nil
	}
	if len(present) == 0 {
		return c.closeLocked(ctx, ev, domain.OutcomeAborted, nil, actor)
	}

	grace := c.planner.GracePeriodDuration(len(present))
	next := rec.Clone()
	next.Participants = slices.Clone(present)
	next.PhaseStartedAt = c.clock.Now().UTC()
	next.Phase = domain.PhaseActive
	next.PhaseDuration = 0
	if grace > 0 {
		next.Phase = domain.PhaseGrace
		next.PhaseDuration = grace
	}
	if err := c.persist(ctx, ev, next, "enter "+string(next.Phase)); err != nil {
		return err
	}
	ev.timer.Cancel()
	c.transitioned(ev, rec.Phase, next.Phase, actor)
	_ = c.bestEffort(ev, "lock area", func() error { return c.surface.LockArea(ctx, rec.AreaID, true) })

	if next.Phase == domain.PhaseGrace {
		ev.timer.Start(grace, func() { c.expire(ev) })
		for _, id := range next.GraceParticipants {
			if !slices.Contains(present, id) {
				c.admitLocked(ctx, ev, id)
			}
		}
	}
	c.refreshLocked(ev, grace)
	return nil
}

func (c *Coordinator) startActiveLocked(ctx context.Context, ev *event, actor string) error {
	rec := ev.rec
	present, err := c.surface.AreaParticipants(ctx, rec.AreaID)
	switch {
	case IsTargetGone(err):
		c.resolveLocked(ctx, ev, "area gone")
		return nil
	case err != nil:
		ev.log.Warn("read area participants, keeping last snapshot", "err", err)
		present = rec.Participants
	}
	next := rec.Clone()
	next.Phase = domain.PhaseActive
	next.PhaseStartedAt = c.clock.Now().UTC()
	next.PhaseDuration = 0
	next.Participants = slices.Clone(present)
	if err := c.persist(ctx, ev, next, "enter active"); err != nil {
		return err
	}
	ev.timer.Cancel()
	c.transitioned(ev, rec.Phase, next.Phase, actor)
	c.refreshLocked(ev, 0)
	return nil
}

// closeLocked is the single termination path. lastKnown, when not nil,
// replaces the area lookup for the final participant list. Errors are
// logged; the in-memory teardown always happens.
func (c *Coordinator) closeLocked(ctx context.Context, ev *event, outcome domain.Outcome, lastKnown []string, actor string) error {
	ev.timer.Cancel()
	ev.cancel()

	stored, err := c.store.GetEventRecord(ctx, ev.rec.GuildID, ev.rec.ID)
	switch {
	case isNotFound(err):
		ev.log.Info("close skipped, record already removed")
		c.teardownLocked(ev)
		return nil
	case err != nil:
		ev.log.Warn("re-read before close failed, using cached record", "err", err)
	case stored.Phase == domain.PhaseClosed:
		c.finalizeLocked(ctx, ev, stored)
		return nil
	}

	rec := ev.rec
	closed := rec.Clone()
	closed.Phase = domain.PhaseClosed
	closed.Outcome = outcome
	closed.PhaseStartedAt = c.clock.Now().UTC()
	closed.PhaseDuration = 0
	if rec.Kind == domain.KindRaid && outcome == domain.OutcomeCompleted {
		if lastKnown != nil {
			closed.Participants = slices.Clone(lastKnown)
		} else if present, err := c.surface.AreaParticipants(ctx, rec.AreaID); err == nil {
			closed.Participants = present
		} else {
			ev.log.Warn("read area participants, crediting last snapshot", "err", err)
		}
	}
	if err := c.persist(ctx, ev, closed, "close"); err != nil {
		ev.rec = closed
	}
	c.transitioned(ev, rec.Phase, domain.PhaseClosed, actor)
	c.finalizeLocked(ctx, ev, closed)
	return nil
}

// finalizeLocked grants credits, redraws messages and removes the record.
// Credit grants are keyed per event so replays never double count.
func (c *Coordinator) finalizeLocked(ctx context.Context, ev *event, closed domain.EventRecord) {
	if closed.Kind == domain.KindRaid && closed.Outcome == domain.OutcomeCompleted {
		c.grantCreditsLocked(ctx, ev, closed)
	}
	var reactions map[string][]string
	if closed.Kind == domain.KindHeadcount {
		r, err := c.surface.ListReactions(ctx, closed.MessageRef)
		if err != nil {
			ev.log.Warn("read headcount reactions", "err", err)
		}
		reactions = r
	}
	c.cleanup(ev, "edit signup", func() error {
		return c.surface.EditMessage(ctx, closed.MessageRef, c.renderClosed(closed, reactions))
	})
	if !closed.ControlRef.IsZero() {
		c.cleanup(ev, "edit control", func() error {
			return c.surface.EditMessage(ctx, closed.ControlRef, c.renderControl(closed))
		})
	}
	if closed.Kind == domain.KindRaid && closed.Outcome == domain.OutcomeAborted {
		c.cleanup(ev, "lock area", func() error { return c.surface.LockArea(ctx, closed.AreaID, true) })
	}
	if err := c.store.DeleteEventRecord(ctx, closed.GuildID, closed.ID); err != nil {
		ev.log.Error("delete closed record", "err", err)
	}
	c.metrics.eventsClosed.WithLabelValues(string(closed.Kind), string(closed.Outcome)).Inc()
	ev.log.Info("event closed", "outcome", closed.Outcome, "participants", len(closed.Participants))
	c.teardownLocked(ev)
}

func (c *Coordinator) grantCreditsLocked(ctx context.Context, ev *event, closed domain.EventRecord) {
	category := c.planner.Category(closed.Dungeon)
	var grants []domain.CreditGrant
	seen := make(map[string]bool)
	for _, id := range closed.Participants {
		if seen[id] {
			continue
		}
		seen[id] = true
		grants = append(grants, domain.CreditGrant{ParticipantID: id, Category: category})
	}
	grants = append(grants, domain.CreditGrant{ParticipantID: closed.StartedBy, Category: leaderCreditCategory})
	for _, kind := range sortedKinds(closed.SignalCaps) {
		if cat := c.cfg.Signals[kind].CreditCategory; cat != "" {
			for _, id := range closed.Holders(kind) {
				grants = append(grants, domain.CreditGrant{ParticipantID: id, Category: cat})
			}
		}
	}
	for _, g := range grants {
		g.GuildID = closed.GuildID
		g.EventID = closed.ID
		g.RunID = closed.RunID
		g.Delta = 1
		applied, err := c.store.IncrementParticipationCredit(ctx, g)
		if err != nil {
			ev.log.Error("grant credit", "participant", g.ParticipantID, "category", g.Category, "err", err)
			continue
		}
		if applied {
			c.metrics.credits.WithLabelValues(g.Category).Inc()
		}
	}
}

// resolveLocked handles an event whose surface disappeared: nothing is
// credited or redrawn, the record is dropped.
func (c *Coordinator) resolveLocked(ctx context.Context, ev *event, reason string) {
	ev.log.Info("event resolved externally", "reason", reason, "phase", ev.rec.Phase)
	if err := c.store.DeleteEventRecord(ctx, ev.rec.GuildID, ev.rec.ID); err != nil {
		ev.log.Error("delete resolved record", "err", err)
	}
	c.metrics.eventsClosed.WithLabelValues(string(ev.rec.Kind), string(domain.OutcomeResolved)).Inc()
	c.teardownLocked(ev)
}

func (c *Coordinator) transitioned(ev *event, from, to domain.Phase, actor string) {
	c.metrics.transitions.WithLabelValues(string(from), string(to)).Inc()
	ev.log.Info("phase changed", "from", from, "to", to, "by", actor)
}
