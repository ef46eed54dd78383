package raid

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"raidline/internal/domain"
)

// End finishes the current phase early: signup moves on as if its timer
// fired, grace becomes active, an active raid or a headcount closes as
// completed. Ending an event that is gone is a no-op.
func (c *Coordinator) End(ctx context.Context, guildID, eventID, actorID string) error {
	ev, ok := c.lookup(guildID, eventID)
	if !ok {
		return nil
	}
	if err := c.authorize(ctx, ev, actorID, "end"); err != nil {
		return err
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.closed {
		return nil
	}
	if ev.rec.Kind == domain.KindHeadcount || ev.rec.Phase == domain.PhaseActive {
		return c.closeLocked(ctx, ev, domain.OutcomeCompleted, nil, actorID)
	}
	return c.advanceLocked(ctx, ev, actorID)
}

// Abort closes the event without credits. Aborting an event that is gone
// is a no-op.
func (c *Coordinator) Abort(ctx context.Context, guildID, eventID, actorID string) error {
	ev, ok := c.lookup(guildID, eventID)
	if !ok {
		return nil
	}
	if err := c.authorize(ctx, ev, actorID, "abort"); err != nil {
		return err
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.closed {
		return nil
	}
	return c.closeLocked(ctx, ev, domain.OutcomeAborted, nil, actorID)
}

// ChangeLocation replaces the location payload and sends it again to
// everyone it was revealed to.
func (c *Coordinator) ChangeLocation(ctx context.Context, guildID, eventID, actorID, location string) (domain.EventRecord, error) {
	ev, ok := c.lookup(guildID, eventID)
	if !ok {
		return domain.EventRecord{}, ErrStaleEvent
	}
	if err := c.authorize(ctx, ev, actorID, "change location"); err != nil {
		return domain.EventRecord{}, err
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.closed || ev.rec.Phase == domain.PhaseClosed {
		return domain.EventRecord{}, ErrStaleEvent
	}
	if ev.rec.Kind != domain.KindRaid {
		return domain.EventRecord{}, fmt.Errorf("%w: headcounts have no location", ErrInvalidRequest)
	}
	next := ev.rec.Clone()
	next.Location = location
	if err := c.persist(ctx, ev, next, "change location"); err != nil {
		return domain.EventRecord{}, err
	}
	ev.log.Info("location changed", "by", actorID)
	if location != "" {
		for _, id := range c.revealedTo(ev.rec) {
			c.notify(ev, id, c.renderLocation(ev.rec))
		}
	}
	c.refreshLocked(ev, ev.timer.Remaining())
	return ev.rec.Clone(), nil
}

func (c *Coordinator) revealedTo(rec domain.EventRecord) []string {
	var ids []string
	for _, kind := range sortedKinds(rec.SignalCaps) {
		if !c.cfg.Signals[kind].RevealsLocation {
			continue
		}
		for _, id := range rec.Holders(kind) {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	for _, id := range rec.GraceParticipants {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// HandleAreaDeleted reacts to the removal of a raid's area. During signup
// the raid is aborted; later phases end as completed and credit lastKnown,
// or the last persisted participant snapshot when lastKnown is nil.
func (c *Coordinator) HandleAreaDeleted(ctx context.Context, guildID, areaID string, lastKnown []string) error {
	ev := c.find(guildID, func(r domain.EventRecord) bool {
		return r.Kind == domain.KindRaid && r.AreaID == areaID
	})
	if ev == nil {
		return nil
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.closed {
		return nil
	}
	if ev.rec.Phase == domain.PhaseSignup {
		return c.closeLocked(ctx, ev, domain.OutcomeAborted, nil, "area deleted")
	}
	if lastKnown == nil {
		lastKnown = slices.Clone(ev.rec.Participants)
		if lastKnown == nil {
			lastKnown = []string{}
		}
	}
	return c.closeLocked(ctx, ev, domain.OutcomeCompleted, lastKnown, "area deleted")
}

// HandleMessageDeleted drops the event whose signup message was deleted.
func (c *Coordinator) HandleMessageDeleted(ctx context.Context, guildID, messageID string) error {
	ev := c.find(guildID, func(r domain.EventRecord) bool { return r.MessageRef.MessageID == messageID })
	if ev == nil {
		return nil
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.closed {
		return nil
	}
	c.resolveLocked(ctx, ev, "signup message deleted")
	return nil
}

// Resume rebuilds in-memory state for every open record, one goroutine per
// guild. Timers are re-armed for the time left; overdue events advance
// immediately. It returns how many events were taken over.
func (c *Coordinator) Resume(ctx context.Context) (int, error) {
	guilds, err := c.store.ListOpenGuilds(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open guilds: %w", err)
	}
	var resumed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, guild := range guilds {
		g.Go(func() error {
			recs, err := c.store.ListOpenEventRecords(gctx, guild)
			if err != nil {
				return fmt.Errorf("list open events of guild %s: %w", guild, err)
			}
			for _, rec := range recs {
				if c.rehydrate(gctx, rec) {
					resumed.Add(1)
				}
			}
			return nil
		})
	}
	err = g.Wait()
	return int(resumed.Load()), err
}

func (c *Coordinator) rehydrate(ctx context.Context, rec domain.EventRecord) bool {
	ev := c.newEvent(rec)
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if !c.register(ev) {
		ev.cancel()
		return false
	}
	if rec.Phase == domain.PhaseActive {
		ev.log.Info("resumed active event")
		return true
	}
	if rec.Kind == domain.KindRaid {
		c.subscribeLocked(ev)
	}
	remaining := rec.Deadline().Sub(c.clock.Now())
	if remaining > 0 {
		ev.timer.Start(remaining, func() { c.expire(ev) })
		ev.log.Info("resumed event", "phase", rec.Phase, "remaining", remaining)
		return true
	}
	ev.log.Info("resumed overdue event", "phase", rec.Phase, "overdue", -remaining)
	if err := c.advanceLocked(ctx, ev, "resume"); err != nil {
		if IsPersistence(err) && !ev.closed {
			ev.timer.Start(c.retry, func() { c.expire(ev) })
		}
		ev.log.Error("advance overdue event", "err", err)
	}
	return true
}
