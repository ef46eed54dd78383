package raid

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"

	"raidline/internal/domain"
)

type StartRaidRequest struct {
	GuildID          string   `json:"guild_id"`
	AreaID           string   `json:"area_id"`
	ChannelID        string   `json:"channel_id"`
	ControlChannelID string   `json:"control_channel_id,omitempty"`
	LeaderID         string   `json:"leader_id"`
	Dungeon          string   `json:"dungeon"`
	Location         string   `json:"location,omitempty"`
	SectionID        string   `json:"section_id,omitempty"`
	Deny             []string `json:"deny,omitempty"`
}

type StartHeadcountRequest struct {
	GuildID          string `json:"guild_id"`
	ChannelID        string `json:"channel_id"`
	ControlChannelID string `json:"control_channel_id,omitempty"`
	LeaderID         string `json:"leader_id"`
	Dungeon          string `json:"dungeon"`
	SectionID        string `json:"section_id,omitempty"`
}

// StartRaid opens signup for a raid keyed by its area.
func (c *Coordinator) StartRaid(ctx context.Context, req StartRaidRequest) (domain.EventRecord, error) {
	if req.GuildID == "" || req.AreaID == "" || req.ChannelID == "" || req.LeaderID == "" {
		return domain.EventRecord{}, fmt.Errorf("%w: guild_id, area_id, channel_id and leader_id required", ErrInvalidRequest)
	}
	if _, ok := c.cfg.Dungeons[req.Dungeon]; !ok {
		return domain.EventRecord{}, fmt.Errorf("%w: %s", ErrUnknownDungeon, req.Dungeon)
	}
	if err := c.ensureAbsent(ctx, req.GuildID, req.AreaID); err != nil {
		return domain.EventRecord{}, err
	}

	now := c.clock.Now().UTC()
	ev := c.newEvent(domain.EventRecord{
		ID:             req.AreaID,
		RunID:          uuid.NewString(),
		GuildID:        req.GuildID,
		Kind:           domain.KindRaid,
		Phase:          domain.PhaseSignup,
		Dungeon:        req.Dungeon,
		Location:       req.Location,
		SectionID:      req.SectionID,
		StartedBy:      req.LeaderID,
		StartedAt:      now,
		PhaseStartedAt: now,
		PhaseDuration:  c.cfg.Raid.SignupDuration,
		SignalCaps:     c.planner.SignalCaps(req.Dungeon, req.Deny),
		AreaID:         req.AreaID,
		ChannelID:      req.ChannelID,
	})
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if !c.register(ev) {
		ev.cancel()
		return domain.EventRecord{}, ErrEventExists
	}

	rec := ev.rec.Clone()
	if err := c.surface.LockArea(ctx, rec.AreaID, false); err != nil {
		c.teardownLocked(ev)
		return domain.EventRecord{}, &SurfaceError{Op: "unlock area", Err: err}
	}
	if c.cfg.Raid.AreaCeiling > 0 {
		_ = c.bestEffort(ev, "set area capacity", func() error {
			return c.surface.SetAreaCapacity(ctx, rec.AreaID, c.cfg.Raid.AreaCeiling)
		})
	}
	if err := c.openSurfacesLocked(ctx, ev, &rec, req.ControlChannelID, c.reactionKinds(req.Dungeon, req.Deny)); err != nil {
		_ = c.surface.LockArea(ctx, rec.AreaID, true)
		c.teardownLocked(ev)
		return domain.EventRecord{}, err
	}
	if err := c.persist(ctx, ev, rec, "start raid"); err != nil {
		c.abandonLocked(ctx, ev, rec)
		return domain.EventRecord{}, err
	}

	ev.timer.Start(rec.PhaseDuration, func() { c.expire(ev) })
	c.subscribeLocked(ev)
	c.metrics.eventsStarted.WithLabelValues(string(rec.Kind)).Inc()
	ev.log.Info("raid started", "dungeon", rec.Dungeon, "leader", rec.StartedBy, "caps", rec.SignalCaps)
	return ev.rec.Clone(), nil
}

// StartHeadcount posts a headcount message; the message id becomes the event id.
func (c *Coordinator) StartHeadcount(ctx context.Context, req StartHeadcountRequest) (domain.EventRecord, error) {
	if req.GuildID == "" || req.ChannelID == "" || req.LeaderID == "" {
		return domain.EventRecord{}, fmt.Errorf("%w: guild_id, channel_id and leader_id required", ErrInvalidRequest)
	}
	if _, ok := c.cfg.Dungeons[req.Dungeon]; !ok {
		return domain.EventRecord{}, fmt.Errorf("%w: %s", ErrUnknownDungeon, req.Dungeon)
	}

	now := c.clock.Now().UTC()
	rec := domain.EventRecord{
		RunID:          uuid.NewString(),
		GuildID:        req.GuildID,
		Kind:           domain.KindHeadcount,
		Phase:          domain.PhaseSignup,
		Dungeon:        req.Dungeon,
		SectionID:      req.SectionID,
		StartedBy:      req.LeaderID,
		StartedAt:      now,
		PhaseStartedAt: now,
		PhaseDuration:  c.cfg.Raid.HeadcountDuration,
		SignalCaps:     map[string]int{},
		ChannelID:      req.ChannelID,
	}
	ref, err := c.surface.SendMessage(ctx, req.ChannelID, c.renderSignup(rec, rec.PhaseDuration))
	if err != nil {
		return domain.EventRecord{}, &SurfaceError{Op: "send headcount", Err: err}
	}
	rec.ID = ref.MessageID
	rec.MessageRef = ref

	ev := c.newEvent(rec)
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if !c.register(ev) {
		ev.cancel()
		return domain.EventRecord{}, ErrEventExists
	}
	for _, kind := range c.reactionKinds(req.Dungeon, nil) {
		_ = c.bestEffort(ev, "add reaction", func() error { return c.surface.AddReaction(ctx, ref, kind) })
	}
	if req.ControlChannelID != "" {
		if ctrl, err := c.surface.SendMessage(ctx, req.ControlChannelID, c.renderControl(rec)); err == nil {
			rec.ControlRef = ctrl
		} else {
			ev.log.Warn("send control message", "err", err)
		}
	}
	if err := c.persist(ctx, ev, rec, "start headcount"); err != nil {
		c.abandonLocked(ctx, ev, rec)
		return domain.EventRecord{}, err
	}

	ev.timer.Start(rec.PhaseDuration, func() { c.expire(ev) })
	c.metrics.eventsStarted.WithLabelValues(string(rec.Kind)).Inc()
	ev.log.Info("headcount started", "dungeon", rec.Dungeon, "leader", rec.StartedBy)
	return ev.rec.Clone(), nil
}

func (c *Coordinator) ensureAbsent(ctx context.Context, guildID, eventID string) error {
	if _, ok := c.lookup(guildID, eventID); ok {
		return ErrEventExists
	}
	existing, err := c.store.GetEventRecord(ctx, guildID, eventID)
	switch {
	case isNotFound(err):
		return nil
	case err != nil:
		return &PersistenceError{Op: "read event record", Err: err}
	case existing.Phase != domain.PhaseClosed:
		return ErrEventExists
	}
	return nil
}

// openSurfacesLocked posts the signup and control messages of a raid.
func (c *Coordinator) openSurfacesLocked(ctx context.Context, ev *event, rec *domain.EventRecord, controlChannel string, kinds []string) error {
	ref, err := c.surface.SendMessage(ctx, rec.ChannelID, c.renderSignup(*rec, rec.PhaseDuration))
	if err != nil {
		return &SurfaceError{Op: "send signup", Err: err}
	}
	rec.MessageRef = ref
	for _, kind := range kinds {
		_ = c.bestEffort(ev, "add reaction", func() error { return c.surface.AddReaction(ctx, ref, kind) })
	}
	if controlChannel != "" {
		ctrl, err := c.surface.SendMessage(ctx, controlChannel, c.renderControl(*rec))
		if err != nil {
			ev.log.Warn("send control message", "err", err)
		} else {
			rec.ControlRef = ctrl
		}
	}
	return nil
}

// abandonLocked undoes a start whose first write failed.
func (c *Coordinator) abandonLocked(ctx context.Context, ev *event, rec domain.EventRecord) {
	_ = c.bestEffort(ev, "edit signup", func() error {
		return c.surface.EditMessage(ctx, rec.MessageRef, "This event could not be started. Please try again.")
	})
	if rec.AreaID != "" {
		_ = c.bestEffort(ev, "lock area", func() error { return c.surface.LockArea(ctx, rec.AreaID, true) })
	}
	c.teardownLocked(ev)
}

// reactionKinds lists the reactions offered on a signup message.
func (c *Coordinator) reactionKinds(dungeon string, deny []string) []string {
	var kinds []string
	if d, ok := c.cfg.Dungeons[dungeon]; ok && len(d.Signals) > 0 {
		kinds = slices.Clone(d.Signals)
	} else {
		for kind := range c.cfg.Signals {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
	}
	return slices.DeleteFunc(kinds, func(k string) bool {
		return slices.Contains(deny, k) && k != c.cfg.Raid.AdmissionSignal
	})
}

func (c *Coordinator) subscribeLocked(ev *event) {
	ch, err := c.surface.SubscribeReactions(ev.ctx, ev.rec.MessageRef)
	if err != nil {
		ev.log.Warn("subscribe reactions", "err", err)
		return
	}
	c.loops.Add(1)
	go c.intake(ev, ch)
}

func (c *Coordinator) intake(ev *event, ch <-chan ReactionEvent) {
	defer c.loops.Done()
	for {
		select {
		case <-ev.ctx.Done():
			return
		case re, ok := <-ch:
			if !ok {
				return
			}
			c.handleReaction(ev, re)
		}
	}
}
