// Package raid runs raid and headcount events from signup to close.
package raid

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"raidline/internal/clock"
	"raidline/internal/config"
	"raidline/internal/domain"
	"raidline/internal/planner"
	"raidline/internal/signal"
	"raidline/internal/timer"
)

const (
	defaultPersistRetry  = 15 * time.Second
	cleanupAttempts      = 3
	leaderCreditCategory = "led"
)

// Deps are the collaborators of a Coordinator. Clock, Logger and Metrics
// are optional.
type Deps struct {
	Config   *config.Config
	Surface  Surface
	Store    Store
	Auth     Authorizer
	Prompter signal.Prompter
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *Metrics
}

// Coordinator owns every in-flight event of the process. Mutations of one
// event are serialised by that event's mutex; events do not share locks.
type Coordinator struct {
	cfg      *config.Config
	planner  planner.Planner
	surface  Surface
	store    Store
	auth     Authorizer
	prompter signal.Prompter
	clock    clock.Clock
	log      *slog.Logger
	metrics  *Metrics
	retry    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	events map[eventKey]*event

	dialogs sync.WaitGroup
	loops   sync.WaitGroup
}

type eventKey struct {
	guild string
	id    string
}

// event is the in-memory side of one EventRecord. rec is always the last
// successfully persisted version.
type event struct {
	mu      sync.Mutex
	rec     domain.EventRecord
	agg     *signal.Aggregator
	timer   *timer.PhaseTimer
	ctx     context.Context
	cancel  context.CancelFunc
	pending map[string]struct{}
	closed  bool
	log     *slog.Logger
}

func New(d Deps) *Coordinator {
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	retry := d.Config.Raid.PersistRetry
	if retry <= 0 {
		retry = defaultPersistRetry
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      d.Config,
		planner:  d.Config.Planner(),
		surface:  d.Surface,
		store:    d.Store,
		auth:     d.Auth,
		prompter: d.Prompter,
		clock:    d.Clock,
		log:      d.Logger.With("component", "raid"),
		metrics:  d.Metrics,
		retry:    retry,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(map[eventKey]*event),
	}
}

func (c *Coordinator) newEvent(rec domain.EventRecord) *event {
	ctx, cancel := context.WithCancel(c.ctx)
	ev := &event{
		rec:     rec,
		agg:     signal.NewAggregator(rec.SignalCaps),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]struct{}),
		log:     c.log.With("guild_id", rec.GuildID, "event_id", rec.ID, "kind", string(rec.Kind)),
	}
	for _, s := range rec.Signals {
		ev.agg.TryAccept(s.Kind, s.ParticipantID)
	}
	ev.timer = timer.New(c.clock, timer.WithTicks(c.cfg.Raid.TickInterval, func(remaining time.Duration) {
		c.tick(ev, remaining)
	}))
	return ev
}

// register adds ev unless an event with the same key is already held.
func (c *Coordinator) register(ev *event) bool {
	key := eventKey{ev.rec.GuildID, ev.rec.ID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.events[key]; ok {
		return false
	}
	c.events[key] = ev
	c.metrics.activeEvents.WithLabelValues(string(ev.rec.Kind)).Inc()
	return true
}

func (c *Coordinator) unregister(ev *event) {
	key := eventKey{ev.rec.GuildID, ev.rec.ID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.events[key]; ok && cur == ev {
		delete(c.events, key)
		c.metrics.activeEvents.WithLabelValues(string(ev.rec.Kind)).Dec()
	}
}

func (c *Coordinator) lookup(guildID, eventID string) (*event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, ok := c.events[eventKey{guildID, eventID}]
	return ev, ok
}

func (c *Coordinator) find(guildID string, match func(domain.EventRecord) bool) *event {
	c.mu.RLock()
	candidates := make([]*event, 0, len(c.events))
	for key, ev := range c.events {
		if key.guild == guildID {
			candidates = append(candidates, ev)
		}
	}
	c.mu.RUnlock()
	for _, ev := range candidates {
		ev.mu.Lock()
		ok := !ev.closed && match(ev.rec)
		ev.mu.Unlock()
		if ok {
			return ev
		}
	}
	return nil
}

// Get returns a copy of the in-flight record.
func (c *Coordinator) Get(guildID, eventID string) (domain.EventRecord, bool) {
	ev, ok := c.lookup(guildID, eventID)
	if !ok {
		return domain.EventRecord{}, false
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.closed || ev.rec.Phase == "" {
		return domain.EventRecord{}, false
	}
	return ev.rec.Clone(), true
}

// List returns the in-flight records of a guild, oldest first. An empty
// guildID lists every guild.
func (c *Coordinator) List(guildID string) []domain.EventRecord {
	c.mu.RLock()
	evs := make([]*event, 0, len(c.events))
	for key, ev := range c.events {
		if guildID == "" || key.guild == guildID {
			evs = append(evs, ev)
		}
	}
	c.mu.RUnlock()
	out := make([]domain.EventRecord, 0, len(evs))
	for _, ev := range evs {
		ev.mu.Lock()
		if !ev.closed && ev.rec.Phase != "" {
			out = append(out, ev.rec.Clone())
		}
		ev.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Roster is the on-demand view of an event's reactions. Reactions holds
// every kind as currently shown on the signup message, Signals the
// confirmed holders of capped kinds.
type Roster struct {
	Reactions map[string][]string `json:"reactions"`
	Signals   map[string][]string `json:"signals"`
}

func (c *Coordinator) Roster(ctx context.Context, guildID, eventID string) (Roster, error) {
	ev, ok := c.lookup(guildID, eventID)
	if !ok {
		return Roster{}, domain.ErrNotFound
	}
	ev.mu.Lock()
	if ev.closed {
		ev.mu.Unlock()
		return Roster{}, domain.ErrNotFound
	}
	ref := ev.rec.MessageRef
	signals := ev.agg.Snapshot()
	ev.mu.Unlock()

	reactions, err := c.surface.ListReactions(ctx, ref)
	if err != nil {
		return Roster{}, &SurfaceError{Op: "list reactions", Err: err}
	}
	return Roster{Reactions: reactions, Signals: signals}, nil
}

// Shutdown stops timers, dialogs and intake loops. Records stay in the
// store so Resume can pick them up in the next process.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	evs := make([]*event, 0, len(c.events))
	for _, ev := range c.events {
		evs = append(evs, ev)
	}
	c.mu.Unlock()
	for _, ev := range evs {
		ev.timer.Cancel()
	}
	c.cancel()
	c.loops.Wait()
	c.dialogs.Wait()
}

// WaitIdle blocks until no confirmation dialog is running.
func (c *Coordinator) WaitIdle() {
	c.dialogs.Wait()
}

// teardownLocked drops the in-memory state of ev. Callers hold ev.mu.
func (c *Coordinator) teardownLocked(ev *event) {
	if ev.closed {
		return
	}
	ev.closed = true
	ev.timer.Cancel()
	ev.cancel()
	c.unregister(ev)
}

func (c *Coordinator) persist(ctx context.Context, ev *event, next domain.EventRecord, op string) error {
	next.UpdatedAt = c.clock.Now().UTC()
	if err := c.store.UpsertEventRecord(ctx, next); err != nil {
		ev.log.Error("persist event record", "op", op, "err", err)
		return &PersistenceError{Op: op, Err: err}
	}
	ev.rec = next
	return nil
}

// bestEffort runs a surface call, logging failures.
func (c *Coordinator) bestEffort(ev *event, op string, fn func() error) error {
	err := fn()
	if err != nil {
		ev.log.Warn("surface call failed", "op", op, "err", err)
	}
	return err
}

// cleanup retries a surface call a bounded number of times. A vanished
// target is not retried.
func (c *Coordinator) cleanup(ev *event, op string, fn func() error) {
	var err error
	for attempt := 1; attempt <= cleanupAttempts; attempt++ {
		if err = fn(); err == nil || IsTargetGone(err) {
			return
		}
	}
	ev.log.Warn("cleanup failed", "op", op, "attempts", cleanupAttempts, "err", err)
}

func (c *Coordinator) notify(ev *event, participantID, content string) {
	_ = c.bestEffort(ev, "send direct", func() error {
		return c.surface.SendDirect(c.ctx, participantID, content)
	})
}

func (c *Coordinator) authorize(ctx context.Context, ev *event, actorID, action string) error {
	ev.mu.Lock()
	ec := domain.EventContext{
		GuildID:   ev.rec.GuildID,
		EventID:   ev.rec.ID,
		Kind:      ev.rec.Kind,
		LeaderID:  ev.rec.StartedBy,
		SectionID: ev.rec.SectionID,
		Action:    action,
	}
	ev.mu.Unlock()
	if c.auth == nil {
		if actorID == ec.LeaderID {
			return nil
		}
		return forbidden(actorID, action)
	}
	return c.auth.Require(ctx, actorID, ec)
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
