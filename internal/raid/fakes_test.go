package raid

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"raidline/internal/domain"
	"raidline/internal/repo"
	"raidline/internal/signal"
)

type fakeSurface struct {
	mu        sync.Mutex
	seq       int
	messages  map[string]string
	gone      map[string]bool
	reactions map[string]map[string][]string
	areas     map[string][]string
	goneAreas map[string]bool
	locked    map[string]bool
	capacity  map[string]int
	failMove  map[string]bool
	dms       map[string][]string
	subs      map[string]chan ReactionEvent
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		messages:  make(map[string]string),
		gone:      make(map[string]bool),
		reactions: make(map[string]map[string][]string),
		areas:     make(map[string][]string),
		goneAreas: make(map[string]bool),
		locked:    make(map[string]bool),
		capacity:  make(map[string]int),
		failMove:  make(map[string]bool),
		dms:       make(map[string][]string),
		subs:      make(map[string]chan ReactionEvent),
	}
}

func (s *fakeSurface) SendMessage(ctx context.Context, channelID, content string) (domain.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("m%d", s.seq)
	s.messages[id] = content
	return domain.MessageRef{ChannelID: channelID, MessageID: id}, nil
}

func (s *fakeSurface) EditMessage(ctx context.Context, ref domain.MessageRef, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone[ref.MessageID] {
		return fmt.Errorf("message %s: %w", ref.MessageID, ErrTargetGone)
	}
	s.messages[ref.MessageID] = content
	return nil
}

func (s *fakeSurface) AddReaction(ctx context.Context, ref domain.MessageRef, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reactions[ref.MessageID] == nil {
		s.reactions[ref.MessageID] = make(map[string][]string)
	}
	if _, ok := s.reactions[ref.MessageID][kind]; !ok {
		s.reactions[ref.MessageID][kind] = []string{}
	}
	return nil
}

func (s *fakeSurface) RemoveReaction(ctx context.Context, ref domain.MessageRef, kind, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byKind := s.reactions[ref.MessageID]; byKind != nil {
		byKind[kind] = slices.DeleteFunc(byKind[kind], func(id string) bool { return id == participantID })
	}
	return nil
}

func (s *fakeSurface) SubscribeReactions(ctx context.Context, ref domain.MessageRef) (<-chan ReactionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan ReactionEvent, 16)
	s.subs[ref.MessageID] = ch
	return ch, nil
}

func (s *fakeSurface) ListReactions(ctx context.Context, ref domain.MessageRef) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone[ref.MessageID] {
		return nil, ErrTargetGone
	}
	out := make(map[string][]string)
	for kind, ids := range s.reactions[ref.MessageID] {
		out[kind] = slices.Clone(ids)
	}
	return out, nil
}

func (s *fakeSurface) SetAreaCapacity(ctx context.Context, areaID string, capacity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goneAreas[areaID] {
		return ErrTargetGone
	}
	s.capacity[areaID] = capacity
	return nil
}

func (s *fakeSurface) LockArea(ctx context.Context, areaID string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goneAreas[areaID] {
		return ErrTargetGone
	}
	s.locked[areaID] = locked
	return nil
}

func (s *fakeSurface) MoveParticipant(ctx context.Context, participantID, areaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goneAreas[areaID] {
		return ErrTargetGone
	}
	if s.failMove[participantID] {
		return errors.New("participant not connected")
	}
	s.areas[areaID] = append(s.areas[areaID], participantID)
	return nil
}

func (s *fakeSurface) AreaParticipants(ctx context.Context, areaID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goneAreas[areaID] {
		return nil, fmt.Errorf("area %s: %w", areaID, ErrTargetGone)
	}
	return slices.Clone(s.areas[areaID]), nil
}

func (s *fakeSurface) SendDirect(ctx context.Context, participantID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dms[participantID] = append(s.dms[participantID], content)
	return nil
}

func (s *fakeSurface) setArea(areaID string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.areas[areaID] = ids
}

func (s *fakeSurface) react(messageID, kind string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reactions[messageID] == nil {
		s.reactions[messageID] = make(map[string][]string)
	}
	s.reactions[messageID][kind] = append(s.reactions[messageID][kind], ids...)
}

func (s *fakeSurface) message(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id]
}

func (s *fakeSurface) dmsFor(participantID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.dms[participantID])
}

func (s *fakeSurface) countDMs(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msgs := range s.dms {
		for _, m := range msgs {
			if strings.Contains(m, substr) {
				n++
			}
		}
	}
	return n
}

func (s *fakeSurface) isLocked(areaID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked[areaID]
}

func (s *fakeSurface) markGone(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gone[messageID] = true
}

func (s *fakeSurface) removeArea(areaID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goneAreas[areaID] = true
}

func (s *fakeSurface) subscription(messageID string) chan ReactionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[messageID]
}

// flakyStore fails the next failUpserts writes.
type flakyStore struct {
	repo.Repo
	failUpserts atomic.Int32
}

func (s *flakyStore) UpsertEventRecord(ctx context.Context, rec domain.EventRecord) error {
	if s.failUpserts.Load() > 0 {
		s.failUpserts.Add(-1)
		return errors.New("database is locked")
	}
	return s.Repo.UpsertEventRecord(ctx, rec)
}

// gatedPrompter confirms once the participant's gate is closed.
type gatedPrompter struct {
	started   chan string
	gates     map[string]chan struct{}
	shared    chan struct{}
	ignoreCtx bool
}

func newGatedPrompter(ids ...string) *gatedPrompter {
	p := &gatedPrompter{
		started: make(chan string, 128),
		gates:   make(map[string]chan struct{}),
		shared:  make(chan struct{}),
	}
	for _, id := range ids {
		p.gates[id] = make(chan struct{})
	}
	return p
}

func (p *gatedPrompter) gate(id string) chan struct{} {
	if g, ok := p.gates[id]; ok {
		return g
	}
	return p.shared
}

func (p *gatedPrompter) release(id string) { close(p.gates[id]) }

func (p *gatedPrompter) releaseAll() { close(p.shared) }

func (p *gatedPrompter) Confirm(ctx context.Context, req signal.DialogRequest) (bool, error) {
	p.started <- req.ParticipantID
	if p.ignoreCtx {
		<-p.gate(req.ParticipantID)
		return true, nil
	}
	select {
	case <-p.gate(req.ParticipantID):
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *gatedPrompter) waitStarted(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d dialogs started", i, n)
		}
	}
}

type promptFunc func(ctx context.Context, req signal.DialogRequest) (bool, error)

func (f promptFunc) Confirm(ctx context.Context, req signal.DialogRequest) (bool, error) {
	return f(ctx, req)
}

func confirmAll() signal.Prompter {
	return promptFunc(func(context.Context, signal.DialogRequest) (bool, error) { return true, nil })
}
