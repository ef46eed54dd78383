package bridge

import (
	"context"
	"log/slog"
	"sync"

	"raidline/internal/raid"
)

const subscriberBuffer = 64

// Hub fans inbound reactions out to the intake loops watching a message.
type Hub struct {
	log  *slog.Logger
	mu   sync.Mutex
	subs map[string]map[chan raid.ReactionEvent]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, subs: make(map[string]map[chan raid.ReactionEvent]struct{})}
}

// Subscribe returns a channel of reactions on messageID. The channel is
// closed once ctx is done.
func (h *Hub) Subscribe(ctx context.Context, messageID string) <-chan raid.ReactionEvent {
	ch := make(chan raid.ReactionEvent, subscriberBuffer)
	h.mu.Lock()
	set := h.subs[messageID]
	if set == nil {
		set = make(map[chan raid.ReactionEvent]struct{})
		h.subs[messageID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[messageID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, messageID)
			}
		}
		close(ch)
	}()
	return ch
}

// Publish delivers re to every subscriber of its message and reports how
// many received it. A full subscriber drops the reaction.
func (h *Hub) Publish(re raid.ReactionEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for ch := range h.subs[re.MessageID] {
		select {
		case ch <- re:
			delivered++
		default:
			h.log.Warn("reaction dropped", "message_id", re.MessageID, "kind", re.Kind, "participant_id", re.ParticipantID)
		}
	}
	return delivered
}

// Watching reports whether anything is subscribed to messageID.
func (h *Hub) Watching(messageID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[messageID]) > 0
}
