package domain

import (
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

type EventKind string

const (
	KindRaid      EventKind = "raid"
	KindHeadcount EventKind = "headcount"
)

type Phase string

const (
	PhaseSignup Phase = "signup"
	PhaseGrace  Phase = "grace"
	PhaseActive Phase = "active"
	PhaseClosed Phase = "closed"
)

var phaseRank = map[Phase]int{
	PhaseSignup: 0,
	PhaseGrace:  1,
	PhaseActive: 2,
	PhaseClosed: 3,
}

// Before reports whether p comes strictly before other in the lifecycle.
func (p Phase) Before(other Phase) bool {
	return phaseRank[p] < phaseRank[other]
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseRank[p]
	return ok
}

type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	// OutcomeResolved marks events whose backing surface disappeared.
	OutcomeResolved Outcome = "resolved"
)

// MessageRef locates a message on the chat surface.
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

func (m MessageRef) IsZero() bool { return m.MessageID == "" }

type Signal struct {
	Kind          string    `json:"kind"`
	ParticipantID string    `json:"participant_id"`
	AcceptedAt    time.Time `json:"accepted_at" format:"date-time"`
}

// EventRecord is the durable state of one raid or headcount. ID repeats
// when an area hosts another raid; RunID is unique per started event.
type EventRecord struct {
	ID                string         `json:"id"`
	RunID             string         `json:"run_id"`
	GuildID           string         `json:"guild_id"`
	Kind              EventKind      `json:"kind" enum:"raid,headcount"`
	Phase             Phase          `json:"phase" enum:"signup,grace,active,closed"`
	Outcome           Outcome        `json:"outcome,omitempty"`
	Dungeon           string         `json:"dungeon"`
	Location          string         `json:"location,omitempty"`
	SectionID         string         `json:"section_id,omitempty"`
	StartedBy         string         `json:"started_by"`
	StartedAt         time.Time      `json:"started_at" format:"date-time"`
	PhaseStartedAt    time.Time      `json:"phase_started_at" format:"date-time"`
	PhaseDuration     time.Duration  `json:"phase_duration"`
	SignalCaps        map[string]int `json:"signal_caps"`
	Signals           []Signal       `json:"signals"`
	GraceParticipants []string       `json:"grace_participants"`
	Participants      []string       `json:"participants"`
	AreaID            string         `json:"area_id,omitempty"`
	ChannelID         string         `json:"channel_id"`
	MessageRef        MessageRef     `json:"message_ref"`
	ControlRef        MessageRef     `json:"control_ref"`
	UpdatedAt         time.Time      `json:"updated_at" format:"date-time"`
}

// Deadline returns when the current phase's timer is due. Zero when the
// phase has no timed transition.
func (r EventRecord) Deadline() time.Time {
	if r.Phase != PhaseSignup && r.Phase != PhaseGrace {
		return time.Time{}
	}
	return r.PhaseStartedAt.Add(r.PhaseDuration)
}

func (r EventRecord) CountSignals(kind string) int {
	n := 0
	for _, s := range r.Signals {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func (r EventRecord) HasSignal(kind, participantID string) bool {
	for _, s := range r.Signals {
		if s.Kind == kind && s.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// Holders returns participants holding kind in acceptance order.
func (r EventRecord) Holders(kind string) []string {
	var out []string
	for _, s := range r.Signals {
		if s.Kind == kind {
			out = append(out, s.ParticipantID)
		}
	}
	return out
}

func (r EventRecord) IsGraceParticipant(participantID string) bool {
	return slices.Contains(r.GraceParticipants, participantID)
}

// Clone returns a deep copy so callers can stage mutations before a write.
func (r EventRecord) Clone() EventRecord {
	out := r
	if r.SignalCaps != nil {
		out.SignalCaps = make(map[string]int, len(r.SignalCaps))
		for k, v := range r.SignalCaps {
			out.SignalCaps[k] = v
		}
	}
	out.Signals = slices.Clone(r.Signals)
	out.GraceParticipants = slices.Clone(r.GraceParticipants)
	out.Participants = slices.Clone(r.Participants)
	return out
}

// EventContext is what the authorizer sees when a control action is requested.
type EventContext struct {
	GuildID   string
	EventID   string
	Kind      EventKind
	LeaderID  string
	SectionID string
	Action    string
}

// CreditGrant is one participation credit. Grants are keyed by
// (guild, event, run, participant, category) so replays are no-ops while a
// later raid in the same area still credits.
type CreditGrant struct {
	GuildID       string
	EventID       string
	RunID         string
	ParticipantID string
	Category      string
	Delta         int
}

type Credit struct {
	GuildID       string `json:"guild_id"`
	ParticipantID string `json:"participant_id"`
	Category      string `json:"category"`
	Count         int    `json:"count"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type JournalEntry struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	GuildID string `json:"guild_id"`
	EventID string `json:"event_id,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
	Payload string `json:"payload_json"`
}

type RoleGrant struct {
	GuildID       string `json:"guild_id"`
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
