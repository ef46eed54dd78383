package raid

import (
	"context"

	"raidline/internal/domain"
)

// ReactionEvent is one reaction change on an event's signup message.
type ReactionEvent struct {
	MessageID     string `json:"message_id"`
	Kind          string `json:"kind"`
	ParticipantID string `json:"participant_id"`
	Removed       bool   `json:"removed,omitempty"`
}

// Surface is the chat platform as seen by the coordinator. Calls are best
// effort; implementations wrap ErrTargetGone when the message, area or
// participant no longer exists.
type Surface interface {
	SendMessage(ctx context.Context, channelID, content string) (domain.MessageRef, error)
	EditMessage(ctx context.Context, ref domain.MessageRef, content string) error
	AddReaction(ctx context.Context, ref domain.MessageRef, kind string) error
	RemoveReaction(ctx context.Context, ref domain.MessageRef, kind, participantID string) error
	// SubscribeReactions streams reaction changes until ctx is done.
	SubscribeReactions(ctx context.Context, ref domain.MessageRef) (<-chan ReactionEvent, error)
	// ListReactions returns participants per reaction kind as currently shown.
	ListReactions(ctx context.Context, ref domain.MessageRef) (map[string][]string, error)
	SetAreaCapacity(ctx context.Context, areaID string, capacity int) error
	LockArea(ctx context.Context, areaID string, locked bool) error
	MoveParticipant(ctx context.Context, participantID, areaID string) error
	AreaParticipants(ctx context.Context, areaID string) ([]string, error)
	SendDirect(ctx context.Context, participantID, content string) error
}

// Store persists event records and participation credits. Every call is
// safe to retry.
type Store interface {
	UpsertEventRecord(ctx context.Context, rec domain.EventRecord) error
	GetEventRecord(ctx context.Context, guildID, eventID string) (domain.EventRecord, error)
	DeleteEventRecord(ctx context.Context, guildID, eventID string) error
	ListOpenEventRecords(ctx context.Context, guildID string) ([]domain.EventRecord, error)
	ListOpenGuilds(ctx context.Context) ([]string, error)
	IncrementParticipationCredit(ctx context.Context, grant domain.CreditGrant) (bool, error)
}

type Authorizer interface {
	IsPrivileged(ctx context.Context, participantID string, ec domain.EventContext) (bool, error)
	// Require returns an auth.ForbiddenError when the participant may not
	// run ec.Action.
	Require(ctx context.Context, participantID string, ec domain.EventContext) error
}
