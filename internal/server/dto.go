package server

import (
	"raidline/internal/domain"
	"raidline/internal/raid"
)

// Request payloads

type StartRaidRequest struct {
	AreaID           string   `json:"area_id" minLength:"1"`
	ChannelID        string   `json:"channel_id" minLength:"1"`
	ControlChannelID string   `json:"control_channel_id,omitempty"`
	LeaderID         string   `json:"leader_id" minLength:"1"`
	Dungeon          string   `json:"dungeon" minLength:"1"`
	Location         string   `json:"location,omitempty"`
	SectionID        string   `json:"section_id,omitempty"`
	Deny             []string `json:"deny,omitempty" doc:"Signal kinds left off this run"`
}

func (r StartRaidRequest) toRaid(guildID string) raid.StartRaidRequest {
	return raid.StartRaidRequest{
		GuildID:          guildID,
		AreaID:           r.AreaID,
		ChannelID:        r.ChannelID,
		ControlChannelID: r.ControlChannelID,
		LeaderID:         r.LeaderID,
		Dungeon:          r.Dungeon,
		Location:         r.Location,
		SectionID:        r.SectionID,
		Deny:             r.Deny,
	}
}

type StartHeadcountRequest struct {
	ChannelID        string `json:"channel_id" minLength:"1"`
	ControlChannelID string `json:"control_channel_id,omitempty"`
	LeaderID         string `json:"leader_id" minLength:"1"`
	Dungeon          string `json:"dungeon" minLength:"1"`
	SectionID        string `json:"section_id,omitempty"`
}

func (r StartHeadcountRequest) toRaid(guildID string) raid.StartHeadcountRequest {
	return raid.StartHeadcountRequest{
		GuildID:          guildID,
		ChannelID:        r.ChannelID,
		ControlChannelID: r.ControlChannelID,
		LeaderID:         r.LeaderID,
		Dungeon:          r.Dungeon,
		SectionID:        r.SectionID,
	}
}

type ControlRequest struct {
	ActorID string `json:"actor_id" minLength:"1" doc:"Participant running the action"`
}

type LocationRequest struct {
	ActorID  string `json:"actor_id" minLength:"1"`
	Location string `json:"location" minLength:"1"`
}

type ReactionRequest struct {
	MessageID     string `json:"message_id" minLength:"1"`
	Kind          string `json:"kind" minLength:"1"`
	ParticipantID string `json:"participant_id" minLength:"1"`
	Removed       bool   `json:"removed,omitempty"`
}

type DialogAnswerRequest struct {
	Accept bool `json:"accept"`
}

type AreaDeletedRequest struct {
	GuildID   string   `json:"guild_id" minLength:"1"`
	AreaID    string   `json:"area_id" minLength:"1"`
	LastKnown []string `json:"last_known,omitempty" doc:"Participants in the area right before it was removed"`
}

type MessageDeletedRequest struct {
	GuildID   string `json:"guild_id" minLength:"1"`
	MessageID string `json:"message_id" minLength:"1"`
}

type RoleGrantRequest struct {
	ParticipantID string `json:"participant_id" minLength:"1"`
	Role          string `json:"role" minLength:"1"`
	ActorID       string `json:"actor_id,omitempty"`
}

// Response payloads

type EventList struct {
	Items []domain.EventRecord `json:"items"`
}

type RosterResponse struct {
	EventID   string              `json:"event_id"`
	Reactions map[string][]string `json:"reactions"`
	Signals   map[string][]string `json:"signals"`
}

type ReactionAccepted struct {
	Delivered int `json:"delivered"`
}

type CreditList struct {
	Items []domain.Credit `json:"items"`
}

type JournalPage struct {
	Items  []domain.JournalEntry `json:"items"`
	NextID int64                 `json:"next_id,omitempty"`
}

type RoleList struct {
	Items []domain.RoleGrant `json:"items"`
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
