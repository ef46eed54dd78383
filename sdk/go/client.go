package raidlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal raidline control API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v0.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

type Signal struct {
	Kind          string    `json:"kind"`
	ParticipantID string    `json:"participant_id"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// Event is an in-flight raid or headcount (partial).
type Event struct {
	ID                string         `json:"id"`
	RunID             string         `json:"run_id"`
	GuildID           string         `json:"guild_id"`
	Kind              string         `json:"kind"`
	Phase             string         `json:"phase"`
	Outcome           string         `json:"outcome,omitempty"`
	Dungeon           string         `json:"dungeon"`
	Location          string         `json:"location,omitempty"`
	StartedBy         string         `json:"started_by"`
	StartedAt         time.Time      `json:"started_at"`
	PhaseStartedAt    time.Time      `json:"phase_started_at"`
	PhaseDuration     time.Duration  `json:"phase_duration"`
	SignalCaps        map[string]int `json:"signal_caps"`
	Signals           []Signal       `json:"signals"`
	GraceParticipants []string       `json:"grace_participants"`
	Participants      []string       `json:"participants"`
	AreaID            string         `json:"area_id,omitempty"`
	MessageRef        MessageRef     `json:"message_ref"`
}

// Deadline is when the current phase ends on its own.
func (e Event) Deadline() time.Time { return e.PhaseStartedAt.Add(e.PhaseDuration) }

// ControlResult reports an event after a control action; Event is nil once
// it closed.
type ControlResult struct {
	Closed bool   `json:"closed"`
	Event  *Event `json:"event,omitempty"`
}

type Roster struct {
	EventID   string              `json:"event_id"`
	Reactions map[string][]string `json:"reactions"`
	Signals   map[string][]string `json:"signals"`
}

type Credit struct {
	GuildID       string `json:"guild_id"`
	ParticipantID string `json:"participant_id"`
	Category      string `json:"category"`
	Count         int    `json:"count"`
	UpdatedAt     string `json:"updated_at"`
}

type JournalEntry struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	GuildID string `json:"guild_id"`
	EventID string `json:"event_id,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
	Payload string `json:"payload_json"`
}

type JournalPage struct {
	Items  []JournalEntry `json:"items"`
	NextID int64          `json:"next_id,omitempty"`
}

type StartRaid struct {
	AreaID           string   `json:"area_id"`
	ChannelID        string   `json:"channel_id"`
	ControlChannelID string   `json:"control_channel_id,omitempty"`
	LeaderID         string   `json:"leader_id"`
	Dungeon          string   `json:"dungeon"`
	Location         string   `json:"location,omitempty"`
	SectionID        string   `json:"section_id,omitempty"`
	Deny             []string `json:"deny,omitempty"`
}

type StartHeadcount struct {
	ChannelID        string `json:"channel_id"`
	ControlChannelID string `json:"control_channel_id,omitempty"`
	LeaderID         string `json:"leader_id"`
	Dungeon          string `json:"dungeon"`
	SectionID        string `json:"section_id,omitempty"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Health pings the API.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// Events lists in-flight events; an empty guildID lists every guild.
func (c *Client) Events(ctx context.Context, guildID string) ([]Event, error) {
	endpoint := "events"
	if guildID != "" {
		endpoint = c.guildPath(guildID, "events")
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Event fetches one in-flight event.
func (c *Client) Event(ctx context.Context, guildID, eventID string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodGet, c.eventPath(guildID, eventID, ""), nil, &resp)
	return resp, err
}

// Roster returns current reactions and confirmed signals of an event.
func (c *Client) Roster(ctx context.Context, guildID, eventID string) (Roster, error) {
	var resp Roster
	err := c.do(ctx, http.MethodGet, c.eventPath(guildID, eventID, "roster"), nil, &resp)
	return resp, err
}

// StartRaid opens signup for a raid.
func (c *Client) StartRaid(ctx context.Context, guildID string, req StartRaid) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, c.guildPath(guildID, "raids"), req, &resp)
	return resp, err
}

// StartHeadcount posts a headcount.
func (c *Client) StartHeadcount(ctx context.Context, guildID string, req StartHeadcount) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, c.guildPath(guildID, "headcounts"), req, &resp)
	return resp, err
}

// End finishes the current phase of an event early.
func (c *Client) End(ctx context.Context, guildID, eventID, actorID string) (ControlResult, error) {
	var resp ControlResult
	body := map[string]string{"actor_id": actorID}
	err := c.do(ctx, http.MethodPost, c.eventPath(guildID, eventID, "end"), body, &resp)
	return resp, err
}

// Abort closes an event without credits.
func (c *Client) Abort(ctx context.Context, guildID, eventID, actorID string) (ControlResult, error) {
	var resp ControlResult
	body := map[string]string{"actor_id": actorID}
	err := c.do(ctx, http.MethodPost, c.eventPath(guildID, eventID, "abort"), body, &resp)
	return resp, err
}

// ChangeLocation replaces an event's location.
func (c *Client) ChangeLocation(ctx context.Context, guildID, eventID, actorID, location string) (Event, error) {
	var resp Event
	body := map[string]string{"actor_id": actorID, "location": location}
	err := c.do(ctx, http.MethodPut, c.eventPath(guildID, eventID, "location"), body, &resp)
	return resp, err
}

// Credits lists credit totals, optionally for one participant.
func (c *Client) Credits(ctx context.Context, guildID, participantID string) ([]Credit, error) {
	endpoint := c.guildPath(guildID, "credits")
	if participantID != "" {
		endpoint += "?participant_id=" + url.QueryEscape(participantID)
	}
	var resp struct {
		Items []Credit `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Journal returns journal entries with id > after.
func (c *Client) Journal(ctx context.Context, guildID string, after int64, limit int) (JournalPage, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", fmt.Sprintf("%d", after))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := c.guildPath(guildID, "journal")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp JournalPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) guildPath(guildID, leaf string) string {
	return fmt.Sprintf("guilds/%s/%s", url.PathEscape(guildID), leaf)
}

func (c *Client) eventPath(guildID, eventID, leaf string) string {
	p := fmt.Sprintf("guilds/%s/events/%s", url.PathEscape(guildID), url.PathEscape(eventID))
	if leaf != "" {
		p += "/" + leaf
	}
	return p
}
