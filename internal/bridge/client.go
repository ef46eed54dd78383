// Package bridge talks to the chat platform through a small HTTP bridge
// service. Outbound calls are JSON requests; inbound reactions and dialog
// answers arrive through the control API and are handed to Hub and Dialogs.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"raidline/internal/config"
	"raidline/internal/domain"
	"raidline/internal/raid"
)

const defaultTimeout = 5 * time.Second

var ErrNotConfigured = errors.New("bridge url is not configured")

// StatusError is a non-2xx answer from the bridge. 404 and 410 unwrap to
// raid.ErrTargetGone.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("bridge %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("bridge %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone {
		return raid.ErrTargetGone
	}
	return nil
}

// Client implements raid.Surface against the bridge service.
type Client struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client
	Hub        *Hub
	Log        *slog.Logger
}

func New(cfg config.BridgeConfig, hub *Hub, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		BaseURL:    cfg.URL,
		Secret:     cfg.Secret,
		HTTPClient: &http.Client{Timeout: timeout},
		Hub:        hub,
		Log:        log.With("component", "bridge"),
	}
}

var _ raid.Surface = (*Client)(nil)

type messageBody struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type reactionBody struct {
	ChannelID     string `json:"channel_id"`
	MessageID     string `json:"message_id"`
	Kind          string `json:"kind"`
	ParticipantID string `json:"participant_id,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, channelID, content string) (domain.MessageRef, error) {
	var ref domain.MessageRef
	err := c.do(ctx, "send_message", http.MethodPost, "messages", messageBody{ChannelID: channelID, Content: content}, &ref)
	if err != nil {
		return domain.MessageRef{}, err
	}
	if ref.ChannelID == "" {
		ref.ChannelID = channelID
	}
	if ref.MessageID == "" {
		return domain.MessageRef{}, fmt.Errorf("bridge send_message: empty message id")
	}
	return ref, nil
}

func (c *Client) EditMessage(ctx context.Context, ref domain.MessageRef, content string) error {
	body := messageBody{ChannelID: ref.ChannelID, MessageID: ref.MessageID, Content: content}
	return c.do(ctx, "edit_message", http.MethodPatch, "messages", body, nil)
}

func (c *Client) AddReaction(ctx context.Context, ref domain.MessageRef, kind string) error {
	body := reactionBody{ChannelID: ref.ChannelID, MessageID: ref.MessageID, Kind: kind}
	return c.do(ctx, "add_reaction", http.MethodPost, "reactions", body, nil)
}

func (c *Client) RemoveReaction(ctx context.Context, ref domain.MessageRef, kind, participantID string) error {
	body := reactionBody{ChannelID: ref.ChannelID, MessageID: ref.MessageID, Kind: kind, ParticipantID: participantID}
	return c.do(ctx, "remove_reaction", http.MethodDelete, "reactions", body, nil)
}

// SubscribeReactions reads from the hub; the bridge pushes reactions to the
// control API rather than streaming them to us.
func (c *Client) SubscribeReactions(ctx context.Context, ref domain.MessageRef) (<-chan raid.ReactionEvent, error) {
	if c.Hub == nil {
		return nil, fmt.Errorf("bridge: no reaction hub")
	}
	return c.Hub.Subscribe(ctx, ref.MessageID), nil
}

func (c *Client) ListReactions(ctx context.Context, ref domain.MessageRef) (map[string][]string, error) {
	q := url.Values{}
	q.Set("channel_id", ref.ChannelID)
	q.Set("message_id", ref.MessageID)
	var resp struct {
		Reactions map[string][]string `json:"reactions"`
	}
	if err := c.do(ctx, "list_reactions", http.MethodGet, "reactions?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Reactions == nil {
		resp.Reactions = map[string][]string{}
	}
	return resp.Reactions, nil
}

func (c *Client) SetAreaCapacity(ctx context.Context, areaID string, capacity int) error {
	body := map[string]int{"capacity": capacity}
	return c.do(ctx, "set_area_capacity", http.MethodPut, areaPath(areaID, "capacity"), body, nil)
}

func (c *Client) LockArea(ctx context.Context, areaID string, locked bool) error {
	body := map[string]bool{"locked": locked}
	return c.do(ctx, "lock_area", http.MethodPut, areaPath(areaID, "lock"), body, nil)
}

func (c *Client) MoveParticipant(ctx context.Context, participantID, areaID string) error {
	body := map[string]string{"participant_id": participantID}
	return c.do(ctx, "move_participant", http.MethodPost, areaPath(areaID, "members"), body, nil)
}

func (c *Client) AreaParticipants(ctx context.Context, areaID string) ([]string, error) {
	var resp struct {
		Participants []string `json:"participants"`
	}
	if err := c.do(ctx, "area_participants", http.MethodGet, areaPath(areaID, "members"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

func (c *Client) SendDirect(ctx context.Context, participantID, content string) error {
	body := map[string]string{"participant_id": participantID, "content": content}
	return c.do(ctx, "send_direct", http.MethodPost, "direct", body, nil)
}

func areaPath(areaID, leaf string) string {
	return fmt.Sprintf("areas/%s/%s", url.PathEscape(areaID), leaf)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body, out any) error {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		return ErrNotConfigured
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, base+"/"+strings.TrimLeft(endpoint, "/"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Raidline-Op", op)
	if strings.TrimSpace(c.Secret) != "" {
		req.Header.Set("X-Raidline-Secret", c.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge %s: %w", op, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		err := &StatusError{Op: op, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(b))}
		if c.Log != nil {
			c.Log.Debug("bridge call failed", "op", op, "status", res.StatusCode)
		}
		return err
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("bridge %s: decode: %w", op, err)
		}
	}
	return nil
}
