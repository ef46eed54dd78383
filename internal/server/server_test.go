package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raidline/internal/auth"
	"raidline/internal/bridge"
	"raidline/internal/config"
	"raidline/internal/db"
	"raidline/internal/domain"
	"raidline/internal/migrate"
	"raidline/internal/raid"
	"raidline/internal/repo"
)

const (
	testGuild  = "g1"
	testAPIKey = "rl_test_key"
	jwtSecret  = "test-secret"
)

// platform is a stand-in bridge service: it hands out message ids, reports
// area members and records opened dialogs.
type platform struct {
	mu      sync.Mutex
	seq     atomic.Int64
	members []string
	dialogs chan string
	directs map[string][]string
}

func (p *platform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/messages":
		json.NewEncoder(w).Encode(map[string]string{"message_id": fmt.Sprintf("msg-%d", p.seq.Add(1))})
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/members"):
		p.mu.Lock()
		defer p.mu.Unlock()
		json.NewEncoder(w).Encode(map[string][]string{"participants": p.members})
	case r.Method == http.MethodGet && r.URL.Path == "/reactions":
		io.WriteString(w, `{"reactions":{"key":["p1","p2"]}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/dialogs":
		p.dialogs <- body["dialog_id"].(string)
		io.WriteString(w, `{}`)
	case r.Method == http.MethodPost && r.URL.Path == "/direct":
		p.mu.Lock()
		defer p.mu.Unlock()
		id := body["participant_id"].(string)
		p.directs[id] = append(p.directs[id], body["content"].(string))
		io.WriteString(w, `{}`)
	default:
		io.WriteString(w, `{}`)
	}
}

func (p *platform) directsFor(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.directs[id]...)
}

type testServer struct {
	URL      string
	platform *platform
	repo     repo.Repo
	coord    *raid.Coordinator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k1", ActorID: "ops", KeyHash: repo.HashAPIKey(testAPIKey)}))

	plat := &platform{members: []string{"p1", "p2"}, dialogs: make(chan string, 8), directs: map[string][]string{}}
	platSrv := httptest.NewServer(plat)
	t.Cleanup(platSrv.Close)

	cfg := config.Default()
	cfg.Raid.TickInterval = 0
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	hub := bridge.NewHub(log)
	client := bridge.New(config.BridgeConfig{URL: platSrv.URL, Timeout: 2 * time.Second}, hub, log)
	dialogs := bridge.NewDialogs(client)
	coord := raid.New(raid.Deps{
		Config:   cfg,
		Surface:  client,
		Store:    r,
		Auth:     auth.Service{DB: conn, AdminRoles: cfg.Auth.AdminRoles},
		Prompter: dialogs,
		Logger:   log,
		Metrics:  raid.NewMetrics(reg),
	})
	t.Cleanup(coord.Shutdown)

	handler, err := New(Config{
		Coordinator: coord,
		Repo:        r,
		Hub:         hub,
		Dialogs:     dialogs,
		Gatherer:    reg,
		BasePath:    "/v0",
		Auth:        AuthConfig{JWTSecret: jwtSecret, Logger: log},
		Logger:      log,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, platform: plat, repo: r, coord: coord}
}

func apiKey() map[string]string { return map[string]string{"X-Api-Key": testAPIKey} }

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func startRaid(t *testing.T, srv *testServer) domain.EventRecord {
	t.Helper()
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/guilds/"+testGuild+"/raids", map[string]any{
		"area_id":    "vc-1",
		"channel_id": "signups",
		"leader_id":  "leader",
		"dungeon":    "void",
		"location":   "usw3 left bazaar",
	}, apiKey())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var rec domain.EventRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "ok")
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/events", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/events", nil, map[string]string{"X-Api-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	token, err := SignToken(jwtSecret, "bot", []string{PermEventsRead}, time.Hour)
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me Principal
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, Principal{ID: "bot", Permissions: []string{PermEventsRead}, Source: "jwt"}, me)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/events", nil, bearer)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/guilds/g1/raids", map[string]any{
		"area_id": "vc", "channel_id": "c", "leader_id": "l", "dungeon": "void",
	}, bearer)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "forbidden", errorCode(t, data))

	other, err := SignToken("other-secret", "bot", []string{permAll}, time.Hour)
	require.NoError(t, err)
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/events", nil, map[string]string{"Authorization": "Bearer " + other})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestStartRaidErrors(t *testing.T) {
	srv := newTestServer(t)
	startRaid(t, srv)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/guilds/g1/raids", map[string]any{
		"area_id": "vc-1", "channel_id": "c", "leader_id": "l", "dungeon": "void",
	}, apiKey())
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "event_exists", errorCode(t, data))

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/guilds/g1/raids", map[string]any{
		"area_id": "vc-2", "channel_id": "c", "leader_id": "l", "dungeon": "atlantis",
	}, apiKey())
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, "unknown_dungeon", errorCode(t, data))

	res, _ = doJSON(t, http.MethodPost, srv.URL+"/v0/guilds/g1/raids", map[string]any{
		"channel_id": "c", "leader_id": "l", "dungeon": "void",
	}, apiKey())
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestRaidLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	rec := startRaid(t, srv)
	assert.Equal(t, "vc-1", rec.ID)
	assert.Equal(t, domain.PhaseSignup, rec.Phase)
	assert.Equal(t, 2, rec.SignalCaps["key"])

	eventURL := srv.URL + "/v0/guilds/" + testGuild + "/events/" + rec.ID

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/guilds/"+testGuild+"/events", nil, apiKey())
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list EventList
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Items, 1)

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/bridge/reactions", map[string]any{
		"message_id": rec.MessageRef.MessageID, "kind": "key", "participant_id": "p1",
	}, apiKey())
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(data))

	var dialogID string
	select {
	case dialogID = <-srv.platform.dialogs:
	case <-time.After(5 * time.Second):
		t.Fatal("no dialog opened")
	}
	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/bridge/dialogs/"+dialogID, map[string]any{"accept": true}, apiKey())
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	require.Eventually(t, func() bool {
		got, ok := srv.coord.Get(testGuild, rec.ID)
		return ok && len(got.Holders("key")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, dm := range srv.platform.directsFor("p1") {
			if strings.Contains(dm, "usw3 left bazaar") {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	res, data = doJSON(t, http.MethodGet, eventURL+"/roster", nil, apiKey())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var roster RosterResponse
	require.NoError(t, json.Unmarshal(data, &roster))
	assert.Equal(t, []string{"p1"}, roster.Signals["key"])
	assert.Equal(t, []string{"p1", "p2"}, roster.Reactions["key"])

	res, data = doJSON(t, http.MethodPost, eventURL+"/end", map[string]any{"actor_id": "stranger"}, apiKey())
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "forbidden", errorCode(t, data))

	var ctl ControlResponse
	res, data = doJSON(t, http.MethodPost, eventURL+"/end", map[string]any{"actor_id": "leader"}, apiKey())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &ctl))
	require.NotNil(t, ctl.Event)
	assert.Equal(t, domain.PhaseGrace, ctl.Event.Phase)

	res, data = doJSON(t, http.MethodPost, eventURL+"/end", map[string]any{"actor_id": "leader"}, apiKey())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	ctl = ControlResponse{}
	require.NoError(t, json.Unmarshal(data, &ctl))
	require.NotNil(t, ctl.Event)
	assert.Equal(t, domain.PhaseActive, ctl.Event.Phase)

	res, data = doJSON(t, http.MethodPost, eventURL+"/end", map[string]any{"actor_id": "leader"}, apiKey())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	ctl = ControlResponse{}
	require.NoError(t, json.Unmarshal(data, &ctl))
	assert.True(t, ctl.Closed)
	assert.Nil(t, ctl.Event)

	res, _ = doJSON(t, http.MethodGet, eventURL, nil, apiKey())
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, data = doJSON(t, http.MethodPut, eventURL+"/location", map[string]any{"actor_id": "leader", "location": "x"}, apiKey())
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "stale_event", errorCode(t, data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/guilds/"+testGuild+"/credits", nil, apiKey())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var credits CreditList
	require.NoError(t, json.Unmarshal(data, &credits))
	got := map[string]int{}
	for _, c := range credits.Items {
		got[c.ParticipantID+"/"+c.Category] = c.Count
	}
	assert.Equal(t, map[string]int{
		"leader/led":     1,
		"p1/keys_popped": 1,
		"p1/void":        1,
		"p2/void":        1,
	}, got)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/guilds/"+testGuild+"/journal?limit=500", nil, apiKey())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page JournalPage
	require.NoError(t, json.Unmarshal(data, &page))
	require.NotEmpty(t, page.Items)
	assert.Equal(t, page.Items[len(page.Items)-1].ID, page.NextID)
	assert.Equal(t, "event.deleted", page.Items[len(page.Items)-1].Type)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), `raidline_events_closed_total{kind="raid",outcome="completed"} 1`)
}

func TestBridgeIntakeErrors(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/bridge/reactions", map[string]any{
		"message_id": "nope", "kind": "key", "participant_id": "p1",
	}, apiKey())
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, data))

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/bridge/dialogs/missing", map[string]any{"accept": true}, apiKey())
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "unknown_dialog", errorCode(t, data))
}

func TestAreaDeletedAbortsSignup(t *testing.T) {
	srv := newTestServer(t)
	rec := startRaid(t, srv)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/bridge/areas/deleted", map[string]any{
		"guild_id": testGuild, "area_id": rec.AreaID,
	}, apiKey())
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	_, ok := srv.coord.Get(testGuild, rec.ID)
	assert.False(t, ok)
	_, err := srv.repo.GetEventRecord(context.Background(), testGuild, rec.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestMessageDeletedResolvesHeadcount(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/guilds/"+testGuild+"/headcounts", map[string]any{
		"channel_id": "signups", "leader_id": "leader", "dungeon": "cult",
	}, apiKey())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var rec domain.EventRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, domain.KindHeadcount, rec.Kind)
	assert.Equal(t, rec.MessageRef.MessageID, rec.ID)

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/bridge/messages/deleted", map[string]any{
		"guild_id": testGuild, "message_id": rec.ID,
	}, apiKey())
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))
	_, ok := srv.coord.Get(testGuild, rec.ID)
	assert.False(t, ok)
}

func TestRoles(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v0/guilds/" + testGuild + "/roles"

	res, data := doJSON(t, http.MethodPost, base, map[string]any{"participant_id": "mod", "role": "admin"}, apiKey())
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodGet, base, nil, apiKey())
	require.Equal(t, http.StatusOK, res.StatusCode)
	var roles RoleList
	require.NoError(t, json.Unmarshal(data, &roles))
	require.Len(t, roles.Items, 1)
	assert.Equal(t, "mod", roles.Items[0].ParticipantID)

	rec := startRaid(t, srv)
	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/guilds/"+testGuild+"/events/"+rec.ID+"/abort", map[string]any{"actor_id": "mod"}, apiKey())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, _ = doJSON(t, http.MethodDelete, base+"/mod/admin", nil, apiKey())
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = doJSON(t, http.MethodDelete, base+"/mod/admin", nil, apiKey())
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
