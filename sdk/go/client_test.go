package raidlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndSendsActorAndKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/guilds/g%201/events/vc/end", r.URL.EscapedPath())
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "leader", body["actor_id"])
		w.Write([]byte(`{"closed":false,"event":{"id":"vc","phase":"grace"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/v0/")
	c.APIKey = "k"
	res, err := c.End(context.Background(), "g 1", "vc", "leader")
	require.NoError(t, err)
	require.NotNil(t, res.Event)
	assert.Equal(t, "grace", res.Event.Phase)
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"stale_event","message":"event is closed"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "t"
	_, err := c.ChangeLocation(context.Background(), "g", "e", "leader", "x")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "stale_event", apiErr.Code)
	assert.Equal(t, "api error 409 stale_event: event is closed", apiErr.Error())
}

func TestJournalQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("after"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"items":[{"id":8,"type":"event.upserted"}],"next_id":8}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).Journal(context.Background(), "g", 7, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(8), page.NextID)
	require.Len(t, page.Items, 1)
}
