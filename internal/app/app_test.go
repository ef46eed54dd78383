package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raidline/internal/config"
	"raidline/internal/domain"
	"raidline/internal/repo"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"unknown": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run("level_"+in, func(t *testing.T) {
			assert.Equal(t, want, parseLevel(in))
		})
	}
}

func TestLoggerFormats(t *testing.T) {
	var textBuf, jsonBuf bytes.Buffer
	newLogger(&textBuf, config.LogConfig{Level: "info", Format: "text"}).Info("hello")
	newLogger(&jsonBuf, config.LogConfig{Level: "info", Format: "json"}).Info("hello", "event_id", "e1")

	assert.Contains(t, textBuf.String(), "source=")

	var m map[string]any
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &m))
	assert.Equal(t, "e1", m["event_id"])
	assert.NotContains(t, m, "source")
}

func TestLoggerSuppressesBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, config.LogConfig{Level: "warn"})
	log.Info("quiet")
	assert.Zero(t, buf.Len())
	log.Warn("loud")
	assert.True(t, strings.Contains(buf.String(), "loud"))
}

func TestNewLoggerSetsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	logger := NewLogger(config.LogConfig{Level: "info", Format: "json"})
	assert.Equal(t, logger.Handler(), slog.Default().Handler())
}

func seedRecord(guild, id string, phase domain.Phase, started time.Time) domain.EventRecord {
	return domain.EventRecord{
		ID:             id,
		GuildID:        guild,
		Kind:           domain.KindRaid,
		Phase:          phase,
		Dungeon:        "void",
		StartedBy:      "leader",
		StartedAt:      started,
		PhaseStartedAt: started,
		PhaseDuration:  time.Hour,
		SignalCaps:     map[string]int{"key": 2},
		AreaID:         id,
		ChannelID:      "signups",
		MessageRef:     domain.MessageRef{ChannelID: "signups", MessageID: "m-" + id},
	}
}

func TestOpenPurgesClosedAndResumesOpen(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	conn, r, err := OpenStore(ctx, workspace)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, r.UpsertEventRecord(ctx, seedRecord("g1", "open", domain.PhaseSignup, now)))
	closed := seedRecord("g1", "done", domain.PhaseClosed, now)
	closed.Outcome = domain.OutcomeCompleted
	require.NoError(t, r.UpsertEventRecord(ctx, closed))
	require.NoError(t, r.UpsertEventRecord(ctx, seedRecord("g2", "other", domain.PhaseGrace, now)))
	require.NoError(t, conn.Close())

	rt, err := Open(ctx, workspace, config.Default(), log)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	_, err = rt.Repo.GetEventRecord(ctx, "g1", "done")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	n, err := rt.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, ok := rt.Coordinator.Get("g1", "open")
	require.True(t, ok)
	assert.Equal(t, domain.PhaseSignup, got.Phase)
	assert.True(t, rt.Hub.Watching("m-open"))
	assert.Len(t, rt.Coordinator.List(""), 2)

	handler, err := rt.Handler("secret")
	require.NoError(t, err)
	assert.NotNil(t, handler)
}
