package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raidline/internal/config"
)

func TestShowConfigRendersTables(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.Secret = "hunter2"

	var buf bytes.Buffer
	require.NoError(t, showConfig(&buf, cfg, false))
	out := buf.String()

	assert.False(t, strings.HasPrefix(strings.TrimSpace(out), "{"), "table output must not be JSON")
	for _, want := range []string{"Settings", "Signals", "Dungeons", "raid.signup_duration", "5m0s", "keys_popped"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "hunter2")
}

func TestShowConfigJSON(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.Secret = "hunter2"

	var buf bytes.Buffer
	require.NoError(t, showConfig(&buf, cfg, true))
	assert.NotContains(t, buf.String(), "hunter2")

	var decoded struct {
		Raid struct {
			SignupDuration int64 `json:"signup_duration"`
		} `json:"raid"`
		Signals map[string]config.SignalConfig `json:"signals"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, int64(cfg.Raid.SignupDuration), decoded.Raid.SignupDuration)
	assert.Equal(t, "keys_popped", decoded.Signals["key"].CreditCategory)
}
