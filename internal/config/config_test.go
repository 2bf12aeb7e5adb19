package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load([]string{"--url", "ws://localhost:7880", "--token", "tok"})
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:7880", cfg.URL)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, 8081, cfg.Port)
	assert.True(t, cfg.AutoSubscribe)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 15*time.Second, cfg.ICEConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.TrackPublishTimeout)
	assert.Equal(t, 10, cfg.ReconnectAttempts)
	assert.Equal(t, 300*time.Millisecond, cfg.ReconnectInterval)
	assert.Equal(t, 5*time.Second, cfg.MaxReconnectInterval)
	assert.Empty(t, cfg.ICEServers)
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("RTC_URL", "wss://env.example")
	t.Setenv("RTC_PORT", "9090")
	t.Setenv("RTC_RECONNECT_INTERVAL", "1s")
	t.Setenv("RTC_FORCE_RELAY", "true")

	cfg, err := Load([]string{"--port", "7000", "--ice_servers", "stun:a,turn:b"})
	require.NoError(t, err)
	assert.Equal(t, "wss://env.example", cfg.URL)
	assert.Equal(t, 7000, cfg.Port, "flags win over env")
	assert.Equal(t, time.Second, cfg.ReconnectInterval)
	assert.True(t, cfg.ForceRelay)
	assert.Equal(t, []string{"stun:a", "turn:b"}, cfg.ICEServers)
}

func TestLoadRequiresURL(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	_, err := Load(nil)
	require.ErrorIs(t, err, ErrNoURL)
}

func TestLoadRejectsUnknownFlag(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	_, err := Load([]string{"--nope"})
	require.Error(t, err)
}
