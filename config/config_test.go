package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiresServerURL(t *testing.T) {
	cfg := &ClientConfig{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server_url is required")
}

func TestValidateRejectsHTTPScheme(t *testing.T) {
	cfg := &ClientConfig{ServerURL: "http://chat.example.com/ws"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme must be ws or wss")
}

func TestValidateAcceptsSecureWebsocket(t *testing.T) {
	cfg := &ClientConfig{ServerURL: "wss://chat.example.com/ws"}

	require.NoError(t, cfg.Validate())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &ClientConfig{
		HeartbeatIntervalSec: -1,
		QueueMaxSize:         -5,
		TypingDebounceMs:     -100,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server_url is required")
	assert.Contains(t, err.Error(), "heartbeat_interval_sec")
	assert.Contains(t, err.Error(), "queue_max_size")
	assert.Contains(t, err.Error(), "typing_debounce_ms")
}

func TestSessionConfigDefaults(t *testing.T) {
	cfg := &ClientConfig{ServerURL: "ws://localhost:8080/ws"}

	sc := cfg.SessionConfig()
	assert.Equal(t, 30*time.Second, sc.HeartbeatInterval)
	assert.Equal(t, 5, sc.Scheduler.MaxAttempts)
	assert.Equal(t, 100, sc.Queue.MaxSize)
	assert.Equal(t, 500*time.Millisecond, sc.TypingDebounce)
	assert.Equal(t, 3*time.Second, sc.TypingExpiry)
}

func TestSessionConfigOverrides(t *testing.T) {
	cfg := &ClientConfig{
		ServerURL:            "ws://localhost:8080/ws",
		HeartbeatIntervalSec: 15,
		ReconnectMaxAttempts: 10,
		ReconnectCooldownSec: 60,
		QueueMaxSize:         200,
		TypingDebounceMs:     250,
		EventBuffer:          128,
	}

	sc := cfg.SessionConfig()
	assert.Equal(t, 15*time.Second, sc.HeartbeatInterval)
	assert.Equal(t, 10, sc.Scheduler.MaxAttempts)
	assert.Equal(t, time.Minute, sc.Scheduler.Cooldown)
	assert.Equal(t, 200, sc.Queue.MaxSize)
	assert.Equal(t, 250*time.Millisecond, sc.TypingDebounce)
	assert.Equal(t, 128, sc.EventBuffer)
}

func TestTransportConfigMapping(t *testing.T) {
	cfg := &ClientConfig{
		ServerURL:           "wss://chat.example.com/ws",
		HandshakeTimeoutSec: 5,
		WriteTimeoutSec:     3,
	}

	tc := cfg.TransportConfig()
	assert.Equal(t, "wss://chat.example.com/ws", tc.URL)
	assert.Equal(t, 5*time.Second, tc.HandshakeTimeout)
	assert.Equal(t, 3*time.Second, tc.WriteTimeout)
	assert.Equal(t, 256, tc.EventBuffer)
}
