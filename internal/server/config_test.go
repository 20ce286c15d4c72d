package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, ":3000", cfg.Addr())
	assert.Equal(t, "public", cfg.PublicDir)
	assert.Equal(t, "data/numbergame.db", cfg.DBPath)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "token", cfg.TokenCookie)
	assert.Equal(t, 7*24*time.Hour, cfg.TokenTTL)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, 60*time.Second, cfg.TurnDuration)
	assert.Equal(t, time.Second, cfg.TurnTick)
	assert.Equal(t, 30*time.Minute, cfg.RoomCleanupDelay)
	assert.Equal(t, 45*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 3, cfg.HeartbeatMisses)
	assert.Equal(t, 5*time.Second, cfg.PersistTimeout)
	assert.Equal(t, "numbergame.matches", cfg.NATSSubject)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("TURN_DURATION", "90s")
	t.Setenv("ROOM_CLEANUP_DELAY", "5m")
	t.Setenv("HEARTBEAT_MAX_MISSES", "5")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 90*time.Second, cfg.TurnDuration)
	assert.Equal(t, 5*time.Minute, cfg.RoomCleanupDelay)
	assert.Equal(t, 5, cfg.HeartbeatMisses)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"TURN_DURATION", "soon"},
		{"TURN_DURATION", "-1s"},
		{"HEARTBEAT_MAX_MISSES", "0"},
		{"TOKEN_TTL", "0s"},
		{"MESSAGE_RATE", "0"},
		{"LOG_LEVEL", "chatty"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "room", "ABCD")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "ABCD", entry["room"])

	assert.True(t, NewLogger(&buf, "nonsense").Enabled(t.Context(), slog.LevelInfo))
}
