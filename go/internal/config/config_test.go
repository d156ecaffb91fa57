package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	for _, key := range []string{"LOG_LEVEL", "DWF_BACKEND", "PORT", "DWF_ADVERTISE", "DWF_INSTANCE", "NATS_URL", "NATS_REPLICAS"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, ":8080", cfg.Relay.Addr)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
	assert.Equal(t, "drawwithfriends_rooms", cfg.NATSConfig().Bucket)
	assert.Equal(t, "DRAW_STROKES", cfg.NATSConfig().StreamName)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
log_level: debug
backend: nats
relay:
  addr: ":9000"
  advertise: false
nats:
  url: nats://example:4222
  max_age: 36h
postgres:
  fallback_interval: 5s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
	assert.Equal(t, BackendNATS, cfg.Backend)
	assert.Equal(t, ":9000", cfg.Relay.Addr)
	assert.False(t, cfg.Relay.Advertise)
	assert.Equal(t, 1024, cfg.Relay.SendBuffer, "unset keys keep their defaults")

	nc := cfg.NATSConfig()
	assert.Equal(t, "nats://example:4222", nc.URL)
	assert.Equal(t, 36*time.Hour, nc.MaxAge)

	pc := cfg.PostgresConfig("postgres://localhost/x")
	assert.Equal(t, "postgres://localhost/x", pc.DatabaseURL)
	assert.Equal(t, 5*time.Second, pc.FallbackInterval)
	assert.Equal(t, "drawwithfriends_room_events", pc.NotifyChannel)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "backend: nats\n")
	t.Setenv("DWF_BACKEND", "postgres")
	t.Setenv("PORT", "7070")
	t.Setenv("DWF_ADVERTISE", "false")
	t.Setenv("NATS_URL", "nats://env:4222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, ":7070", cfg.Relay.Addr)
	assert.False(t, cfg.Relay.Advertise)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", "backend: redis\n"},
		{"bad level", "log_level: loud\n"},
		{"empty addr", "relay:\n  addr: \"\"\n"},
		{"zero buffer", "relay:\n  send_buffer: 0\n"},
		{"bad yaml", "relay: [\n"},
	}
	clearEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
