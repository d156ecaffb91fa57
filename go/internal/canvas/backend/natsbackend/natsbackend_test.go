package natsbackend

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend/backendtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "123456.mode", modeKey("123456"))
	assert.Equal(t, "123456.turn", turnKey("123456"))
	assert.Equal(t, "123456.drawing", drawingKey("123456"))
	assert.Equal(t, "123456.background", backgroundKey("123456"))
	assert.Equal(t, "123456.users.*", usersPattern("123456"))
	assert.Equal(t, "rooms.123456.strokes", strokeSubject("rooms", "123456"))
	assert.NotEqual(t, strokeMsgID("123456", "s1"), strokeMsgID("654321", "s1"))
}

func TestUserKeyRoundTrip(t *testing.T) {
	for _, id := range []string{"alice", "Bob's iPad", "a.b*c>", "😀"} {
		key := userKey("000001", id)
		assert.Regexp(t, `^000001\.users\.[A-Za-z0-9_-]+$`, key)

		got, ok := userFromKey(key)
		require.True(t, ok)
		assert.Equal(t, id, got)
	}

	_, ok := userFromKey("000001.turn")
	assert.False(t, ok)
	_, ok = userFromKey("000001.users.!!")
	assert.False(t, ok)
}

// Runs only against a live server, e.g. NATS_URL=nats://localhost:4222 with -js.
func TestConformance(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	backendtest.Run(t, func(t *testing.T) backend.Backend {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cfg := DefaultConfig()
		cfg.URL = url
		cfg.Bucket = "drawwithfriends_test"
		cfg.StreamName = "DRAW_STROKES_TEST"
		cfg.SubjectPrefix = "testrooms"
		cfg.MaxAge = time.Hour
		b, err := New(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		return b
	})
}
