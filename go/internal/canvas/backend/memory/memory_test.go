package memory

import (
	"context"
	"testing"

	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend/backendtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Backend {
		b := New()
		t.Cleanup(func() { b.Close() })
		return b
	})
}

func TestClosedBackendRejectsCalls(t *testing.T) {
	ctx := context.Background()
	b := New()
	code, err := b.CreateRoom(ctx, backend.ModeTurnBased, "alice")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = b.RoomMode(ctx, code)
	assert.ErrorIs(t, err, backend.ErrClosed)
	_, err = b.CreateRoom(ctx, backend.ModeTurnBased, "alice")
	assert.ErrorIs(t, err, backend.ErrClosed)
	assert.NoError(t, b.Close())
}

func TestRoomCodesAreUnique(t *testing.T) {
	ctx := context.Background()
	b := New()
	defer b.Close()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := b.CreateRoom(ctx, backend.ModeSimultaneous, "alice")
		require.NoError(t, err)
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}
