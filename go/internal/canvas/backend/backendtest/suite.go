// Package backendtest is a conformance suite run against every Backend
// implementation.
package backendtest

import (
	"context"
	"testing"
	"time"

	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/mcdev12/drawwithfriends/go/internal/ink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

// Factory returns a fresh backend. Cleanup is registered on t.
type Factory func(t *testing.T) backend.Backend

// Run exercises the Backend contract.
func Run(t *testing.T, newBackend Factory) {
	t.Run("rooms", func(t *testing.T) { testRooms(t, newBackend(t)) })
	t.Run("users", func(t *testing.T) { testUsers(t, newBackend(t)) })
	t.Run("turns", func(t *testing.T) { testTurns(t, newBackend(t)) })
	t.Run("strokes", func(t *testing.T) { testStrokes(t, newBackend(t)) })
	t.Run("drawing", func(t *testing.T) { testDrawing(t, newBackend(t)) })
	t.Run("background", func(t *testing.T) { testBackground(t, newBackend(t)) })
	t.Run("unsubscribe", func(t *testing.T) { testUnsubscribe(t, newBackend(t)) })
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(wait):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

func quiet[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected delivery: %+v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func testRooms(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	code, err := b.CreateRoom(ctx, backend.ModeSimultaneous, "alice")
	require.NoError(t, err)
	assert.True(t, backend.ValidRoomCode(code), code)

	ok, err := b.JoinRoom(ctx, code)
	require.NoError(t, err)
	assert.True(t, ok)

	mode, err := b.RoomMode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, backend.ModeSimultaneous, mode)

	ok, err = b.JoinRoom(ctx, "000000x")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = b.RoomMode(ctx, "nope")
	assert.ErrorIs(t, err, backend.ErrRoomNotFound)

	_, err = b.CreateRoom(ctx, backend.Mode("chaos"), "alice")
	assert.Error(t, err)
}

func testUsers(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	code, err := b.CreateRoom(ctx, backend.ModeTurnBased, "alice")
	require.NoError(t, err)

	require.NoError(t, b.RegisterUser(ctx, code, "alice"))
	require.NoError(t, b.RegisterUser(ctx, code, "bob"))
	require.NoError(t, b.RegisterUser(ctx, code, "alice"))

	users, err := b.Users(ctx, code)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)
}

func testTurns(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	code, err := b.CreateRoom(ctx, backend.ModeTurnBased, "alice")
	require.NoError(t, err)

	turns := make(chan string, 8)
	sub, err := b.ObserveTurn(ctx, code, func(u string) { turns <- u })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Equal(t, "alice", recv(t, turns))

	require.NoError(t, b.PassTurn(ctx, code, "bob"))
	assert.Equal(t, "bob", recv(t, turns))
}

func testStrokes(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	code, err := b.CreateRoom(ctx, backend.ModeSimultaneous, "alice")
	require.NoError(t, err)

	size := ink.Size{Width: 390, Height: 844}
	first := backend.StrokeEvent{
		StrokeID:         "s1",
		Payload:          []byte{1, 2, 3},
		SenderID:         "alice",
		OriginalAuthorID: "alice",
		CanvasSize:       &size,
		CreatedAt:        time.Date(2025, 1, 2, 3, 4, 5, 6000, time.UTC),
	}
	require.NoError(t, b.SendStroke(ctx, code, first))

	events := make(chan backend.StrokeEvent, 8)
	sub, err := b.ObserveStrokes(ctx, code, func(ev backend.StrokeEvent) { events <- ev })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	got := recv(t, events)
	assert.Equal(t, first.StrokeID, got.StrokeID)
	assert.Equal(t, first.Payload, got.Payload)
	assert.Equal(t, "alice", got.SenderID)
	assert.Equal(t, "alice", got.OriginalAuthorID)
	require.NotNil(t, got.CanvasSize)
	assert.Equal(t, size, *got.CanvasSize)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))

	second := first
	second.StrokeID = "s2"
	second.SenderID = "bob"
	second.CanvasSize = nil
	require.NoError(t, b.SendStroke(ctx, code, second))
	require.NoError(t, b.SendStroke(ctx, code, first))

	got = recv(t, events)
	assert.Equal(t, "s2", got.StrokeID)
	assert.Equal(t, "bob", got.SenderID)
	assert.Equal(t, "alice", got.OriginalAuthorID)
	assert.Nil(t, got.CanvasSize)
	quiet(t, events)
}

func testDrawing(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	code, err := b.CreateRoom(ctx, backend.ModeTurnBased, "alice")
	require.NoError(t, err)

	size := ink.Size{Width: 100, Height: 200}
	bounds := ink.Rect{X: 1, Y: 2, Width: 30, Height: 40}
	require.NoError(t, b.SendDrawing(ctx, code, backend.DrawingBlob{
		Payload:       []byte("v1"),
		EditorID:      "alice",
		CanvasSize:    &size,
		ContentBounds: &bounds,
	}))

	blobs := make(chan backend.DrawingBlob, 8)
	sub, err := b.ObserveDrawing(ctx, code, func(blob backend.DrawingBlob) { blobs <- blob })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	got := recv(t, blobs)
	assert.Equal(t, []byte("v1"), got.Payload)
	assert.Equal(t, "alice", got.EditorID)
	require.NotNil(t, got.CanvasSize)
	assert.Equal(t, size, *got.CanvasSize)
	require.NotNil(t, got.ContentBounds)
	assert.Equal(t, bounds, *got.ContentBounds)

	require.NoError(t, b.SendDrawing(ctx, code, backend.DrawingBlob{Payload: []byte("v2"), EditorID: "bob"}))
	got = recv(t, blobs)
	assert.Equal(t, []byte("v2"), got.Payload)
	assert.Equal(t, "bob", got.EditorID)

	require.NoError(t, b.ClearDrawing(ctx, code))
	got = recv(t, blobs)
	assert.Empty(t, got.Payload)
}

func testBackground(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	code, err := b.CreateRoom(ctx, backend.ModeSimultaneous, "alice")
	require.NoError(t, err)

	images := make(chan backend.BackgroundImage, 8)
	sub, err := b.ObserveBackground(ctx, code, func(img backend.BackgroundImage) { images <- img })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.SendBackground(ctx, code, backend.BackgroundImage{Data: []byte("png"), EditorID: "alice"}))
	got := recv(t, images)
	assert.Equal(t, []byte("png"), got.Data)
	assert.Equal(t, "alice", got.EditorID)

	require.NoError(t, b.ClearBackground(ctx, code))
	got = recv(t, images)
	assert.Empty(t, got.Data)
}

func testUnsubscribe(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	code, err := b.CreateRoom(ctx, backend.ModeTurnBased, "alice")
	require.NoError(t, err)

	turns := make(chan string, 8)
	sub, err := b.ObserveTurn(ctx, code, func(u string) { turns <- u })
	require.NoError(t, err)
	assert.Equal(t, "alice", recv(t, turns))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, b.PassTurn(ctx, code, "bob"))
	quiet(t, turns)
}
