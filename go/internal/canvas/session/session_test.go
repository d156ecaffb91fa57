package session

import (
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend/memory"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/scheduler"
	"github.com/mcdev12/drawwithfriends/go/internal/ink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	poll    = 5 * time.Millisecond
)

var canvasSize = ink.Size{Width: 400, Height: 300}

func line(x, y float64) ink.Stroke {
	return ink.Stroke{
		Points: []ink.Point{{X: x, Y: y}, {X: x + 20, Y: y + 5}},
		Color:  color.RGBA{R: 200, A: 255},
		Width:  3,
	}
}

type peer struct {
	session *Session
	surface *ink.MemorySurface
}

func join(t *testing.T, b backend.Backend, clock clockwork.Clock, code, user string) peer {
	t.Helper()
	surface := ink.NewMemorySurface(canvasSize)
	cfg := DefaultConfig()
	cfg.RoomCode = code
	cfg.UserID = user
	cfg.Backend = b
	cfg.Surface = surface
	cfg.Clock = clock

	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	return peer{session: s, surface: surface}
}

func newRoom(t *testing.T, mode backend.Mode, creator string) (*memory.Backend, string) {
	t.Helper()
	b := memory.New()
	t.Cleanup(func() { b.Close() })
	code, err := b.CreateRoom(context.Background(), mode, creator)
	require.NoError(t, err)
	return b, code
}

func encoded(t *testing.T, d ink.Drawing) []byte {
	t.Helper()
	data, err := ink.Marshal(d)
	require.NoError(t, err)
	return data
}

func TestNewRequiresRoomUserAndBackend(t *testing.T) {
	surface := ink.NewMemorySurface(canvasSize)
	b := memory.New()
	defer b.Close()

	_, err := New(Config{Surface: surface, RoomCode: "123456", UserID: "alice"})
	assert.Error(t, err)
	_, err = New(Config{Backend: b, RoomCode: "123456", UserID: "alice"})
	assert.Error(t, err)
	_, err = New(Config{Backend: b, Surface: surface, UserID: "alice"})
	assert.Error(t, err)

	s, err := New(Config{Backend: b, Surface: surface, RoomCode: "123456", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, s.State())
	assert.Equal(t, StatusLoading, s.Status())
	assert.False(t, surface.Interactive())
	assert.ErrorIs(t, s.SyncNow(context.Background()), ErrNotStarted)
}

func TestStartUnknownRoom(t *testing.T) {
	b := memory.New()
	defer b.Close()
	s, err := New(Config{
		Backend:  b,
		Surface:  ink.NewMemorySurface(canvasSize),
		RoomCode: "000000",
		UserID:   "alice",
	})
	require.NoError(t, err)

	err = s.Start(context.Background())
	assert.ErrorIs(t, err, backend.ErrRoomNotFound)
	assert.Equal(t, StateUninitialized, s.State())
}

func TestStartTwice(t *testing.T) {
	b, code := newRoom(t, backend.ModeSimultaneous, "alice")
	alice := join(t, b, clockwork.NewFakeClock(), code, "alice")
	assert.ErrorIs(t, alice.session.Start(context.Background()), ErrAlreadyStarted)
}

func TestTurnBasedHandoff(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	b, code := newRoom(t, backend.ModeTurnBased, "alice")

	alice := join(t, b, clock, code, "alice")
	bob := join(t, b, clock, code, "bob")

	require.Eventually(t, alice.session.IsMyTurn, waitFor, poll)
	require.Eventually(t, func() bool { return bob.session.CurrentTurn() == "alice" }, waitFor, poll)
	assert.Equal(t, StateTurnBased, alice.session.State())
	assert.Equal(t, StatusMyTurn, alice.session.Status())
	assert.Equal(t, StatusWaitingFor("alice"), bob.session.Status())
	assert.True(t, alice.surface.Interactive())
	assert.False(t, bob.surface.Interactive())

	alice.surface.AppendStroke(line(10, 10))
	require.NoError(t, alice.session.SyncNow(ctx))
	require.Eventually(t, func() bool { return bob.surface.Len() == 1 }, waitFor, poll)

	next, err := alice.session.PassTurnToNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", next)

	require.Eventually(t, bob.session.IsMyTurn, waitFor, poll)
	require.Eventually(t, func() bool { return alice.session.Status() == StatusWaitingFor("bob") }, waitFor, poll)
	assert.True(t, bob.surface.Interactive())
	assert.False(t, alice.surface.Interactive())

	// Bob's turn starts from alice's drawing; only his additions count as new.
	bob.surface.AppendStroke(line(50, 50))
	require.NoError(t, bob.session.SyncNow(ctx))
	require.Eventually(t, func() bool { return alice.surface.Len() == 2 }, waitFor, poll)
	assert.Equal(t, encoded(t, bob.surface.Drawing()), encoded(t, alice.surface.Drawing()))

	assert.Equal(t, 1, alice.session.Diagnostics().BlobsSent)
	assert.Equal(t, 1, alice.session.Diagnostics().BlobsApplied)
	assert.Equal(t, 1, bob.session.Diagnostics().BlobsSent)
}

func TestTurnBasedSyncSkipsWithoutNewStrokes(t *testing.T) {
	ctx := context.Background()
	b, code := newRoom(t, backend.ModeTurnBased, "alice")
	alice := join(t, b, clockwork.NewFakeClock(), code, "alice")
	require.Eventually(t, alice.session.IsMyTurn, waitFor, poll)

	require.NoError(t, alice.session.SyncNow(ctx))
	assert.Zero(t, alice.session.Diagnostics().BlobsSent)

	alice.surface.AppendStroke(line(0, 0))
	require.NoError(t, alice.session.SyncNow(ctx))
	require.NoError(t, alice.session.SyncNow(ctx))

	d := alice.session.Diagnostics()
	assert.Equal(t, 1, d.BlobsSent)
	assert.Equal(t, 3, d.SyncTimerFires)
}

func TestTurnBasedSyncWaitsForCanvasSize(t *testing.T) {
	ctx := context.Background()
	b, code := newRoom(t, backend.ModeTurnBased, "alice")
	alice := join(t, b, clockwork.NewFakeClock(), code, "alice")
	require.Eventually(t, alice.session.IsMyTurn, waitFor, poll)

	alice.surface.Resize(ink.Size{})
	alice.surface.AppendStroke(line(0, 0))
	require.NoError(t, alice.session.SyncNow(ctx))
	assert.Zero(t, alice.session.Diagnostics().BlobsSent)

	alice.surface.Resize(canvasSize)
	require.NoError(t, alice.session.SyncNow(ctx))
	assert.Equal(t, 1, alice.session.Diagnostics().BlobsSent)
}

func TestTurnBasedWaitingUserDoesNotSend(t *testing.T) {
	ctx := context.Background()
	b, code := newRoom(t, backend.ModeTurnBased, "alice")
	bob := join(t, b, clockwork.NewFakeClock(), code, "bob")
	require.Eventually(t, func() bool { return bob.session.CurrentTurn() == "alice" }, waitFor, poll)

	bob.surface.AppendStroke(line(0, 0))
	require.NoError(t, bob.session.SyncNow(ctx))
	assert.Zero(t, bob.session.Diagnostics().BlobsSent)
}

func TestTurnBasedEchoesOnGestureEnd(t *testing.T) {
	b, code := newRoom(t, backend.ModeTurnBased, "alice")
	alice := join(t, b, clockwork.NewFakeClock(), code, "alice")
	require.Eventually(t, alice.session.IsMyTurn, waitFor, poll)

	alice.surface.AppendStroke(line(0, 0))
	require.NoError(t, alice.session.SetEcho(true, 2))

	alice.session.BeginGesture()
	alice.surface.AppendStroke(line(30, 30))
	alice.session.EndGesture()

	require.Equal(t, 4, alice.surface.Len())
	strokes := alice.surface.Drawing().Strokes
	assert.Equal(t, ink.Point{X: 38, Y: 38}, strokes[2].Points[0])
	assert.Equal(t, ink.Point{X: 46, Y: 46}, strokes[3].Points[0])
	assert.Equal(t, 2, alice.session.Diagnostics().EchoesGenerated)
}

func TestPassTurnWithNobodyElse(t *testing.T) {
	b, code := newRoom(t, backend.ModeTurnBased, "alice")
	alice := join(t, b, clockwork.NewFakeClock(), code, "alice")

	next, err := alice.session.PassTurnToNext(context.Background())
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestPassTurnRequiresTurnBasedRoom(t *testing.T) {
	b, code := newRoom(t, backend.ModeSimultaneous, "alice")
	alice := join(t, b, clockwork.NewFakeClock(), code, "alice")

	_, err := alice.session.PassTurnToNext(context.Background())
	assert.ErrorIs(t, err, ErrNotTurnBased)
}

func TestSimultaneousConverges(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b, code := newRoom(t, backend.ModeSimultaneous, "alice")

	alice := join(t, b, clock, code, "alice")
	bob := join(t, b, clock, code, "bob")

	assert.Equal(t, StateSimultaneous, alice.session.State())
	assert.Equal(t, StatusTogether, bob.session.Status())
	assert.True(t, alice.surface.Interactive())
	assert.True(t, bob.surface.Interactive())
	assert.False(t, alice.session.IsMyTurn())

	alice.session.BeginGesture()
	alice.surface.AppendStroke(line(10, 10))
	alice.session.EndGesture()

	bob.session.BeginGesture()
	bob.surface.AppendStroke(line(100, 100))
	bob.session.EndGesture()

	require.Eventually(t, func() bool { return alice.surface.Len() == 2 && bob.surface.Len() == 2 }, waitFor, poll)
	assert.Equal(t, encoded(t, alice.surface.Drawing()), encoded(t, bob.surface.Drawing()))

	for _, p := range []peer{alice, bob} {
		d := p.session.Diagnostics()
		assert.Equal(t, 1, d.StrokesSent)
		assert.Equal(t, 1, d.StrokesReceived)
	}
}

func TestSimultaneousIgnoresDuplicatesAndOwnStrokes(t *testing.T) {
	ctx := context.Background()
	b, code := newRoom(t, backend.ModeSimultaneous, "alice")
	alice := join(t, b, clockwork.NewFakeClock(), code, "alice")

	payload := encoded(t, ink.NewDrawing(line(5, 5)))
	size := canvasSize
	ev := backend.StrokeEvent{
		StrokeID:         "stroke-1",
		Payload:          payload,
		SenderID:         "bob",
		OriginalAuthorID: "bob",
		CanvasSize:       &size,
		CreatedAt:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, b.SendStroke(ctx, code, ev))
	require.NoError(t, b.SendStroke(ctx, code, ev))

	own := ev
	own.StrokeID = "stroke-2"
	own.SenderID = "carol"
	own.OriginalAuthorID = "alice"
	require.NoError(t, b.SendStroke(ctx, code, own))

	require.Eventually(t, func() bool { return alice.surface.Len() == 1 }, waitFor, poll)
	require.NoError(t, alice.session.SyncNow(ctx))
	assert.Equal(t, 1, alice.surface.Len())
	assert.Equal(t, 1, alice.session.Diagnostics().StrokesReceived)
}

func TestSimultaneousEchoesAreSent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b, code := newRoom(t, backend.ModeSimultaneous, "alice")
	alice := join(t, b, clock, code, "alice")
	bob := join(t, b, clock, code, "bob")

	require.NoError(t, alice.session.SetEcho(true, 3))
	alice.session.BeginGesture()
	alice.surface.AppendStroke(line(0, 0))
	alice.session.EndGesture()

	assert.Equal(t, 4, alice.surface.Len())
	require.Eventually(t, func() bool { return bob.surface.Len() == 4 }, waitFor, poll)
	assert.Equal(t, encoded(t, alice.surface.Drawing()), encoded(t, bob.surface.Drawing()))

	d := alice.session.Diagnostics()
	assert.Equal(t, 4, d.StrokesSent)
	assert.Equal(t, 3, d.EchoesGenerated)
}

func TestEchoedGestureRebuildCounters(t *testing.T) {
	ctx := context.Background()
	b, code := newRoom(t, backend.ModeSimultaneous, "alice")
	alice := join(t, b, clockwork.NewFakeClock(), code, "alice")

	require.NoError(t, alice.session.SetEcho(true, 2))
	before := alice.session.Diagnostics()
	alice.session.BeginGesture()
	alice.surface.AppendStroke(line(0, 0))
	alice.session.EndGesture()

	d := alice.session.Diagnostics()
	assert.Equal(t, before.RebuildsExecuted+1, d.RebuildsExecuted)
	assert.Equal(t, before.RebuildsDeferred, d.RebuildsDeferred)

	// Clearing the canvas does not wind the counters back.
	require.NoError(t, alice.session.Clear(ctx))
	cleared := alice.session.Diagnostics()
	assert.GreaterOrEqual(t, cleared.RebuildsExecuted, d.RebuildsExecuted)
	assert.GreaterOrEqual(t, cleared.RebuildsDeferred, d.RebuildsDeferred)
}

func TestSimultaneousScalesToReceiverCanvas(t *testing.T) {
	ctx := context.Background()
	b, code := newRoom(t, backend.ModeSimultaneous, "alice")
	alice := join(t, b, clockwork.NewFakeClock(), code, "alice")

	small := ink.Size{Width: 200, Height: 150}
	ev := backend.StrokeEvent{
		StrokeID:         "s1",
		Payload:          encoded(t, ink.NewDrawing(line(10, 10))),
		SenderID:         "bob",
		OriginalAuthorID: "bob",
		CanvasSize:       &small,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, b.SendStroke(ctx, code, ev))

	require.Eventually(t, func() bool { return alice.surface.Len() == 1 }, waitFor, poll)
	got := alice.surface.Drawing().Strokes[0]
	assert.InDelta(t, 20, got.Points[0].X, 1e-9)
	assert.InDelta(t, 20, got.Points[0].Y, 1e-9)
	assert.InDelta(t, 6, got.Width, 1e-9)
}

func TestSchedulerTicksSync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	clock := clockwork.NewFakeClock()
	b, code := newRoom(t, backend.ModeSimultaneous, "alice")
	alice := join(t, b, clock, code, "alice")
	bob := join(t, b, clock, code, "bob")

	// Drawn without a gesture end; only the periodic capture picks it up.
	alice.surface.AppendStroke(line(0, 0))

	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(scheduler.SimultaneousPeriod)

	require.Eventually(t, func() bool { return bob.surface.Len() == 1 }, waitFor, poll)
	assert.GreaterOrEqual(t, alice.session.Diagnostics().SyncTimerFires, 1)
}

func TestClearResetsCanvasAndRoom(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	b, code := newRoom(t, backend.ModeTurnBased, "alice")
	alice := join(t, b, clock, code, "alice")
	bob := join(t, b, clock, code, "bob")
	require.Eventually(t, alice.session.IsMyTurn, waitFor, poll)

	alice.surface.AppendStroke(line(0, 0))
	require.NoError(t, alice.session.SyncNow(ctx))
	require.NoError(t, alice.session.SetBackgroundImage(ctx, []byte("png")))
	require.Eventually(t, func() bool { return bob.surface.Len() == 1 }, waitFor, poll)
	require.Eventually(t, func() bool { return len(bob.session.Background()) > 0 }, waitFor, poll)

	require.NoError(t, alice.session.Clear(ctx))
	assert.Zero(t, alice.surface.Len())
	require.Eventually(t, func() bool { return alice.session.Background() == nil }, waitFor, poll)

	require.Eventually(t, func() bool { return bob.surface.Len() == 0 }, waitFor, poll)
	require.Eventually(t, func() bool { return bob.session.Background() == nil }, waitFor, poll)

	// A fresh stroke after the clear is new again.
	alice.surface.AppendStroke(line(5, 5))
	require.NoError(t, alice.session.SyncNow(ctx))
	require.Eventually(t, func() bool { return bob.surface.Len() == 1 }, waitFor, poll)
}

func TestBackgroundIsShared(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	b, code := newRoom(t, backend.ModeSimultaneous, "alice")
	alice := join(t, b, clock, code, "alice")
	bob := join(t, b, clock, code, "bob")

	require.NoError(t, alice.session.SetBackgroundImage(ctx, []byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, alice.session.Background())
	require.Eventually(t, func() bool { return string(bob.session.Background()) == "\x01\x02\x03" }, waitFor, poll)

	require.NoError(t, bob.session.ClearBackgroundImage(ctx))
	require.Eventually(t, func() bool { return alice.session.Background() == nil }, waitFor, poll)
}

func TestStopTerminates(t *testing.T) {
	b, code := newRoom(t, backend.ModeSimultaneous, "alice")
	alice := join(t, b, clockwork.NewFakeClock(), code, "alice")

	require.NoError(t, alice.session.Stop())
	assert.Equal(t, StateTerminated, alice.session.State())
	assert.False(t, alice.surface.Interactive())
	assert.ErrorIs(t, alice.session.SyncNow(context.Background()), ErrStopped)
	assert.NoError(t, alice.session.Stop())
}

func TestNextUser(t *testing.T) {
	tests := []struct {
		name  string
		users []string
		self  string
		want  string
	}{
		{"first other in sorted order", []string{"carol", "alice", "bob"}, "alice", "bob"},
		{"self sorts last", []string{"zed", "amy"}, "zed", "amy"},
		{"alone", []string{"alice"}, "alice", ""},
		{"empty", nil, "alice", ""},
		{"skips blank ids", []string{"", "bob"}, "alice", "bob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextUser(tt.users, tt.self))
		})
	}
}
