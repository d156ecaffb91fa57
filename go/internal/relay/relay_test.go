package relay

import (
	"context"
	"encoding/json"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend/backendtest"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend/memory"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/session"
	"github.com/mcdev12/drawwithfriends/go/internal/ink"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	b := memory.New()
	srv := NewServer(b, DefaultConnectionConfig())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		b.Close()
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), wsURL(ts), DefaultClientConfig())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Backend {
		_, ts := startRelay(t)
		return dial(t, ts)
	})
}

func TestHealthAndStats(t *testing.T) {
	srv, ts := startRelay(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	c := dial(t, ts)
	code, err := c.CreateRoom(context.Background(), backend.ModeSimultaneous, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.Stats().ActiveRooms == 1 }, 2*time.Second, 5*time.Millisecond)

	resp, err = http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.RoomConnections[code])

	c.Close()
	require.Eventually(t, func() bool { return srv.Stats().TotalConnections == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, srv.Stats().ActiveRooms)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := startRelay(t)
	c := dial(t, ts)
	_, err := c.JoinRoom(context.Background(), "123456")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "drawwithfriends_relay_requests_total")
}

func TestRemoteErrorsMatchSentinels(t *testing.T) {
	_, ts := startRelay(t)
	c := dial(t, ts)
	notFound := requestsTotal.WithLabelValues(TypeRoomMode, codeRoomNotFound)
	before := testutil.ToFloat64(notFound)

	_, err := c.RoomMode(context.Background(), "654321")
	assert.ErrorIs(t, err, backend.ErrRoomNotFound)
	assert.Equal(t, before+1, testutil.ToFloat64(notFound))

	err = c.PassTurn(context.Background(), "654321", "bob")
	assert.ErrorIs(t, err, backend.ErrRoomNotFound)
}

func TestClosedClient(t *testing.T) {
	_, ts := startRelay(t)
	c := dial(t, ts)
	require.NoError(t, c.Close())

	_, err := c.CreateRoom(context.Background(), backend.ModeTurnBased, "alice")
	assert.ErrorIs(t, err, backend.ErrClosed)
	_, err = c.ObserveTurn(context.Background(), "123456", func(string) {})
	assert.ErrorIs(t, err, backend.ErrClosed)
}

func TestMalformedRequests(t *testing.T) {
	_, ts := startRelay(t)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Envelope {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var env Envelope
		require.NoError(t, conn.ReadJSON(&env))
		return env
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, codeBadRequest, read().Code)

	require.NoError(t, conn.WriteJSON(Envelope{ID: 7, Type: "teleport"}))
	env := read()
	assert.Equal(t, uint64(7), env.ID)
	assert.Equal(t, codeBadRequest, env.Code)

	require.NoError(t, conn.WriteJSON(Envelope{ID: 8, Type: TypeSubscribe, Room: "123456", Data: json.RawMessage(`{"stream":"turn"}`)}))
	env = read()
	assert.Equal(t, uint64(8), env.ID)
	assert.Equal(t, codeBadRequest, env.Code)
}

func TestSessionsConvergeThroughRelay(t *testing.T) {
	_, ts := startRelay(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	aliceConn := dial(t, ts)
	bobConn := dial(t, ts)
	code, err := aliceConn.CreateRoom(ctx, backend.ModeSimultaneous, "alice")
	require.NoError(t, err)

	size := ink.Size{Width: 400, Height: 300}
	start := func(b backend.Backend, user string) (*session.Session, *ink.MemorySurface) {
		surface := ink.NewMemorySurface(size)
		cfg := session.DefaultConfig()
		cfg.RoomCode = code
		cfg.UserID = user
		cfg.Backend = b
		cfg.Surface = surface
		cfg.Clock = clock
		s, err := session.New(cfg)
		require.NoError(t, err)
		require.NoError(t, s.Start(ctx))
		t.Cleanup(func() { s.Stop() })
		return s, surface
	}
	alice, aliceSurface := start(aliceConn, "alice")
	bob, bobSurface := start(bobConn, "bob")

	stroke := ink.Stroke{
		Points: []ink.Point{{X: 10, Y: 10}, {X: 60, Y: 40}},
		Color:  color.RGBA{B: 255, A: 255},
		Width:  4,
	}
	alice.BeginGesture()
	aliceSurface.AppendStroke(stroke)
	alice.EndGesture()

	require.Eventually(t, func() bool { return bobSurface.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, stroke.Points, bobSurface.Drawing().Strokes[0].Points)
	assert.Equal(t, 1, bob.Diagnostics().StrokesReceived)

	users, err := bobConn.Users(ctx, code)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)
}
