package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/rs/zerolog/log"
)

// ClientConfig tunes a relay Client.
type ClientConfig struct {
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	Header           http.Header
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   16 << 20,
	}
}

// Client is a backend.Backend served by a relay Server.
type Client struct {
	conn   *websocket.Conn
	config ClientConfig
	nextID atomic.Uint64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan Envelope
	subs    map[uint64]*clientSub
	closed  bool
	done    chan struct{}
}

type clientSub struct {
	mailbox *backend.Mailbox
	deliver func(json.RawMessage)
}

var _ backend.Backend = (*Client)(nil)

// Dial connects to the relay's WebSocket endpoint, e.g. ws://host:8080/ws.
func Dial(ctx context.Context, url string, config ClientConfig) (*Client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, config.Header)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	conn.SetReadLimit(config.MaxMessageSize)

	c := &Client{
		conn:    conn,
		config:  config,
		pending: make(map[uint64]chan Envelope),
		subs:    make(map[uint64]*clientSub),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	log.Info().Str("url", url).Msg("connected to relay")
	return c, nil
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("relay connection lost")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warn().Err(err).Msg("dropping malformed relay frame")
			continue
		}

		c.mu.Lock()
		if env.ID != 0 {
			ch, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ok {
				ch <- env
			}
			continue
		}
		sub, ok := c.subs[env.Sub]
		c.mu.Unlock()

		switch {
		case ok:
			data := env.Data
			sub.mailbox.Post(func() { sub.deliver(data) })
		case env.Error != "":
			log.Warn().Str("code", env.Code).Str("error", env.Error).Msg("relay reported an error")
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// shutdown fails every pending call and stops every subscription.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[uint64]*clientSub)
	c.pending = make(map[uint64]chan Envelope)
	close(c.done)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.mailbox.Close()
	}
	c.conn.Close()
}

// Close disconnects from the relay. Calls in flight fail with
// backend.ErrClosed.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Debug().Err(err).Msg("relay close frame")
	}
	c.shutdown()
	return nil
}

// call sends one request and waits for its response. out may be nil.
func (c *Client) call(ctx context.Context, typ, room string, sub uint64, in, out any) error {
	data, err := encode(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}

	id := c.nextID.Add(1)
	ch := make(chan Envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return backend.ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	frame, err := json.Marshal(Envelope{ID: id, Type: typ, Room: room, Sub: sub, Data: data})
	if err != nil {
		c.forget(id)
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err = c.conn.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		if c.isClosed() {
			return backend.ErrClosed
		}
		return fmt.Errorf("send %s: %w", typ, err)
	}

	select {
	case env := <-ch:
		if env.Error != "" {
			return remoteError(env)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", typ, err)
		}
		return nil
	case <-c.done:
		return backend.ErrClosed
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// subscribe registers the push handler before asking the relay, so pushes
// that overtake the response are not lost.
func (c *Client) subscribe(ctx context.Context, code, stream string, deliver func(json.RawMessage)) (backend.Subscription, error) {
	id := c.nextID.Add(1)
	sub := &clientSub{mailbox: backend.NewMailbox(), deliver: deliver}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.mailbox.Close()
		return nil, backend.ErrClosed
	}
	c.subs[id] = sub
	c.mu.Unlock()

	if err := c.call(ctx, TypeSubscribe, code, id, subscribeData{Stream: stream}, nil); err != nil {
		c.drop(id)
		return nil, err
	}

	var once sync.Once
	return backend.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			if !c.drop(id) {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteTimeout)
			defer cancel()
			err = c.call(ctx, TypeUnsubscribe, code, id, nil, nil)
			if errors.Is(err, backend.ErrClosed) {
				err = nil
			}
		})
		return err
	}), nil
}

// drop stops local delivery for a subscription and reports whether it was
// still registered.
func (c *Client) drop(id uint64) bool {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		sub.mailbox.Close()
	}
	return ok
}

func (c *Client) CreateRoom(ctx context.Context, mode backend.Mode, creatorID string) (string, error) {
	if !mode.Valid() {
		return "", fmt.Errorf("%w: %q", backend.ErrInvalidMode, mode)
	}
	var out roomData
	if err := c.call(ctx, TypeCreateRoom, "", 0, createRoomData{Mode: mode, CreatorID: creatorID}, &out); err != nil {
		return "", err
	}
	return out.Room, nil
}

func (c *Client) JoinRoom(ctx context.Context, code string) (bool, error) {
	var out joinRoomData
	if err := c.call(ctx, TypeJoinRoom, code, 0, nil, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

func (c *Client) RoomMode(ctx context.Context, code string) (backend.Mode, error) {
	var out modeData
	if err := c.call(ctx, TypeRoomMode, code, 0, nil, &out); err != nil {
		return "", err
	}
	return out.Mode, nil
}

func (c *Client) RegisterUser(ctx context.Context, code, userID string) error {
	return c.call(ctx, TypeRegisterUser, code, 0, userData{UserID: userID}, nil)
}

func (c *Client) Users(ctx context.Context, code string) ([]string, error) {
	var out usersData
	if err := c.call(ctx, TypeUsers, code, 0, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) ObserveTurn(ctx context.Context, code string, fn func(userID string)) (backend.Subscription, error) {
	return c.subscribe(ctx, code, StreamTurn, func(data json.RawMessage) {
		var in userData
		if err := json.Unmarshal(data, &in); err != nil {
			log.Warn().Err(err).Str("room", code).Msg("dropping malformed turn push")
			return
		}
		fn(in.UserID)
	})
}

func (c *Client) PassTurn(ctx context.Context, code, toUserID string) error {
	return c.call(ctx, TypePassTurn, code, 0, userData{UserID: toUserID}, nil)
}

func (c *Client) SendDrawing(ctx context.Context, code string, blob backend.DrawingBlob) error {
	return c.call(ctx, TypeSendDrawing, code, 0, blob, nil)
}

func (c *Client) ObserveDrawing(ctx context.Context, code string, fn func(blob backend.DrawingBlob)) (backend.Subscription, error) {
	return c.subscribe(ctx, code, StreamDrawing, func(data json.RawMessage) {
		var blob backend.DrawingBlob
		if err := json.Unmarshal(data, &blob); err != nil {
			log.Warn().Err(err).Str("room", code).Msg("dropping malformed drawing push")
			return
		}
		fn(blob)
	})
}

func (c *Client) ClearDrawing(ctx context.Context, code string) error {
	return c.call(ctx, TypeClearDrawing, code, 0, nil, nil)
}

func (c *Client) SendStroke(ctx context.Context, code string, ev backend.StrokeEvent) error {
	return c.call(ctx, TypeSendStroke, code, 0, ev, nil)
}

func (c *Client) ObserveStrokes(ctx context.Context, code string, fn func(ev backend.StrokeEvent)) (backend.Subscription, error) {
	seen := backend.NewSeen()
	return c.subscribe(ctx, code, StreamStroke, func(data json.RawMessage) {
		var ev backend.StrokeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Str("room", code).Msg("dropping malformed stroke push")
			return
		}
		if seen.First(ev.StrokeID) {
			fn(ev)
		}
	})
}

func (c *Client) SendBackground(ctx context.Context, code string, img backend.BackgroundImage) error {
	return c.call(ctx, TypeSendBackground, code, 0, img, nil)
}

func (c *Client) ObserveBackground(ctx context.Context, code string, fn func(img backend.BackgroundImage)) (backend.Subscription, error) {
	return c.subscribe(ctx, code, StreamBackground, func(data json.RawMessage) {
		var img backend.BackgroundImage
		if err := json.Unmarshal(data, &img); err != nil {
			log.Warn().Err(err).Str("room", code).Msg("dropping malformed background push")
			return
		}
		fn(img)
	})
}

func (c *Client) ClearBackground(ctx context.Context, code string) error {
	return c.call(ctx, TypeClearBackground, code, 0, nil, nil)
}
