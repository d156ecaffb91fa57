// Package natsbackend keeps rooms in NATS JetStream. Room slots (mode, turn,
// drawing, background, users) live in a key-value bucket; strokes are an
// append-only stream with server-side dedup on the stroke id.
package natsbackend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Config holds connection and storage settings.
type Config struct {
	URL             string
	Bucket          string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long strokes are kept
	DuplicateWindow time.Duration // Window for stroke id dedup
	Replicas        int
}

// DefaultConfig returns the default JetStream layout.
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		Bucket:          "drawwithfriends_rooms",
		StreamName:      "DRAW_STROKES",
		SubjectPrefix:   "rooms",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		DuplicateWindow: 2 * time.Hour,
		Replicas:        1,
	}
}

// Backend implements backend.Backend on JetStream.
type Backend struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	stream jetstream.Stream
	cfg    Config

	mu     sync.Mutex
	closed bool
	stops  map[int]func()
	nextID int
}

var _ backend.Backend = (*Backend)(nil)

// New connects to NATS and makes sure the bucket and stream exist.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	opts := []nats.Option{
		nats.Name("drawwithfriends"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b := &Backend{nc: nc, js: js, cfg: cfg, stops: make(map[int]func())}
	if err := b.ensure(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) ensure(ctx context.Context) error {
	kv, err := b.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      b.cfg.Bucket,
		Description: "Draw With Friends room slots",
		History:     1,
		Storage:     jetstream.FileStorage,
		Replicas:    b.cfg.Replicas,
	})
	if err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	b.kv = kv

	stream, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        b.cfg.StreamName,
		Description: "Draw With Friends strokes",
		Subjects:    []string{fmt.Sprintf("%s.*.strokes", b.cfg.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      b.cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    b.cfg.Replicas,
		Duplicates:  b.cfg.DuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}
	b.stream = stream

	log.Info().
		Str("bucket", b.cfg.Bucket).
		Str("stream", b.cfg.StreamName).
		Msg("JetStream backend ready")
	return nil
}

func (b *Backend) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrClosed
	}
	return nil
}

// requireRoom fails with ErrRoomNotFound unless the room's mode key exists.
func (b *Backend) requireRoom(ctx context.Context, code string) (backend.Mode, error) {
	if err := b.checkOpen(); err != nil {
		return "", err
	}
	if !backend.ValidRoomCode(code) {
		return "", fmt.Errorf("%w: %s", backend.ErrRoomNotFound, code)
	}
	entry, err := b.kv.Get(ctx, modeKey(code))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", backend.ErrRoomNotFound, code)
	}
	if err != nil {
		return "", fmt.Errorf("get room mode: %w", err)
	}
	return backend.Mode(entry.Value()), nil
}

func (b *Backend) CreateRoom(ctx context.Context, mode backend.Mode, creatorID string) (string, error) {
	if !mode.Valid() {
		return "", fmt.Errorf("%w: %q", backend.ErrInvalidMode, mode)
	}
	if err := b.checkOpen(); err != nil {
		return "", err
	}

	var code string
	for {
		code = backend.NewRoomCode()
		_, err := b.kv.Create(ctx, modeKey(code), []byte(mode))
		if err == nil {
			break
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return "", fmt.Errorf("create room: %w", err)
		}
	}
	if mode == backend.ModeTurnBased {
		if _, err := b.kv.Put(ctx, turnKey(code), []byte(creatorID)); err != nil {
			return "", fmt.Errorf("set initial turn: %w", err)
		}
	}

	log.Info().Str("room", code).Str("mode", string(mode)).Str("creator", creatorID).Msg("room created")
	return code, nil
}

func (b *Backend) JoinRoom(ctx context.Context, code string) (bool, error) {
	_, err := b.requireRoom(ctx, code)
	if errors.Is(err, backend.ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) RoomMode(ctx context.Context, code string) (backend.Mode, error) {
	return b.requireRoom(ctx, code)
}

func (b *Backend) RegisterUser(ctx context.Context, code, userID string) error {
	if _, err := b.requireRoom(ctx, code); err != nil {
		return err
	}
	if _, err := b.kv.Put(ctx, userKey(code, userID), []byte(userID)); err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}

func (b *Backend) Users(ctx context.Context, code string) ([]string, error) {
	if _, err := b.requireRoom(ctx, code); err != nil {
		return nil, err
	}
	w, err := b.kv.Watch(ctx, usersPattern(code), jetstream.MetaOnly(), jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("watch users: %w", err)
	}
	defer w.Stop()

	var users []string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			if !ok || entry == nil {
				return sortedUsers(users), nil
			}
			if u, ok := userFromKey(entry.Key()); ok {
				users = append(users, u)
			}
		}
	}
}

func (b *Backend) ObserveTurn(ctx context.Context, code string, fn func(string)) (backend.Subscription, error) {
	if _, err := b.requireRoom(ctx, code); err != nil {
		return nil, err
	}
	return b.watch(ctx, turnKey(code), func(value []byte, deleted bool) {
		if deleted {
			return
		}
		fn(string(value))
	})
}

func (b *Backend) PassTurn(ctx context.Context, code, toUserID string) error {
	if _, err := b.requireRoom(ctx, code); err != nil {
		return err
	}
	if _, err := b.kv.Put(ctx, turnKey(code), []byte(toUserID)); err != nil {
		return fmt.Errorf("pass turn: %w", err)
	}
	return nil
}

func (b *Backend) SendDrawing(ctx context.Context, code string, blob backend.DrawingBlob) error {
	return b.putJSON(ctx, code, drawingKey(code), blob)
}

func (b *Backend) ObserveDrawing(ctx context.Context, code string, fn func(backend.DrawingBlob)) (backend.Subscription, error) {
	if _, err := b.requireRoom(ctx, code); err != nil {
		return nil, err
	}
	return b.watch(ctx, drawingKey(code), func(value []byte, deleted bool) {
		var blob backend.DrawingBlob
		if !deleted {
			if err := json.Unmarshal(value, &blob); err != nil {
				log.Warn().Err(err).Str("room", code).Msg("bad drawing entry")
				return
			}
		}
		fn(blob)
	})
}

func (b *Backend) ClearDrawing(ctx context.Context, code string) error {
	return b.deleteKey(ctx, code, drawingKey(code))
}

func (b *Backend) SendBackground(ctx context.Context, code string, img backend.BackgroundImage) error {
	return b.putJSON(ctx, code, backgroundKey(code), img)
}

func (b *Backend) ObserveBackground(ctx context.Context, code string, fn func(backend.BackgroundImage)) (backend.Subscription, error) {
	if _, err := b.requireRoom(ctx, code); err != nil {
		return nil, err
	}
	return b.watch(ctx, backgroundKey(code), func(value []byte, deleted bool) {
		var img backend.BackgroundImage
		if !deleted {
			if err := json.Unmarshal(value, &img); err != nil {
				log.Warn().Err(err).Str("room", code).Msg("bad background entry")
				return
			}
		}
		fn(img)
	})
}

func (b *Backend) ClearBackground(ctx context.Context, code string) error {
	return b.deleteKey(ctx, code, backgroundKey(code))
}

func (b *Backend) SendStroke(ctx context.Context, code string, ev backend.StrokeEvent) error {
	if _, err := b.requireRoom(ctx, code); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stroke: %w", err)
	}
	ack, err := b.js.Publish(ctx, strokeSubject(b.cfg.SubjectPrefix, code), data, jetstream.WithMsgID(strokeMsgID(code, ev.StrokeID)))
	if err != nil {
		return fmt.Errorf("publish stroke: %w", err)
	}
	if ack.Duplicate {
		log.Debug().Str("room", code).Str("stroke", ev.StrokeID).Msg("duplicate stroke ignored by stream")
	}
	return nil
}

func (b *Backend) ObserveStrokes(ctx context.Context, code string, fn func(backend.StrokeEvent)) (backend.Subscription, error) {
	if _, err := b.requireRoom(ctx, code); err != nil {
		return nil, err
	}
	consumer, err := b.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{strokeSubject(b.cfg.SubjectPrefix, code)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create stroke consumer: %w", err)
	}

	// Consume callbacks run one at a time.
	seen := backend.NewSeen()
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var ev backend.StrokeEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject()).Msg("bad stroke message")
			return
		}
		if seen.First(ev.StrokeID) {
			fn(ev)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("consume strokes: %w", err)
	}
	return b.track(cc.Stop), nil
}

// watch follows one key. The handler sees the current value (if any) and
// every later put or delete.
func (b *Backend) watch(ctx context.Context, key string, handle func(value []byte, deleted bool)) (backend.Subscription, error) {
	watchCtx, cancel := context.WithCancel(context.Background())
	w, err := b.kv.Watch(watchCtx, key)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", key, err)
	}

	go func() {
		initial := true
		for {
			select {
			case <-watchCtx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				if entry == nil {
					initial = false
					continue
				}
				switch entry.Operation() {
				case jetstream.KeyValuePut:
					handle(entry.Value(), false)
				case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
					// A deleted slot at subscribe time is just an empty slot.
					if !initial {
						handle(nil, true)
					}
				}
			}
		}
	}()

	return b.track(func() {
		cancel()
		if err := w.Stop(); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("stop watcher")
		}
	}), nil
}

func (b *Backend) putJSON(ctx context.Context, code, key string, v any) error {
	if _, err := b.requireRoom(ctx, code); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if _, err := b.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (b *Backend) deleteKey(ctx context.Context, code, key string) error {
	if _, err := b.requireRoom(ctx, code); err != nil {
		return err
	}
	if err := b.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// track registers stop so Close can run it, and returns a subscription that
// runs it once.
func (b *Backend) track(stop func()) backend.Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.stops[id] = stop
	b.mu.Unlock()

	return backend.SubscriptionFunc(func() error {
		b.mu.Lock()
		fn, ok := b.stops[id]
		delete(b.stops, id)
		b.mu.Unlock()
		if ok {
			fn()
		}
		return nil
	})
}

// Close stops every subscription and drains the connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	stops := b.stops
	b.stops = make(map[int]func())
	b.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	log.Info().Msg("closing NATS backend")
	return b.nc.Drain()
}

func modeKey(code string) string       { return code + ".mode" }
func turnKey(code string) string       { return code + ".turn" }
func drawingKey(code string) string    { return code + ".drawing" }
func backgroundKey(code string) string { return code + ".background" }
func usersPattern(code string) string  { return code + ".users.*" }

// userKey encodes the id so any user id is a legal key token.
func userKey(code, userID string) string {
	return code + ".users." + base64.RawURLEncoding.EncodeToString([]byte(userID))
}

func userFromKey(key string) (string, bool) {
	i := strings.LastIndex(key, ".users.")
	if i < 0 {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(key[i+len(".users."):])
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// strokeMsgID scopes dedup to the room; the stream's window is shared by
// every room.
func strokeMsgID(code, strokeID string) string {
	return code + ":" + strokeID
}

func strokeSubject(prefix, code string) string {
	return fmt.Sprintf("%s.%s.strokes", prefix, code)
}

func sortedUsers(users []string) []string {
	sort.Strings(users)
	return users
}
