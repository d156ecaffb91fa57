// Package pgbackend keeps rooms in Postgres. Writes are plain statements;
// triggers publish "<room>:<slot>" on a LISTEN channel and each subscription
// re-reads its slot when poked. A fallback poll covers missed notifications.
package pgbackend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/mcdev12/drawwithfriends/go/internal/ink"
	"github.com/mcdev12/drawwithfriends/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

// Slot names carried in notification payloads.
const (
	slotTurn       = "turn"
	slotDrawing    = "drawing"
	slotBackground = "background"
	slotStrokes    = "strokes"
)

type Config struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to re-read every subscribed slot
	PingInterval     time.Duration
	MinReconnect     time.Duration
	MaxReconnect     time.Duration
	StrokeBatchSize  int32 // Max strokes fetched per read
}

func DefaultConfig() Config {
	return Config{
		NotifyChannel:    NotifyChannel,
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
		MinReconnect:     10 * time.Second,
		MaxReconnect:     time.Minute,
		StrokeBatchSize:  500,
	}
}

// Backend implements backend.Backend on Postgres.
type Backend struct {
	db       *sql.DB
	queries  *Queries
	listener *pq.Listener
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	subs   map[string]map[int]*subscriber
	nextID int
}

var _ backend.Backend = (*Backend)(nil)

// subscriber re-reads one slot of one room whenever it is poked.
type subscriber struct {
	slot   string
	poke   chan struct{}
	cancel context.CancelFunc
}

func (s *subscriber) nudge() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// New starts listening for room events. The caller owns db.
func New(db *sql.DB, cfg Config) (*Backend, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for room events")

	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		db:       db,
		queries:  NewQueries(db),
		listener: l,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]map[int]*subscriber),
	}
	b.wg.Add(1)
	go b.run()
	return b, nil
}

func (b *Backend) run() {
	defer b.wg.Done()

	pingTicker := time.NewTicker(b.cfg.PingInterval)
	fallbackTicker := time.NewTicker(b.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case note := <-b.listener.Notify:
			if note == nil {
				// Connection was re-established; anything may have been missed.
				b.nudgeAll()
				continue
			}
			code, slot, ok := parseNotification(note.Extra)
			if !ok {
				log.Warn().Str("payload", note.Extra).Msg("unexpected notification")
				continue
			}
			b.nudge(code, slot)
		case <-fallbackTicker.C:
			b.nudgeAll()
		case <-pingTicker.C:
			if err := b.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (b *Backend) nudge(code, slot string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[code] {
		if s.slot == slot {
			s.nudge()
		}
	}
}

func (b *Backend) nudgeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, room := range b.subs {
		for _, s := range room {
			s.nudge()
		}
	}
}

func (b *Backend) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrClosed
	}
	return nil
}

func (b *Backend) getRoom(ctx context.Context, code string) (Room, error) {
	if err := b.checkOpen(); err != nil {
		return Room{}, err
	}
	r, err := b.queries.GetRoom(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, fmt.Errorf("%w: %s", backend.ErrRoomNotFound, code)
	}
	if err != nil {
		return Room{}, fmt.Errorf("failed to get room: %w", err)
	}
	return r, nil
}

func (b *Backend) CreateRoom(ctx context.Context, mode backend.Mode, creatorID string) (string, error) {
	if !mode.Valid() {
		return "", fmt.Errorf("%w: %q", backend.ErrInvalidMode, mode)
	}
	if err := b.checkOpen(); err != nil {
		return "", err
	}

	var code string
	for created := false; !created; {
		code = backend.NewRoomCode()
		err := sqlutil.Run(ctx, b.db, func(tx *sql.Tx) *Queries { return NewQueries(tx) }, func(q *Queries) error {
			ok, err := q.InsertRoom(ctx, code, string(mode))
			if err != nil || !ok {
				return err
			}
			created = true
			if mode == backend.ModeTurnBased {
				return q.SetTurn(ctx, code, creatorID)
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to create room: %w", err)
		}
	}

	log.Info().Str("room", code).Str("mode", string(mode)).Str("creator", creatorID).Msg("room created")
	return code, nil
}

func (b *Backend) JoinRoom(ctx context.Context, code string) (bool, error) {
	_, err := b.getRoom(ctx, code)
	if errors.Is(err, backend.ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) RoomMode(ctx context.Context, code string) (backend.Mode, error) {
	r, err := b.getRoom(ctx, code)
	if err != nil {
		return "", err
	}
	return backend.Mode(r.Mode), nil
}

func (b *Backend) RegisterUser(ctx context.Context, code, userID string) error {
	if _, err := b.getRoom(ctx, code); err != nil {
		return err
	}
	if err := b.queries.AddUser(ctx, code, userID); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	return nil
}

func (b *Backend) Users(ctx context.Context, code string) ([]string, error) {
	if _, err := b.getRoom(ctx, code); err != nil {
		return nil, err
	}
	users, err := b.queries.ListUsers(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (b *Backend) ObserveTurn(ctx context.Context, code string, fn func(string)) (backend.Subscription, error) {
	if _, err := b.getRoom(ctx, code); err != nil {
		return nil, err
	}
	var last string
	return b.subscribe(code, slotTurn, func(ctx context.Context) error {
		r, err := b.queries.GetRoom(ctx, code)
		if err != nil {
			return err
		}
		if r.Turn.Valid && r.Turn.String != last {
			last = r.Turn.String
			fn(last)
		}
		return nil
	}), nil
}

func (b *Backend) PassTurn(ctx context.Context, code, toUserID string) error {
	if _, err := b.getRoom(ctx, code); err != nil {
		return err
	}
	if err := b.queries.SetTurn(ctx, code, toUserID); err != nil {
		return fmt.Errorf("failed to pass turn: %w", err)
	}
	return nil
}

func (b *Backend) SendDrawing(ctx context.Context, code string, blob backend.DrawingBlob) error {
	if _, err := b.getRoom(ctx, code); err != nil {
		return err
	}
	d := Drawing{
		Payload:       blob.Payload,
		EditorID:      blob.EditorID,
		CanvasSize:    toNullJSON(blob.CanvasSize),
		ContentBounds: toNullJSON(blob.ContentBounds),
	}
	if d.Payload == nil {
		d.Payload = []byte{}
	}
	if err := b.queries.UpsertDrawing(ctx, code, d); err != nil {
		return fmt.Errorf("failed to save drawing: %w", err)
	}
	return nil
}

func (b *Backend) ObserveDrawing(ctx context.Context, code string, fn func(backend.DrawingBlob)) (backend.Subscription, error) {
	if _, err := b.getRoom(ctx, code); err != nil {
		return nil, err
	}
	var last int64
	return b.subscribe(code, slotDrawing, func(ctx context.Context) error {
		d, err := b.queries.GetDrawing(ctx, code)
		if errors.Is(err, sql.ErrNoRows) {
			if last != 0 {
				last = 0
				fn(backend.DrawingBlob{})
			}
			return nil
		}
		if err != nil {
			return err
		}
		if d.Version == last {
			return nil
		}
		last = d.Version
		blob := backend.DrawingBlob{Payload: d.Payload, EditorID: d.EditorID}
		blob.CanvasSize = fromNullJSON[ink.Size](d.CanvasSize)
		blob.ContentBounds = fromNullJSON[ink.Rect](d.ContentBounds)
		fn(blob)
		return nil
	}), nil
}

func (b *Backend) ClearDrawing(ctx context.Context, code string) error {
	if _, err := b.getRoom(ctx, code); err != nil {
		return err
	}
	if err := b.queries.DeleteDrawing(ctx, code); err != nil {
		return fmt.Errorf("failed to clear drawing: %w", err)
	}
	return nil
}

func (b *Backend) SendStroke(ctx context.Context, code string, ev backend.StrokeEvent) error {
	if _, err := b.getRoom(ctx, code); err != nil {
		return err
	}
	// ObserveStrokes reads past a seq cursor; a lower seq committing after a
	// higher one would be skipped for good.
	err := sqlutil.Run(ctx, b.db, func(tx *sql.Tx) *Queries { return NewQueries(tx) }, func(q *Queries) error {
		if err := q.LockRoomStrokes(ctx, code); err != nil {
			return err
		}
		return q.InsertStroke(ctx, code, Stroke{
			StrokeID:         ev.StrokeID,
			Payload:          ev.Payload,
			SenderID:         ev.SenderID,
			OriginalAuthorID: ev.OriginalAuthorID,
			CanvasSize:       toNullJSON(ev.CanvasSize),
			CreatedAt:        ev.CreatedAt,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to save stroke: %w", err)
	}
	return nil
}

func (b *Backend) ObserveStrokes(ctx context.Context, code string, fn func(backend.StrokeEvent)) (backend.Subscription, error) {
	if _, err := b.getRoom(ctx, code); err != nil {
		return nil, err
	}
	var after int64
	seen := backend.NewSeen()
	return b.subscribe(code, slotStrokes, func(ctx context.Context) error {
		for {
			batch, err := b.queries.ListStrokesAfter(ctx, code, after, b.cfg.StrokeBatchSize)
			if err != nil {
				return err
			}
			for _, s := range batch {
				after = s.Seq
				if !seen.First(s.StrokeID) {
					continue
				}
				fn(backend.StrokeEvent{
					StrokeID:         s.StrokeID,
					Payload:          s.Payload,
					SenderID:         s.SenderID,
					OriginalAuthorID: s.OriginalAuthorID,
					CanvasSize:       fromNullJSON[ink.Size](s.CanvasSize),
					CreatedAt:        s.CreatedAt,
				})
			}
			if int32(len(batch)) < b.cfg.StrokeBatchSize {
				return nil
			}
		}
	}), nil
}

func (b *Backend) SendBackground(ctx context.Context, code string, img backend.BackgroundImage) error {
	if _, err := b.getRoom(ctx, code); err != nil {
		return err
	}
	data := img.Data
	if data == nil {
		data = []byte{}
	}
	if err := b.queries.UpsertBackground(ctx, code, Background{Data: data, EditorID: img.EditorID}); err != nil {
		return fmt.Errorf("failed to save background: %w", err)
	}
	return nil
}

func (b *Backend) ObserveBackground(ctx context.Context, code string, fn func(backend.BackgroundImage)) (backend.Subscription, error) {
	if _, err := b.getRoom(ctx, code); err != nil {
		return nil, err
	}
	var last int64
	return b.subscribe(code, slotBackground, func(ctx context.Context) error {
		bg, err := b.queries.GetBackground(ctx, code)
		if errors.Is(err, sql.ErrNoRows) {
			if last != 0 {
				last = 0
				fn(backend.BackgroundImage{})
			}
			return nil
		}
		if err != nil {
			return err
		}
		if bg.Version == last {
			return nil
		}
		last = bg.Version
		fn(backend.BackgroundImage{Data: bg.Data, EditorID: bg.EditorID})
		return nil
	}), nil
}

func (b *Backend) ClearBackground(ctx context.Context, code string) error {
	if _, err := b.getRoom(ctx, code); err != nil {
		return err
	}
	if err := b.queries.DeleteBackground(ctx, code); err != nil {
		return fmt.Errorf("failed to clear background: %w", err)
	}
	return nil
}

// subscribe runs read once now and again on every poke until unsubscribed.
// read runs on a single goroutine, so it may keep state between calls.
func (b *Backend) subscribe(code, slot string, read func(ctx context.Context) error) backend.Subscription {
	ctx, cancel := context.WithCancel(b.ctx)
	s := &subscriber{slot: slot, poke: make(chan struct{}, 1), cancel: cancel}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[code] == nil {
		b.subs[code] = make(map[int]*subscriber)
	}
	b.subs[code][id] = s
	b.mu.Unlock()

	s.nudge()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.poke:
				if err := read(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Str("room", code).Str("slot", slot).Msg("failed to read slot")
				}
			}
		}
	}()

	return backend.SubscriptionFunc(func() error {
		b.mu.Lock()
		delete(b.subs[code], id)
		if len(b.subs[code]) == 0 {
			delete(b.subs, code)
		}
		b.mu.Unlock()
		cancel()
		return nil
	})
}

// Close stops every subscription and the listener. The database handle is
// left open.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.listener.Close()
}

func parseNotification(extra string) (code, slot string, ok bool) {
	code, slot, ok = strings.Cut(extra, ":")
	if !ok || code == "" {
		return "", "", false
	}
	switch slot {
	case slotTurn, slotDrawing, slotBackground, slotStrokes:
		return code, slot, true
	}
	return "", "", false
}

func toNullJSON[T any](v *T) pqtype.NullRawMessage {
	if v == nil {
		return pqtype.NullRawMessage{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}
}

func fromNullJSON[T any](m pqtype.NullRawMessage) *T {
	if !m.Valid || len(m.RawMessage) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(m.RawMessage, &v); err != nil {
		log.Warn().Err(err).Msg("bad json column")
		return nil
	}
	return &v
}
