// Package memory is an in-process Backend. Every client sharing one Backend
// value sees the same rooms, which makes it the backend of choice for tests
// and single-process demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/rs/zerolog/log"
)

type room struct {
	mode       backend.Mode
	turn       string
	users      map[string]struct{}
	drawing    *backend.DrawingBlob
	background *backend.BackgroundImage
	strokes    []backend.StrokeEvent
	strokeIDs  map[string]struct{}

	turnSubs       map[int]func(string)
	drawingSubs    map[int]func(backend.DrawingBlob)
	strokeSubs     map[int]func(backend.StrokeEvent)
	backgroundSubs map[int]func(backend.BackgroundImage)
}

func newRoom(mode backend.Mode) *room {
	return &room{
		mode:           mode,
		users:          make(map[string]struct{}),
		strokeIDs:      make(map[string]struct{}),
		turnSubs:       make(map[int]func(string)),
		drawingSubs:    make(map[int]func(backend.DrawingBlob)),
		strokeSubs:     make(map[int]func(backend.StrokeEvent)),
		backgroundSubs: make(map[int]func(backend.BackgroundImage)),
	}
}

// Backend keeps rooms in memory and pushes changes to subscribers on
// per-subscription goroutines.
type Backend struct {
	mu        sync.Mutex
	rooms     map[string]*room
	mailboxes map[int]*backend.Mailbox
	nextID    int
	closed    bool
}

var _ backend.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{
		rooms:     make(map[string]*room),
		mailboxes: make(map[int]*backend.Mailbox),
	}
}

// room returns the named room. Callers hold b.mu.
func (b *Backend) room(code string) (*room, error) {
	if b.closed {
		return nil, backend.ErrClosed
	}
	r, ok := b.rooms[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrRoomNotFound, code)
	}
	return r, nil
}

func (b *Backend) CreateRoom(ctx context.Context, mode backend.Mode, creatorID string) (string, error) {
	if !mode.Valid() {
		return "", fmt.Errorf("%w: %q", backend.ErrInvalidMode, mode)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", backend.ErrClosed
	}

	code := backend.NewRoomCode()
	for _, taken := b.rooms[code]; taken; _, taken = b.rooms[code] {
		code = backend.NewRoomCode()
	}
	r := newRoom(mode)
	if mode == backend.ModeTurnBased {
		r.turn = creatorID
	}
	b.rooms[code] = r

	log.Info().Str("room", code).Str("mode", string(mode)).Str("creator", creatorID).Msg("room created")
	return code, nil
}

func (b *Backend) JoinRoom(ctx context.Context, code string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, backend.ErrClosed
	}
	_, ok := b.rooms[code]
	return ok, nil
}

func (b *Backend) RoomMode(ctx context.Context, code string) (backend.Mode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return "", err
	}
	return r.mode, nil
}

func (b *Backend) RegisterUser(ctx context.Context, code, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return err
	}
	r.users[userID] = struct{}{}
	return nil
}

func (b *Backend) Users(ctx context.Context, code string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (b *Backend) ObserveTurn(ctx context.Context, code string, fn func(string)) (backend.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return nil, err
	}
	id, mb := b.subscribe()
	deliver := func(userID string) { mb.Post(func() { fn(userID) }) }
	r.turnSubs[id] = deliver
	if r.turn != "" {
		deliver(r.turn)
	}
	return b.unsubscriber(id, func() { delete(r.turnSubs, id) }), nil
}

func (b *Backend) PassTurn(ctx context.Context, code, toUserID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return err
	}
	r.turn = toUserID
	for _, deliver := range r.turnSubs {
		deliver(toUserID)
	}
	return nil
}

func (b *Backend) SendDrawing(ctx context.Context, code string, blob backend.DrawingBlob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return err
	}
	r.drawing = &blob
	for _, deliver := range r.drawingSubs {
		deliver(blob)
	}
	return nil
}

func (b *Backend) ObserveDrawing(ctx context.Context, code string, fn func(backend.DrawingBlob)) (backend.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return nil, err
	}
	id, mb := b.subscribe()
	deliver := func(blob backend.DrawingBlob) { mb.Post(func() { fn(blob) }) }
	r.drawingSubs[id] = deliver
	if r.drawing != nil {
		deliver(*r.drawing)
	}
	return b.unsubscriber(id, func() { delete(r.drawingSubs, id) }), nil
}

func (b *Backend) ClearDrawing(ctx context.Context, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return err
	}
	r.drawing = nil
	for _, deliver := range r.drawingSubs {
		deliver(backend.DrawingBlob{})
	}
	return nil
}

func (b *Backend) SendStroke(ctx context.Context, code string, ev backend.StrokeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return err
	}
	if _, dup := r.strokeIDs[ev.StrokeID]; dup {
		return nil
	}
	r.strokeIDs[ev.StrokeID] = struct{}{}
	r.strokes = append(r.strokes, ev)
	for _, deliver := range r.strokeSubs {
		deliver(ev)
	}
	return nil
}

func (b *Backend) ObserveStrokes(ctx context.Context, code string, fn func(backend.StrokeEvent)) (backend.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return nil, err
	}
	id, mb := b.subscribe()
	seen := backend.NewSeen()
	deliver := func(ev backend.StrokeEvent) {
		mb.Post(func() {
			if seen.First(ev.StrokeID) {
				fn(ev)
			}
		})
	}
	r.strokeSubs[id] = deliver
	for _, ev := range r.strokes {
		deliver(ev)
	}
	return b.unsubscriber(id, func() { delete(r.strokeSubs, id) }), nil
}

func (b *Backend) SendBackground(ctx context.Context, code string, img backend.BackgroundImage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return err
	}
	r.background = &img
	for _, deliver := range r.backgroundSubs {
		deliver(img)
	}
	return nil
}

func (b *Backend) ObserveBackground(ctx context.Context, code string, fn func(backend.BackgroundImage)) (backend.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return nil, err
	}
	id, mb := b.subscribe()
	deliver := func(img backend.BackgroundImage) { mb.Post(func() { fn(img) }) }
	r.backgroundSubs[id] = deliver
	if r.background != nil {
		deliver(*r.background)
	}
	return b.unsubscriber(id, func() { delete(r.backgroundSubs, id) }), nil
}

func (b *Backend) ClearBackground(ctx context.Context, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.room(code)
	if err != nil {
		return err
	}
	r.background = nil
	for _, deliver := range r.backgroundSubs {
		deliver(backend.BackgroundImage{})
	}
	return nil
}

// Close stops every subscription. Further calls return backend.ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, mb := range b.mailboxes {
		mb.Close()
		delete(b.mailboxes, id)
	}
	return nil
}

// subscribe allocates a subscription id and mailbox. Callers hold b.mu.
func (b *Backend) subscribe() (int, *backend.Mailbox) {
	b.nextID++
	mb := backend.NewMailbox()
	b.mailboxes[b.nextID] = mb
	return b.nextID, mb
}

func (b *Backend) unsubscriber(id int, detach func()) backend.Subscription {
	var once sync.Once
	return backend.SubscriptionFunc(func() error {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			detach()
			if mb, ok := b.mailboxes[id]; ok {
				mb.Close()
				delete(b.mailboxes, id)
			}
		})
		return nil
	})
}
