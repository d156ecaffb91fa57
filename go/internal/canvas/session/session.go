// Package session runs one device's participation in a room. It picks the
// room's collaboration protocol on start and wires the stroke store, echo
// replicator and sync scheduler to the backend.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/echo"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/scheduler"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/strokestore"
	"github.com/mcdev12/drawwithfriends/go/internal/ink"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotStarted     = errors.New("session not started")
	ErrStopped        = errors.New("session stopped")
	ErrUnknownMode    = errors.New("unknown room mode")
	ErrNotTurnBased   = errors.New("room is not turn-based")
	ErrAlreadyStarted = errors.New("session already started")
)

// Status lines shown to the user.
const (
	StatusLoading  = "Loading…"
	StatusMyTurn   = "Your turn!"
	StatusTogether = "Draw together!"
)

// StatusWaitingFor is the status while another user holds the turn.
func StatusWaitingFor(userID string) string {
	return "Waiting for " + userID + "…"
}

// State is the session's position in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateTurnBased
	StateSimultaneous
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateTurnBased:
		return "turn_based"
	case StateSimultaneous:
		return "simultaneous"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Config holds everything a session needs.
type Config struct {
	RoomCode string
	UserID   string
	Backend  backend.Backend
	Surface  ink.Surface
	Renderer ink.Renderer
	Clock    clockwork.Clock

	TurnBasedPeriod     time.Duration
	SimultaneousPeriod  time.Duration
	InactivityThreshold time.Duration
	EventBufferSize     int
	OutboxSize          int
}

// DefaultConfig returns a config with the standard timings. Room, user,
// backend and surface still need to be set.
func DefaultConfig() Config {
	return Config{
		Renderer:            ink.NewVectorRenderer(),
		Clock:               clockwork.NewRealClock(),
		TurnBasedPeriod:     scheduler.TurnBasedPeriod,
		SimultaneousPeriod:  scheduler.SimultaneousPeriod,
		InactivityThreshold: scheduler.InactivityThreshold,
		EventBufferSize:     64,
		OutboxSize:          1024,
	}
}

// Session is one user's connection to one room.
type Session struct {
	cfg      Config
	backend  backend.Backend
	surface  ink.Surface
	renderer ink.Renderer
	clock    clockwork.Clock

	store    *strokestore.Store
	echo     *echo.Replicator
	activity *scheduler.Activity
	sched    *scheduler.Scheduler

	events chan func()
	outbox chan outboxJob

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
	stopOnce sync.Once
	subs     []backend.Subscription

	// Owned by the event loop.
	receiving       bool
	lastSyncedCount int

	// Readable from any goroutine.
	mu          sync.Mutex
	state       State
	mode        backend.Mode
	status      string
	currentTurn string
	background  []byte
	diag        Diagnostics
}

// New builds a session in the Uninitialized state: the surface is locked and
// the status reads "Loading…".
func New(cfg Config) (*Session, error) {
	def := DefaultConfig()
	if cfg.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	if cfg.Surface == nil {
		return nil, errors.New("session: surface is required")
	}
	if cfg.UserID == "" || cfg.RoomCode == "" {
		return nil, errors.New("session: room code and user id are required")
	}
	if cfg.Renderer == nil {
		cfg.Renderer = def.Renderer
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.TurnBasedPeriod <= 0 {
		cfg.TurnBasedPeriod = def.TurnBasedPeriod
	}
	if cfg.SimultaneousPeriod <= 0 {
		cfg.SimultaneousPeriod = def.SimultaneousPeriod
	}
	if cfg.InactivityThreshold <= 0 {
		cfg.InactivityThreshold = def.InactivityThreshold
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = def.OutboxSize
	}

	s := &Session{
		cfg:      cfg,
		backend:  cfg.Backend,
		surface:  cfg.Surface,
		renderer: cfg.Renderer,
		clock:    cfg.Clock,
		echo:     echo.NewReplicator(),
		activity: scheduler.NewActivity(cfg.Clock, cfg.InactivityThreshold),
		events:   make(chan func(), cfg.EventBufferSize),
		outbox:   make(chan outboxJob, cfg.OutboxSize),
		state:    StateUninitialized,
		status:   StatusLoading,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.store = strokestore.New(strokestore.Config{
		LocalUserID: cfg.UserID,
		Surface:     cfg.Surface,
		Renderer:    cfg.Renderer,
		Echo:        s.echo,
		Emit:        s.emitStroke,
		Clock:       cfg.Clock,
	})
	s.surface.SetInteractive(false)
	return s, nil
}

// Start reads the room's mode, registers the user and begins syncing. The
// mode is fixed for the life of the session.
func (s *Session) Start(ctx context.Context) error {
	if s.started.Load() {
		return ErrAlreadyStarted
	}
	code := s.cfg.RoomCode

	mode, err := s.backend.RoomMode(ctx, code)
	if err != nil {
		return fmt.Errorf("get room mode: %w", err)
	}
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if err := s.backend.RegisterUser(ctx, code, s.cfg.UserID); err != nil {
		return fmt.Errorf("register user: %w", err)
	}

	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()

	s.wg.Add(2)
	go s.runLoop(s.ctx, &s.wg)
	go s.runOutbox(s.ctx, &s.wg)
	s.started.Store(true)

	period := s.cfg.SimultaneousPeriod
	if mode == backend.ModeTurnBased {
		period = s.cfg.TurnBasedPeriod
	}

	if err := s.do(func() { s.enter(mode) }); err != nil {
		return err
	}
	if err := s.subscribe(ctx, mode); err != nil {
		s.Stop()
		return err
	}

	s.sched = scheduler.New(string(mode), s.clock, period, s.activity)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sched.Run(s.ctx, func(context.Context) { s.postTick() })
	}()

	log.Info().
		Str("room", code).
		Str("user", s.cfg.UserID).
		Str("mode", string(mode)).
		Dur("period", period).
		Msg("session started")
	return nil
}

func (s *Session) enter(mode backend.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch mode {
	case backend.ModeTurnBased:
		s.state = StateTurnBased
	case backend.ModeSimultaneous:
		s.state = StateSimultaneous
		s.status = StatusTogether
		s.surface.SetInteractive(true)
	}
}

func (s *Session) subscribe(ctx context.Context, mode backend.Mode) error {
	code := s.cfg.RoomCode
	add := func(sub backend.Subscription, err error, what string) error {
		if err != nil {
			return fmt.Errorf("observe %s: %w", what, err)
		}
		s.subs = append(s.subs, sub)
		return nil
	}

	switch mode {
	case backend.ModeTurnBased:
		sub, err := s.backend.ObserveTurn(ctx, code, func(userID string) {
			s.post(func() { s.onTurn(userID) })
		})
		if err := add(sub, err, "turn"); err != nil {
			return err
		}
		sub, err = s.backend.ObserveDrawing(ctx, code, func(blob backend.DrawingBlob) {
			s.post(func() { s.onDrawing(blob) })
		})
		if err := add(sub, err, "drawing"); err != nil {
			return err
		}
	case backend.ModeSimultaneous:
		sub, err := s.backend.ObserveStrokes(ctx, code, func(ev backend.StrokeEvent) {
			s.post(func() { s.onStroke(ev) })
		})
		if err := add(sub, err, "strokes"); err != nil {
			return err
		}
	}

	sub, err := s.backend.ObserveBackground(ctx, code, func(img backend.BackgroundImage) {
		s.post(func() { s.onBackground(img) })
	})
	return add(sub, err, "background")
}

// Stop unsubscribes from the room and shuts the session down. It is safe to
// call more than once.
func (s *Session) Stop() error {
	var errs []error
	s.stopOnce.Do(func() {
		for _, sub := range s.subs {
			if err := sub.Unsubscribe(); err != nil {
				errs = append(errs, err)
			}
		}
		s.subs = nil
		s.cancel()
		s.wg.Wait()

		s.mu.Lock()
		s.state = StateTerminated
		s.mu.Unlock()
		s.surface.SetInteractive(false)

		log.Info().Str("room", s.cfg.RoomCode).Str("user", s.cfg.UserID).Msg("session stopped")
	})
	return errors.Join(errs...)
}

// postTick queues a sync tick without blocking the scheduler. A busy loop
// drops the tick; the next one catches up.
func (s *Session) postTick() {
	select {
	case s.events <- s.tick:
	default:
		log.Debug().Str("room", s.cfg.RoomCode).Msg("session busy, skipping tick")
	}
}

func (s *Session) tick() {
	s.mu.Lock()
	s.count(&s.diag.SyncTimerFires, eventTick, 1)
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateTurnBased:
		s.tickTurnBased()
	case StateSimultaneous:
		s.tickSimultaneous()
	}
}

// SyncNow runs one sync pass immediately, ignoring the idle pause, and waits
// until the resulting writes reach the backend.
func (s *Session) SyncNow(ctx context.Context) error {
	if err := s.do(s.tick); err != nil {
		return err
	}
	return s.flush(ctx)
}

// BeginGesture is called when the user puts the pen down. Rebuilds wait
// until the gesture ends.
func (s *Session) BeginGesture() {
	s.activity.MarkActivity()
	if err := s.do(s.store.BeginGesture); err != nil {
		log.Debug().Err(err).Msg("begin gesture ignored")
	}
}

// EndGesture is called when the user lifts the pen.
func (s *Session) EndGesture() {
	s.activity.MarkActivity()
	err := s.do(func() {
		switch s.State() {
		case StateTurnBased:
			s.endGestureTurnBased()
		case StateSimultaneous:
			s.endGestureSimultaneous()
		}
	})
	if err != nil {
		log.Debug().Err(err).Msg("end gesture ignored")
	}
}

// MarkActivity keeps the sync scheduler awake.
func (s *Session) MarkActivity() {
	s.activity.MarkActivity()
}

// SetEcho configures echo replication. Only strokes drawn after this call
// are echoed.
func (s *Session) SetEcho(enabled bool, count int) error {
	return s.do(func() {
		if enabled {
			s.echo.Enable(count, s.surface.Drawing().Len())
		} else {
			s.echo.Disable()
		}
	})
}

// Clear empties the local canvas, forgets every known stroke and clears the
// room's shared drawing and background.
func (s *Session) Clear(ctx context.Context) error {
	err := s.do(func() {
		s.surface.SetDrawing(ink.Drawing{})
		s.store.Reset()
		s.lastSyncedCount = 0
		s.echo.SetBaseline(0)
	})
	if err != nil {
		return err
	}
	s.activity.MarkActivity()

	s.mu.Lock()
	s.background = nil
	s.mu.Unlock()

	var errs []error
	if err := s.backend.ClearDrawing(ctx, s.cfg.RoomCode); err != nil {
		errs = append(errs, fmt.Errorf("clear drawing: %w", err))
	}
	if err := s.backend.ClearBackground(ctx, s.cfg.RoomCode); err != nil {
		errs = append(errs, fmt.Errorf("clear background: %w", err))
	}
	return errors.Join(errs...)
}

// SetBackgroundImage shares an encoded image as the room's background.
func (s *Session) SetBackgroundImage(ctx context.Context, data []byte) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	s.mu.Lock()
	s.background = append([]byte(nil), data...)
	s.mu.Unlock()
	s.activity.MarkActivity()

	img := backend.BackgroundImage{Data: data, EditorID: s.cfg.UserID}
	if err := s.backend.SendBackground(ctx, s.cfg.RoomCode, img); err != nil {
		return fmt.Errorf("send background: %w", err)
	}
	return nil
}

// ClearBackgroundImage removes the room's background.
func (s *Session) ClearBackgroundImage(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	s.mu.Lock()
	s.background = nil
	s.mu.Unlock()
	if err := s.backend.ClearBackground(ctx, s.cfg.RoomCode); err != nil {
		return fmt.Errorf("clear background: %w", err)
	}
	return nil
}

func (s *Session) onBackground(img backend.BackgroundImage) {
	s.activity.MarkActivity()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(img.Data) == 0 {
		s.background = nil
		return
	}
	s.background = append([]byte(nil), img.Data...)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Mode() backend.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) CurrentTurn() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTurn
}

// IsMyTurn reports whether this user holds the turn. Always false outside
// turn-based rooms.
func (s *Session) IsMyTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateTurnBased && s.currentTurn == s.cfg.UserID
}

// Background returns the current background image, or nil.
func (s *Session) Background() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.background...)
}

// Diagnostics returns a snapshot of the session counters.
func (s *Session) Diagnostics() Diagnostics {
	var st strokestore.Stats
	haveStats := s.do(func() { st = s.store.Stats() }) == nil

	s.mu.Lock()
	defer s.mu.Unlock()
	if haveStats {
		s.diag.RebuildsExecuted = st.Rebuilds
		s.diag.RebuildsDeferred = st.Deferred
	}
	return s.diag
}

func (s *Session) RoomCode() string { return s.cfg.RoomCode }
func (s *Session) UserID() string   { return s.cfg.UserID }

// NextUser picks who receives the turn: the first other user in sorted
// order. It returns "" if there is nobody else.
func NextUser(users []string, self string) string {
	sorted := append([]string(nil), users...)
	sort.Strings(sorted)
	for _, u := range sorted {
		if u != "" && u != self {
			return u
		}
	}
	return ""
}
