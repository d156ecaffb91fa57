package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// outboxJob is one backend write. A job with a nil fn is a flush marker.
type outboxJob struct {
	name string
	fn   func(ctx context.Context) error
	done chan struct{}
}

// runLoop owns all session state. Every backend callback, scheduler tick and
// public call is funneled through s.events and run here one at a time.
func (s *Session) runLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	log.Debug().Str("room", s.cfg.RoomCode).Str("user", s.cfg.UserID).Msg("session loop started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("room", s.cfg.RoomCode).Msg("session loop shutting down")
			return
		case fn := <-s.events:
			fn()
		}
	}
}

// runOutbox performs backend writes in order, off the event loop.
func (s *Session) runOutbox(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.outbox:
			if job.fn != nil {
				if err := job.fn(ctx); err != nil {
					s.mu.Lock()
					s.count(&s.diag.BackendErrors, eventBackendError, 1)
					s.mu.Unlock()
					log.Error().
						Err(err).
						Str("room", s.cfg.RoomCode).
						Str("job", job.name).
						Msg("backend write failed")
				}
			}
			if job.done != nil {
				close(job.done)
			}
		}
	}
}

// post hands fn to the event loop, waiting until the loop accepts it. It
// reports false if the session stopped first.
func (s *Session) post(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// do runs fn on the event loop and waits for it to finish.
func (s *Session) do(fn func()) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	done := make(chan struct{})
	if !s.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-s.ctx.Done():
		return ErrStopped
	}
}

// enqueue schedules a backend write without blocking. When the outbox is
// full the write is dropped; the next tick resends turn-based drawings.
func (s *Session) enqueue(name string, fn func(ctx context.Context) error) {
	select {
	case s.outbox <- outboxJob{name: name, fn: fn}:
	default:
		s.mu.Lock()
		s.count(&s.diag.DroppedWrites, eventDropped, 1)
		s.mu.Unlock()
		log.Warn().Str("room", s.cfg.RoomCode).Str("job", name).Msg("outbox full, dropping write")
	}
}

// flush waits until every write enqueued so far has been attempted.
func (s *Session) flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.outbox <- outboxJob{name: "flush", done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrStopped
	}
}
