package session

import (
	"context"

	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/strokestore"
)

func (s *Session) onStroke(ev backend.StrokeEvent) {
	s.activity.MarkActivity()

	author := ev.OriginalAuthorID
	if author == "" {
		author = ev.SenderID
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}
	rec := strokestore.Record{
		ID:         ev.StrokeID,
		Payload:    ev.Payload,
		CreatedAt:  createdAt,
		SourceSize: ev.CanvasSize,
		AuthorID:   author,
	}
	if !s.store.IngestRemote(rec) {
		return
	}
	s.mu.Lock()
	s.count(&s.diag.StrokesReceived, eventStrokeReceived, 1)
	s.mu.Unlock()
}

func (s *Session) tickSimultaneous() {
	if len(s.store.CaptureLocal()) > 0 {
		s.activity.MarkActivity()
	}
}

// endGestureSimultaneous runs any rebuild that waited for the gesture, then
// captures what was just drawn. The gesture flag is already clear when echoes
// trigger their rebuild.
func (s *Session) endGestureSimultaneous() {
	s.store.EndGesture()
	s.store.CaptureLocal()
}

// emitStroke is the store's emitter: every captured record, echo or not, is
// sent with this user as both sender and author.
func (s *Session) emitStroke(rec strokestore.Record) {
	ev := backend.StrokeEvent{
		StrokeID:         rec.ID,
		Payload:          rec.Payload,
		SenderID:         s.cfg.UserID,
		OriginalAuthorID: rec.AuthorID,
		CanvasSize:       rec.SourceSize,
		CreatedAt:        rec.CreatedAt,
	}
	code := s.cfg.RoomCode
	s.enqueue("send_stroke", func(ctx context.Context) error {
		return s.backend.SendStroke(ctx, code, ev)
	})

	s.mu.Lock()
	s.count(&s.diag.StrokesSent, eventStrokeSent, 1)
	if rec.IsEcho() {
		s.count(&s.diag.EchoesGenerated, eventEcho, 1)
	}
	s.mu.Unlock()
}
