package session

import (
	"context"
	"fmt"

	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/scaling"
	"github.com/mcdev12/drawwithfriends/go/internal/ink"
	"github.com/rs/zerolog/log"
)

func (s *Session) onTurn(userID string) {
	s.activity.MarkActivity()

	s.mu.Lock()
	wasMine := s.currentTurn == s.cfg.UserID
	s.currentTurn = userID
	mine := userID == s.cfg.UserID
	if mine {
		s.status = StatusMyTurn
	} else {
		s.status = StatusWaitingFor(userID)
	}
	s.mu.Unlock()

	s.surface.SetInteractive(mine)
	if mine && !wasMine {
		// Strokes already on the canvas came from earlier turns.
		s.lastSyncedCount = s.surface.Drawing().Len()
	}

	log.Info().
		Str("room", s.cfg.RoomCode).
		Str("user", s.cfg.UserID).
		Str("turn", userID).
		Msg("turn changed")
}

func (s *Session) onDrawing(blob backend.DrawingBlob) {
	s.activity.MarkActivity()

	if blob.EditorID != "" && blob.EditorID == s.cfg.UserID {
		return
	}
	if s.IsMyTurn() {
		log.Debug().Str("editor", blob.EditorID).Msg("ignoring shared drawing during own turn")
		return
	}

	s.receiving = true
	defer func() { s.receiving = false }()

	if len(blob.Payload) == 0 {
		s.surface.SetDrawing(ink.Drawing{})
		s.lastSyncedCount = 0
		s.echo.SetBaseline(0)
		log.Info().Str("room", s.cfg.RoomCode).Msg("shared drawing cleared")
		return
	}

	d, err := s.renderer.Decode(blob.Payload)
	if err != nil {
		log.Warn().Err(err).Str("editor", blob.EditorID).Msg("failed to decode shared drawing")
		return
	}
	if blob.CanvasSize != nil {
		var bounds ink.Rect
		if blob.ContentBounds != nil {
			bounds = *blob.ContentBounds
		}
		d = scaling.ScaleContent(s.renderer, d, *blob.CanvasSize, s.surface.Size(), bounds)
	}
	s.surface.SetDrawing(d)
	s.lastSyncedCount = d.Len()
	s.echo.SetBaseline(d.Len())

	s.mu.Lock()
	s.count(&s.diag.BlobsApplied, eventBlobApplied, 1)
	s.mu.Unlock()

	log.Debug().
		Str("editor", blob.EditorID).
		Int("strokes", d.Len()).
		Msg("applied shared drawing")
}

// tickTurnBased sends the whole drawing when this user holds the turn and
// has drawn something since the last send.
func (s *Session) tickTurnBased() {
	if s.receiving || !s.IsMyTurn() {
		return
	}
	if !s.surface.Size().Valid() {
		return
	}
	d := s.surface.Drawing()
	n := d.Len()
	if n == 0 || n <= s.lastSyncedCount {
		return
	}

	payload, err := s.renderer.Encode(d)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode drawing")
		return
	}
	size := s.surface.Size()
	bounds := s.renderer.Bounds(d)
	blob := backend.DrawingBlob{
		Payload:       payload,
		EditorID:      s.cfg.UserID,
		CanvasSize:    &size,
		ContentBounds: &bounds,
	}
	code := s.cfg.RoomCode
	s.enqueue("send_drawing", func(ctx context.Context) error {
		return s.backend.SendDrawing(ctx, code, blob)
	})
	s.lastSyncedCount = n
	s.activity.MarkActivity()

	s.mu.Lock()
	s.count(&s.diag.BlobsSent, eventBlobSent, 1)
	s.mu.Unlock()
}

// endGestureTurnBased adds echoes of the strokes drawn since the baseline
// straight onto the canvas.
func (s *Session) endGestureTurnBased() {
	s.store.EndGesture()
	d, added := s.echo.ApplyToDrawing(s.surface.Drawing())
	if added == 0 {
		return
	}
	s.surface.SetDrawing(d)
	s.mu.Lock()
	s.count(&s.diag.EchoesGenerated, eventEcho, added)
	s.mu.Unlock()
}

// PassTurnToNext hands the turn to the first other user in the room. The
// current drawing is flushed to the backend first so the next user starts
// from it. It returns the new turn holder, or "" if nobody else is present.
func (s *Session) PassTurnToNext(ctx context.Context) (string, error) {
	if s.State() != StateTurnBased {
		return "", ErrNotTurnBased
	}
	if err := s.SyncNow(ctx); err != nil {
		return "", fmt.Errorf("flush drawing: %w", err)
	}

	users, err := s.backend.Users(ctx, s.cfg.RoomCode)
	if err != nil {
		return "", fmt.Errorf("get users: %w", err)
	}
	next := NextUser(users, s.cfg.UserID)
	if next == "" {
		log.Info().Str("room", s.cfg.RoomCode).Msg("no other user to pass the turn to")
		return "", nil
	}
	if err := s.backend.PassTurn(ctx, s.cfg.RoomCode, next); err != nil {
		return "", fmt.Errorf("pass turn: %w", err)
	}
	s.activity.MarkActivity()

	log.Info().
		Str("room", s.cfg.RoomCode).
		Str("from", s.cfg.UserID).
		Str("to", next).
		Msg("passed turn")
	return next, nil
}
