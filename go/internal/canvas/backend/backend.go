// Package backend defines the shared store that devices in a room sync
// through, and the values that travel over it.
package backend

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mcdev12/drawwithfriends/go/internal/ink"
)

var (
	// ErrRoomNotFound is returned for operations on a room that does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrClosed is returned after the backend has been closed.
	ErrClosed = errors.New("backend closed")
	// ErrInvalidMode is returned when a room is created with an unknown mode.
	ErrInvalidMode = errors.New("invalid room mode")
)

// Mode selects the collaboration protocol of a room.
type Mode string

const (
	ModeTurnBased    Mode = "turnBased"
	ModeSimultaneous Mode = "simultaneous"
)

func (m Mode) Valid() bool {
	return m == ModeTurnBased || m == ModeSimultaneous
}

// StrokeEvent is one stroke as it travels between devices. SenderID is who
// put it on the wire; OriginalAuthorID is who drew it.
type StrokeEvent struct {
	StrokeID         string    `json:"stroke_id"`
	Payload          []byte    `json:"payload"`
	SenderID         string    `json:"sender_id"`
	OriginalAuthorID string    `json:"original_author_id"`
	CanvasSize       *ink.Size `json:"canvas_size,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// DrawingBlob is the single shared drawing of a turn-based room. A nil
// Payload means the drawing was cleared.
type DrawingBlob struct {
	Payload       []byte    `json:"payload"`
	EditorID      string    `json:"editor_id"`
	CanvasSize    *ink.Size `json:"canvas_size,omitempty"`
	ContentBounds *ink.Rect `json:"content_bounds,omitempty"`
}

// BackgroundImage is an encoded image shown beneath the strokes. A nil Data
// means the background was cleared.
type BackgroundImage struct {
	Data     []byte `json:"data"`
	EditorID string `json:"editor_id"`
}

// Subscription is an active observer registration.
type Subscription interface {
	Unsubscribe() error
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error { return f() }

// Backend is a pub/sub key-value store shared by every device in a room.
//
// Observe methods deliver the current value (if any) and then every change.
// Callbacks for one subscription are delivered sequentially. ObserveStrokes
// delivers each stroke id at most once per subscription.
type Backend interface {
	CreateRoom(ctx context.Context, mode Mode, creatorID string) (string, error)
	JoinRoom(ctx context.Context, code string) (bool, error)
	RoomMode(ctx context.Context, code string) (Mode, error)

	RegisterUser(ctx context.Context, code, userID string) error
	Users(ctx context.Context, code string) ([]string, error)

	ObserveTurn(ctx context.Context, code string, fn func(userID string)) (Subscription, error)
	PassTurn(ctx context.Context, code, toUserID string) error

	SendDrawing(ctx context.Context, code string, blob DrawingBlob) error
	ObserveDrawing(ctx context.Context, code string, fn func(blob DrawingBlob)) (Subscription, error)
	ClearDrawing(ctx context.Context, code string) error

	SendStroke(ctx context.Context, code string, ev StrokeEvent) error
	ObserveStrokes(ctx context.Context, code string, fn func(ev StrokeEvent)) (Subscription, error)

	SendBackground(ctx context.Context, code string, img BackgroundImage) error
	ObserveBackground(ctx context.Context, code string, fn func(img BackgroundImage)) (Subscription, error)
	ClearBackground(ctx context.Context, code string) error

	Close() error
}

// NewRoomCode returns a random six-digit, zero-padded room code.
func NewRoomCode() string {
	return fmt.Sprintf("%06d", rand.IntN(1000000))
}

// ValidRoomCode reports whether code has the shape NewRoomCode produces.
func ValidRoomCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Seen deduplicates stroke ids for one subscription.
type Seen struct {
	ids map[string]struct{}
}

func NewSeen() *Seen {
	return &Seen{ids: make(map[string]struct{})}
}

// First reports whether id is new, and remembers it.
func (s *Seen) First(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}
