// Package relay exposes a backend.Backend over a WebSocket so devices that
// cannot reach NATS or Postgres directly can still share rooms. Server wraps
// any Backend; Client implements Backend by talking to a Server.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
)

// Envelope is every frame on the wire. Requests carry a non-zero ID that the
// response echoes; pushes have ID 0 and name the subscription in Sub.
type Envelope struct {
	ID    uint64          `json:"id,omitempty"`
	Type  string          `json:"type"`
	Room  string          `json:"room,omitempty"`
	Sub   uint64          `json:"sub,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// Request types.
const (
	TypeCreateRoom      = "create_room"
	TypeJoinRoom        = "join_room"
	TypeRoomMode        = "room_mode"
	TypeRegisterUser    = "register_user"
	TypeUsers           = "users"
	TypePassTurn        = "pass_turn"
	TypeSendDrawing     = "send_drawing"
	TypeClearDrawing    = "clear_drawing"
	TypeSendStroke      = "send_stroke"
	TypeSendBackground  = "send_background"
	TypeClearBackground = "clear_background"
	TypeSubscribe       = "subscribe"
	TypeUnsubscribe     = "unsubscribe"
)

// Push types, also the stream names accepted by subscribe.
const (
	StreamTurn       = "turn"
	StreamDrawing    = "drawing"
	StreamStroke     = "stroke"
	StreamBackground = "background"
)

// Error codes mapped to backend sentinels.
const (
	codeRoomNotFound = "room_not_found"
	codeClosed       = "closed"
	codeInvalidMode  = "invalid_mode"
	codeBadRequest   = "bad_request"
	codeInternal     = "internal"
)

var errBadRequest = errors.New("bad request")

type createRoomData struct {
	Mode      backend.Mode `json:"mode"`
	CreatorID string       `json:"creator_id"`
}

type roomData struct {
	Room string `json:"room"`
}

type joinRoomData struct {
	Exists bool `json:"exists"`
}

type modeData struct {
	Mode backend.Mode `json:"mode"`
}

type userData struct {
	UserID string `json:"user_id"`
}

type usersData struct {
	Users []string `json:"users"`
}

type subscribeData struct {
	Stream string `json:"stream"`
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, backend.ErrRoomNotFound):
		return codeRoomNotFound
	case errors.Is(err, backend.ErrClosed):
		return codeClosed
	case errors.Is(err, backend.ErrInvalidMode):
		return codeInvalidMode
	case errors.Is(err, errBadRequest):
		return codeBadRequest
	}
	return codeInternal
}

// remoteError turns an error frame back into an error that matches the
// backend sentinels with errors.Is.
func remoteError(env Envelope) error {
	switch env.Code {
	case codeRoomNotFound:
		return fmt.Errorf("%w: %s", backend.ErrRoomNotFound, env.Error)
	case codeClosed:
		return fmt.Errorf("%w: %s", backend.ErrClosed, env.Error)
	case codeInvalidMode:
		return fmt.Errorf("%w: %s", backend.ErrInvalidMode, env.Error)
	}
	return fmt.Errorf("relay: %s", env.Error)
}

func encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", errBadRequest)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
