package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/rs/zerolog/log"
)

// handle answers one request. The response carries the request's ID.
func (c *Connection) handle(req Envelope) Envelope {
	ctx, cancel := context.WithTimeout(c.ctx, c.server.config.RequestTimeout)
	defer cancel()

	data, err := c.dispatch(ctx, req)
	if err != nil {
		code := errorCode(err)
		requestsTotal.WithLabelValues(req.Type, code).Inc()
		if code == codeInternal {
			log.Error().
				Err(err).
				Str("connection_id", c.ID).
				Str("type", req.Type).
				Str("room", req.Room).
				Msg("relay request failed")
		}
		return Envelope{ID: req.ID, Type: req.Type, Room: req.Room, Sub: req.Sub, Error: err.Error(), Code: code}
	}
	requestsTotal.WithLabelValues(req.Type, "ok").Inc()

	raw, err := encode(data)
	if err != nil {
		return Envelope{ID: req.ID, Type: req.Type, Error: err.Error(), Code: codeInternal}
	}
	return Envelope{ID: req.ID, Type: req.Type, Room: req.Room, Sub: req.Sub, Data: raw}
}

func (c *Connection) dispatch(ctx context.Context, req Envelope) (any, error) {
	b := c.server.backend
	if req.ID == 0 {
		return nil, fmt.Errorf("%w: request id is required", errBadRequest)
	}

	switch req.Type {
	case TypeCreateRoom:
		var in createRoomData
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		code, err := b.CreateRoom(ctx, in.Mode, in.CreatorID)
		if err != nil {
			return nil, err
		}
		c.server.joinRoom(c, code)
		log.Info().Str("room", code).Str("mode", string(in.Mode)).Msg("room created via relay")
		return roomData{Room: code}, nil

	case TypeJoinRoom:
		ok, err := b.JoinRoom(ctx, req.Room)
		if err != nil {
			return nil, err
		}
		if ok {
			c.server.joinRoom(c, req.Room)
		}
		return joinRoomData{Exists: ok}, nil

	case TypeRoomMode:
		mode, err := b.RoomMode(ctx, req.Room)
		if err != nil {
			return nil, err
		}
		return modeData{Mode: mode}, nil

	case TypeRegisterUser:
		var in userData
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return nil, b.RegisterUser(ctx, req.Room, in.UserID)

	case TypeUsers:
		users, err := b.Users(ctx, req.Room)
		if err != nil {
			return nil, err
		}
		return usersData{Users: users}, nil

	case TypePassTurn:
		var in userData
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return nil, b.PassTurn(ctx, req.Room, in.UserID)

	case TypeSendDrawing:
		var blob backend.DrawingBlob
		if err := decode(req.Data, &blob); err != nil {
			return nil, err
		}
		return nil, b.SendDrawing(ctx, req.Room, blob)

	case TypeClearDrawing:
		return nil, b.ClearDrawing(ctx, req.Room)

	case TypeSendStroke:
		var ev backend.StrokeEvent
		if err := decode(req.Data, &ev); err != nil {
			return nil, err
		}
		return nil, b.SendStroke(ctx, req.Room, ev)

	case TypeSendBackground:
		var img backend.BackgroundImage
		if err := decode(req.Data, &img); err != nil {
			return nil, err
		}
		return nil, b.SendBackground(ctx, req.Room, img)

	case TypeClearBackground:
		return nil, b.ClearBackground(ctx, req.Room)

	case TypeSubscribe:
		var in subscribeData
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return nil, c.subscribe(ctx, req.Room, req.Sub, in.Stream)

	case TypeUnsubscribe:
		return nil, c.unsubscribe(req.Sub)
	}
	return nil, fmt.Errorf("%w: unknown request type %q", errBadRequest, req.Type)
}

// subscribe registers a backend observer whose callbacks become pushes
// tagged with the client's subscription id.
func (c *Connection) subscribe(ctx context.Context, code string, id uint64, stream string) error {
	if id == 0 {
		return fmt.Errorf("%w: subscription id is required", errBadRequest)
	}
	c.mu.Lock()
	_, dup := c.subs[id]
	c.mu.Unlock()
	if dup {
		return fmt.Errorf("%w: subscription %d already exists", errBadRequest, id)
	}

	push := func(v any) {
		raw, err := json.Marshal(v)
		if err != nil {
			log.Error().Err(err).Str("stream", stream).Msg("failed to marshal push")
			return
		}
		pushesTotal.WithLabelValues(stream).Inc()
		c.send(Envelope{Type: stream, Room: code, Sub: id, Data: raw})
	}

	b := c.server.backend
	var (
		sub backend.Subscription
		err error
	)
	switch stream {
	case StreamTurn:
		sub, err = b.ObserveTurn(ctx, code, func(userID string) { push(userData{UserID: userID}) })
	case StreamDrawing:
		sub, err = b.ObserveDrawing(ctx, code, func(blob backend.DrawingBlob) { push(blob) })
	case StreamStroke:
		sub, err = b.ObserveStrokes(ctx, code, func(ev backend.StrokeEvent) { push(ev) })
	case StreamBackground:
		sub, err = b.ObserveBackground(ctx, code, func(img backend.BackgroundImage) { push(img) })
	default:
		return fmt.Errorf("%w: unknown stream %q", errBadRequest, stream)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return sub.Unsubscribe()
	}
	c.subs[id] = sub
	c.mu.Unlock()
	c.server.joinRoom(c, code)
	return nil
}

func (c *Connection) unsubscribe(id uint64) error {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}
