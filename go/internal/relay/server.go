package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/rs/zerolog/log"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	RequestTimeout  time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		RequestTimeout:  10 * time.Second,
		MaxMessageSize:  16 << 20, // Background images travel in one frame
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		SendBufferSize:  1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Server relays Backend calls and pushes between WebSocket clients and one
// Backend.
type Server struct {
	backend  backend.Backend
	upgrader websocket.Upgrader
	config   ConnectionConfig

	// Connection pools organized by room code
	mu              sync.RWMutex
	connections     map[*Connection]bool
	roomConnections map[string]map[*Connection]bool
}

// Connection is one WebSocket client.
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	server *Server

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	subs  map[uint64]backend.Subscription
	rooms map[string]bool

	ConnectedAt time.Time
	closeOnce   sync.Once
}

func NewServer(b backend.Backend, config ConnectionConfig) *Server {
	return &Server{
		backend: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:          config,
		connections:     make(map[*Connection]bool),
		roomConnections: make(map[string]map[*Connection]bool),
	}
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, s.config.SendBufferSize),
		server:      s,
		ctx:         ctx,
		cancel:      cancel,
		subs:        make(map[uint64]backend.Subscription),
		rooms:       make(map[string]bool),
		ConnectedAt: time.Now(),
	}

	s.mu.Lock()
	s.connections[c] = true
	s.mu.Unlock()
	connectionsOpen.Inc()

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("remote", r.RemoteAddr).
		Msg("WebSocket connection established")
}

// joinRoom adds c to the room's pool.
func (s *Server) joinRoom(c *Connection, code string) {
	c.mu.Lock()
	already := c.rooms[code]
	c.rooms[code] = true
	c.mu.Unlock()
	if already {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomConnections[code] == nil {
		s.roomConnections[code] = make(map[*Connection]bool)
	}
	s.roomConnections[code][c] = true

	log.Debug().
		Str("connection_id", c.ID).
		Str("room", code).
		Int("room_connections", len(s.roomConnections[code])).
		Msg("connection joined room")
}

// unregister removes c from every pool.
func (s *Server) unregister(c *Connection) {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for code := range c.rooms {
		rooms = append(rooms, code)
	}
	c.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connections[c] {
		return
	}
	delete(s.connections, c)
	for _, code := range rooms {
		if pool, ok := s.roomConnections[code]; ok {
			delete(pool, c)
			// Clean up empty room pools
			if len(pool) == 0 {
				delete(s.roomConnections, code)
			}
		}
	}
	connectionsOpen.Dec()
}

// Stats describes the open connections.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalConnections: len(s.connections),
		ActiveRooms:      len(s.roomConnections),
		RoomConnections:  make(map[string]int, len(s.roomConnections)),
	}
	for code, pool := range s.roomConnections {
		stats.RoomConnections[code] = len(pool)
	}
	return stats
}

// Close disconnects every client. The Backend is left open.
func (s *Server) Close() {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

// close tears the connection down once. Cancelling first stops new
// subscriptions and pushes before the socket goes away.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[uint64]backend.Subscription)
		c.mu.Unlock()
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("unsubscribe on close")
			}
		}

		c.server.unregister(c)
		c.Conn.Close()

		log.Info().
			Str("connection_id", c.ID).
			Dur("connected_for", time.Since(c.ConnectedAt)).
			Msg("connection closed")
	})
}

// send queues a frame. A client that cannot keep up is disconnected.
func (c *Connection) send(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("type", env.Type).Msg("failed to marshal frame")
		return
	}
	select {
	case <-c.ctx.Done():
		return
	default:
	}
	select {
	case c.Send <- data:
	default:
		slowConsumers.Inc()
		log.Warn().
			Str("connection_id", c.ID).
			Msg("connection send buffer full, closing connection")
		go c.close()
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.Conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads requests and answers them in order.
func (c *Connection) readPump() {
	defer c.close()

	c.Conn.SetReadLimit(c.server.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout))

		var req Envelope
		if err := json.Unmarshal(message, &req); err != nil {
			c.send(Envelope{Type: "error", Error: fmt.Sprintf("invalid frame: %v", err), Code: codeBadRequest})
			continue
		}
		c.send(c.handle(req))
	}
}
