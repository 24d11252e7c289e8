package sink

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// sendBufferSize bounds the per-client queue; clients that fall this far
// behind are disconnected.
const sendBufferSize = 64

// WebSocketSink broadcasts every batch as a JSON message to all connected
// websocket clients. It implements http.Handler for the upgrade endpoint.
type WebSocketSink struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWebSocketSink creates a websocket broadcast sink.
func NewWebSocketSink(logger zerolog.Logger) *WebSocketSink {
	return &WebSocketSink{
		logger: logger.With().Str("component", "websocket-sink").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (s *WebSocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	s.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("client connected")

	go s.writeLoop(c)
	go s.readLoop(c)
}

// Publish fans the batch out to every client. Clients with a full queue are
// dropped rather than allowed to stall the poller.
func (s *WebSocketSink) Publish(batch Batch) {
	data, err := json.Marshal(batch)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal batch")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("dropping slow client")
			delete(s.clients, c)
			close(c.send)
		}
	}
}

// Close disconnects all clients.
func (s *WebSocketSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *WebSocketSink) writeLoop(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.drop(c)
			return
		}
	}
}

// readLoop drains (and discards) client messages so pings and close frames
// are processed.
func (s *WebSocketSink) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.drop(c)
			return
		}
	}
}

func (s *WebSocketSink) drop(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c] {
		delete(s.clients, c)
		close(c.send)
	}
}
