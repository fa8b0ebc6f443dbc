package main

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"courtline/server/internal/logging"
	"courtline/server/internal/protocol"
)

var errClientClosed = errors.New("client connection closed")

const (
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// client owns one WebSocket connection. All outbound traffic funnels through
// the buffered send channel so the write pump is the only goroutine touching
// the socket for writes.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *server
	logger *logging.Logger

	mu       sync.Mutex
	closed   bool
	gameID   string
	role     string
	playerID string
	profile  *protocol.UserProfile
}

func newClient(conn *websocket.Conn, srv *server) *client {
	return &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		server: srv,
		logger: srv.logger.With(logging.String("remote", conn.RemoteAddr().String())),
	}
}

// Send enqueues an outbound frame without blocking the caller. A full buffer
// counts as a dead client so the game loop can drop it.
func (c *client) Send(payload []byte) error {
	//1.- The closed check and the channel send stay under one lock so close
	// cannot slip between them and shut the channel mid-send.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errors.New("client send buffer full")
	}
}

// sendMessage encodes and enqueues an outbound message, dropping on error.
func (c *client) sendMessage(message any) {
	payload, err := protocol.Encode(message)
	if err != nil {
		c.logger.Error("outbound encode failed", logging.Error(err))
		return
	}
	if err := c.Send(payload); err != nil {
		c.logger.Debug("outbound frame dropped", logging.Error(err))
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// session bookkeeping, guarded so pumps and dispatch can race safely.

func (c *client) bindSession(gameID, role string) {
	c.mu.Lock()
	c.gameID, c.role = gameID, role
	c.mu.Unlock()
}

func (c *client) sessionBinding() (gameID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID, c.role
}

func (c *client) bindPlayer(id string, profile *protocol.UserProfile) {
	c.mu.Lock()
	c.playerID = id
	c.profile = profile
	c.mu.Unlock()
}

func (c *client) boundPlayer() (string, *protocol.UserProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID, c.profile
}

// readPump consumes inbound frames until the connection dies, then triggers
// the server-side cleanup exactly once. The write pump owns the socket close
// so frames queued during teardown still drain.
func (c *client) readPump() {
	defer func() {
		c.server.disconnect(c)
		c.close()
	}()
	c.conn.SetReadLimit(c.server.cfg.MaxPayloadBytes)
	deadline := c.server.cfg.PingInterval * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", logging.Error(err))
			}
			return
		}
		if !c.server.dispatch(c, raw) {
			return
		}
	}
}

// writePump drains the send channel onto the socket and keeps the connection
// alive with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
