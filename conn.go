package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Outbound frames queued per connection before sends start failing.
	sendBuffer = 256
)

// connection wraps one client websocket for the lifetime of its room
// membership. It is owned by the registry and never persisted.
type connection struct {
	id   string
	ws   *websocket.Conn
	room *room
	send chan []byte
}

func newConnection(id string, ws *websocket.Conn, rm *room) *connection {
	return &connection{
		id:   id,
		ws:   ws,
		room: rm,
		send: make(chan []byte, sendBuffer),
	}
}

func (c *connection) ID() string { return c.id }

// Send queues a frame without blocking. A full buffer means the peer stopped
// draining; report it as a failed send so the room prunes us.
func (c *connection) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

// run registers with the room and pumps frames until the socket dies.
// It blocks for the connection's lifetime.
func (c *connection) run(ctx context.Context) {
	c.room.add(c)
	incr("websockets", 1)
	defer func() {
		decr("websockets", 1)
		c.room.remove(c)
	}()
	go c.writePump()
	c.readPump(ctx)
}

func (c *connection) readPump(ctx context.Context) {
	defer c.ws.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", "clientId", c.id, "err", err)
			}
			return
		}
		incr("conn.recv", 1)
		c.room.handle(ctx, c, data)
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			incr("conn.send", 1)
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
