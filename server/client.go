package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// maxMessageSize bounds a single inbound frame at 64 KiB; exceeding it
	// is a fatal read error.
	maxMessageSize = 64 * 1024

	// readDeadline is refreshed on every heartbeat ack (pong).
	readDeadline = 60 * time.Second

	// heartbeatPeriod is 90% of readDeadline.
	heartbeatPeriod = 54 * time.Second

	// writeDeadline bounds every individual write, including heartbeats.
	writeDeadline = 10 * time.Second

	// outboxCapacity bounds the per-client queue the hub drains into.
	outboxCapacity = 256
)

// Client owns one live bidirectional session. Its id is immutable for its
// lifetime and is never trusted from the remote peer: every inbound frame's
// From field is overwritten with this id before the frame is handled further.
type Client struct {
	id  string
	ip  string
	hub *Hub

	conn   *websocket.Conn
	outbox chan []byte

	mu     sync.Mutex
	roomID string
}

func newClient(hub *Hub, id, ip string, conn *websocket.Conn) *Client {
	return &Client{
		id:     id,
		ip:     ip,
		hub:    hub,
		conn:   conn,
		outbox: make(chan []byte, outboxCapacity),
	}
}

// RoomID returns the room this client currently believes it is in, or "" if
// none. Guarded independently of the hub lock: it is read from the read
// path's relay default-room logic and by Unregister, and written by JoinRoom
// and the expiry sweeper, both of which already hold the hub lock when they
// call it, so this mutex only ever nests inside the hub lock, never the
// reverse.
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) setRoomID(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

// enqueue performs the hub's single non-blocking send discipline: it never
// suspends, and a full or closed outbox drops the message for this
// recipient only. Sending on a channel another goroutine is concurrently
// closing (Unregister racing with Route) panics rather than blocking, so we
// recover defensively exactly as the outbox-full case is handled.
func (c *Client) enqueue(msg Message) (delivered bool) {
	b := mustMarshal(msg)
	defer func() {
		if r := recover(); r != nil {
			delivered = false
			c.hub.onDrop(c, msg.Type)
		}
	}()
	select {
	case c.outbox <- b:
		return true
	default:
		c.hub.onDrop(c, msg.Type)
		return false
	}
}

// readPump decodes inbound frames and dispatches them to the hub. It is the
// only goroutine that reads from conn. On any read error it signals
// unregistration and returns without closing the socket itself; the write
// pump owns the single Close() call.
func (c *Client) readPump() {
	defer func() { c.hub.unregisterCh <- c }()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debugw("read error", "client", c.id, "err", err)
			} else {
				c.hub.logger.Debugw("connection closed", "client", c.id)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.onProtocolViolation()
			c.enqueue(errorMessage("BAD_REQUEST", "malformed frame"))
			continue
		}

		// Spoofing defense: the only sender identity a recipient may trust
		// is the one the hub writes.
		msg.From = c.id

		c.hub.dispatch(c, msg)
	}
}

// writePump is the sole writer to conn, interleaving heartbeat pings with
// outbox drains so no two goroutines ever write concurrently.
func (c *Client) writePump() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.logger.Debugw("write error", "client", c.id, "err", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debugw("heartbeat write error", "client", c.id, "err", err)
				return
			}
		}
	}
}
