package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"wisp/server/internal/metrics"
)

// sweepInterval is how often the room-expiry sweeper walks the registry.
const sweepInterval = 60 * time.Second

// Hub is the authoritative registry of clients and rooms. Register runs
// synchronously from the upgrade handler so the connected frame is always
// the first thing enqueued onto a new client's outbox; unregister and route
// run through ordered channels consumed by a single run loop. rooms/clients
// are additionally protected by an RWMutex because register and JoinRoom
// are invoked directly from outside that loop.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	clients map[string]*Client

	unregisterCh chan *Client
	routeCh      chan Message

	totalConnections int64 // accessed only under mu; monotonic for /health

	logger  *zap.SugaredLogger
	metrics *metrics.Hub
}

func newHub(logger *zap.SugaredLogger, m *metrics.Hub) *Hub {
	return &Hub{
		rooms:        make(map[string]*Room),
		clients:      make(map[string]*Client),
		unregisterCh: make(chan *Client, 64),
		routeCh:      make(chan Message, 256),
		logger:       logger,
		metrics:      m,
	}
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// run is the hub's single-consumer event loop. It owns the ordering
// guarantee across unregister/route events; register and JoinRoom bypass
// the loop entirely and rely on mu instead (see struct doc comment).
func (h *Hub) run(ctx context.Context) {
	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case c := <-h.unregisterCh:
			h.unregister(c)
		case msg := <-h.routeCh:
			h.route(msg)
		case <-sweepTicker.C:
			h.sweepExpiredRooms()
		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// register inserts a newly-upgraded client into the registry and sends it
// the connected frame carrying its server-assigned id. This must be the
// first frame a client observes.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.totalConnections++
	h.mu.Unlock()

	h.metrics.ActiveClients.Inc()
	h.metrics.ConnectionsTotal.Inc()
	c.enqueue(connectedMessage(c.id))
}

// unregister removes a client and, if it was in a room, notifies the
// remaining members. Idempotent: a second call for an already-removed
// client is a no-op, which is also what makes the single outbox close
// exactly-once.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	roomID := c.RoomID()
	var room *Room
	if roomID != "" {
		room = h.rooms[roomID]
	}
	h.mu.Unlock()

	h.metrics.ActiveClients.Dec()

	if room != nil {
		h.leaveRoom(room, c)
	}

	close(c.outbox)
}

// leaveRoom removes c from room's membership, deleting the room if it falls
// to zero members, and notifies whoever remains. It takes the hub lock
// itself; a room that is no longer in the registry (already expired) is
// left alone.
func (h *Hub) leaveRoom(room *Room, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[room.ID]; ok && r == room {
		h.leaveRoomLocked(room, c)
	}
}

// JoinRoom moves client into the room named roomID, leaving any previous
// room first. Called directly from the read path, so it takes the hub lock
// itself rather than going through the ordered channels.
func (h *Hub) JoinRoom(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous := c.RoomID()
	if previous != "" && previous != roomID {
		if prev, ok := h.rooms[previous]; ok {
			h.leaveRoomLocked(prev, c)
		}
	}

	room, ok := h.rooms[roomID]
	if !ok {
		room = newRoom(roomID)
		h.rooms[roomID] = room
		h.metrics.ActiveRooms.Inc()
	}

	room.mu.Lock()
	for id, m := range room.members {
		if id == c.id {
			continue
		}
		m.enqueue(peerJoinedMessage(roomID, c.id))
	}
	room.members[c.id] = c
	room.mu.Unlock()

	c.setRoomID(roomID)
}

// leaveRoomLocked is leaveRoom's variant for callers that already hold h.mu
// (JoinRoom's "leave the previous room first" step).
func (h *Hub) leaveRoomLocked(room *Room, c *Client) {
	room.mu.Lock()
	delete(room.members, c.id)
	empty := len(room.members) == 0
	remaining := make([]*Client, 0, len(room.members))
	for _, m := range room.members {
		remaining = append(remaining, m)
	}
	room.mu.Unlock()

	if empty {
		delete(h.rooms, room.ID)
		h.metrics.ActiveRooms.Dec()
		return
	}
	for _, m := range remaining {
		m.enqueue(peerLeftMessage(room.ID, c.id))
	}
}

// route delivers msg to its addressee (direct, if To is set) or broadcasts
// it to the room named in RoomID (which dispatch defaults to the sender's
// current room when neither field is set), excluding the sender itself.
// Direct addressing always wins over room broadcast when both are set.
func (h *Hub) route(msg Message) {
	if msg.To != "" {
		h.mu.RLock()
		target, ok := h.clients[msg.To]
		h.mu.RUnlock()
		if !ok {
			return
		}
		if target.enqueue(msg) {
			h.metrics.MessagesRouted.WithLabelValues(msg.Type).Inc()
		}
		return
	}

	if msg.RoomID == "" {
		return
	}
	h.mu.RLock()
	room, ok := h.rooms[msg.RoomID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	for _, m := range room.snapshotMembers() {
		if m.id == msg.From {
			continue // no self-echo
		}
		if m.enqueue(msg) {
			h.metrics.MessagesRouted.WithLabelValues(msg.Type).Inc()
		}
	}
}

// dispatch classifies an inbound, already from-stamped frame and either
// handles it directly or hands it to the routing path.
func (h *Hub) dispatch(c *Client, msg Message) {
	switch {
	case msg.Type == TypeHandshakeInit:
		if msg.RoomID == "" {
			h.onProtocolViolation()
			c.enqueue(errorMessage("MISSING_ROOM_ID", "handshake-init requires room_id"))
			return
		}
		h.JoinRoom(c, msg.RoomID)

	case isRelayType(msg.Type):
		if msg.To == "" && msg.RoomID == "" {
			msg.RoomID = c.RoomID()
		}
		h.routeCh <- msg

	default:
		h.onProtocolViolation()
		c.enqueue(errorMessage("UNKNOWN_TYPE", "unrecognized message type"))
	}
}

// sweepExpiredRooms removes every room older than roomTTL, clearing
// membership's room_id and notifying members. Expiry is based on creation
// time, not activity.
func (h *Hub) sweepExpiredRooms() {
	now := time.Now()

	h.mu.Lock()
	var expired []*Room
	for id, r := range h.rooms {
		if r.expired(now) {
			expired = append(expired, r)
			delete(h.rooms, id)
		}
	}
	if len(expired) > 0 {
		h.metrics.ActiveRooms.Sub(float64(len(expired)))
		h.metrics.RoomsExpiredTotal.Add(float64(len(expired)))
	}

	for _, r := range expired {
		for _, m := range r.snapshotMembers() {
			m.setRoomID("")
			m.enqueue(roomExpiredMessage(r.ID))
		}
	}
	h.mu.Unlock()
}

// shutdown closes every client's outbox, which deterministically drains
// each write task, closes its socket, and unwinds its read task.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		close(c.outbox)
	}
}

func (h *Hub) snapshotCounts() (rooms, clients int, total int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.clients), h.totalConnections
}

func (h *Hub) onDrop(c *Client, msgType string) {
	h.metrics.MessagesDropped.Inc()
	h.logger.Warnw("outbox full or closed, dropping message", "client", c.id, "type", msgType)
}

func (h *Hub) onProtocolViolation() {
	h.metrics.ProtocolViolations.Inc()
}
