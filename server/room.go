package main

import (
	"sync"
	"time"
)

// roomTTL is the fixed lifetime of a room, anchored to creation time rather
// than last activity.
const roomTTL = 10 * time.Minute

// Room is a named rendezvous set of clients. It is a thin container: all
// mutation of its membership happens under the hub's serialization
// discipline (hub lock first, then Room.mu), never on its own task.
type Room struct {
	ID        string
	CreatedAt time.Time

	mu      sync.Mutex
	members map[string]*Client
}

func newRoom(id string) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now(),
		members:   make(map[string]*Client),
	}
}

func (r *Room) expired(now time.Time) bool {
	return now.Sub(r.CreatedAt) > roomTTL
}

// snapshotMembers returns the current members as a slice, safe to range over
// without holding r.mu.
func (r *Room) snapshotMembers() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, c)
	}
	return out
}

func (r *Room) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
