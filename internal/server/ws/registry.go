package ws

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks which live connections are interested in which auctions.
// Rooms are instance-local: each server instance only registers connections
// physically attached to it, and cross-instance consistency comes from the
// shared event bus, not from the registry.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]map[*client]struct{}
	admins map[*client]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[uuid.UUID]map[*client]struct{}),
		admins: make(map[*client]struct{}),
	}
}

// Join adds the connection to an auction's room. Joining twice is a no-op.
func (r *Registry) Join(c *client, auctionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[auctionID]
	if !ok {
		room = make(map[*client]struct{})
		r.rooms[auctionID] = room
	}
	room[c] = struct{}{}
}

// Leave removes the connection from an auction's room.
func (r *Registry) Leave(c *client, auctionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c, auctionID)
}

func (r *Registry) leaveLocked(c *client, auctionID uuid.UUID) {
	room, ok := r.rooms[auctionID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(r.rooms, auctionID)
	}
}

// JoinAdmins adds the connection to the admin broadcast group, which
// receives every auction event.
func (r *Registry) JoinAdmins(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins[c] = struct{}{}
}

// DropAll removes the connection from every room and the admin group. Called
// on disconnect; the connection leaves no trace.
func (r *Registry) DropAll(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for auctionID := range r.rooms {
		r.leaveLocked(c, auctionID)
	}
	delete(r.admins, c)
}

// Recipients returns the connections that should receive an event for the
// given auction: the auction's room plus the admin group, deduplicated.
func (r *Registry) Recipients(auctionID uuid.UUID) []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[*client]struct{}, len(r.rooms[auctionID])+len(r.admins))
	recipients := make([]*client, 0, len(seen))
	for c := range r.rooms[auctionID] {
		if _, dup := seen[c]; !dup {
			seen[c] = struct{}{}
			recipients = append(recipients, c)
		}
	}
	for c := range r.admins {
		if _, dup := seen[c]; !dup {
			seen[c] = struct{}{}
			recipients = append(recipients, c)
		}
	}
	return recipients
}

// RoomCount returns the number of connections in an auction's room.
func (r *Registry) RoomCount(auctionID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[auctionID])
}
