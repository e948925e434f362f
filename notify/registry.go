package notify

import (
	"sync"

	"orderflow/auth"
)

// Registry is the in-process address book: connection to identity, user to
// connections, and order-room membership. All entries are ephemeral; clients
// rebuild them on reconnect. Never a source of truth.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Conn]auth.Identity
	users map[string]map[*Conn]struct{}
	rooms map[string]map[*Conn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[*Conn]auth.Identity),
		users: make(map[string]map[*Conn]struct{}),
		rooms: make(map[string]map[*Conn]struct{}),
	}
}

// Register binds a connection to its signed-in identity. A repeated login on
// the same connection rebinds it: the previous identity's mapping is removed
// first so the connection never receives two users' pushes.
func (r *Registry) Register(c *Conn, id auth.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.conns[c]; ok && prev.UserID != id.UserID {
		if set, ok := r.users[prev.UserID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(r.users, prev.UserID)
			}
		}
	}
	r.conns[c] = id
	set, ok := r.users[id.UserID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.users[id.UserID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes every entry for the connection, including room
// memberships.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.conns[c]
	if !ok {
		return
	}
	delete(r.conns, c)
	if set, ok := r.users[id.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.users, id.UserID)
		}
	}
	for room, set := range r.rooms {
		delete(set, c)
		if len(set) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Identity returns the identity bound to the connection, if any.
func (r *Registry) Identity(c *Conn) (auth.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.conns[c]
	return id, ok
}

// JoinRoom subscribes a registered connection to an order room.
func (r *Registry) JoinRoom(c *Conn, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		return
	}
	set, ok := r.rooms[room]
	if !ok {
		set = make(map[*Conn]struct{})
		r.rooms[room] = set
	}
	set[c] = struct{}{}
}

// UserConns snapshots the connections signed in as the given user.
func (r *Registry) UserConns(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.users[userID]))
	for c := range r.users[userID] {
		out = append(out, c)
	}
	return out
}

// RoomConns snapshots the connections subscribed to a room.
func (r *Registry) RoomConns(room string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		out = append(out, c)
	}
	return out
}

// AllConns snapshots every registered connection.
func (r *Registry) AllConns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Size returns the number of registered connections.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
