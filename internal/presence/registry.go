// Package presence tracks which user each live connection belongs to and
// which conversation rooms each connection has joined.
package presence

import (
	"sort"
	"sync"
)

// Registry is process-local state owned by one hub. It holds nothing that
// survives a restart.
type Registry struct {
	mu sync.RWMutex

	// One tracked connection per user for presence. A second connect
	// replaces the entry; room membership stays per connection.
	userConn map[string]string
	connUser map[string]string

	connRooms map[string]map[string]struct{}
	rooms     map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		userConn:  make(map[string]string),
		connUser:  make(map[string]string),
		connRooms: make(map[string]map[string]struct{}),
		rooms:     make(map[string]map[string]struct{}),
	}
}

// Connect binds connID to userID. replaced is the connection that previously
// represented the user, if any.
func (r *Registry) Connect(userID, connID string) (replaced string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	replaced = r.userConn[userID]
	r.userConn[userID] = connID
	r.connUser[connID] = userID
	if _, ok := r.connRooms[connID]; !ok {
		r.connRooms[connID] = make(map[string]struct{})
	}
	return replaced
}

// Disconnect forgets connID and its rooms and removes the owning user's
// presence entry. It returns the owning user, or "" for unknown connections.
func (r *Registry) Disconnect(connID string) (userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.connUser[connID]
	if !ok {
		return ""
	}
	delete(r.connUser, connID)
	delete(r.userConn, userID)

	for room := range r.connRooms[connID] {
		r.removeFromRoom(room, connID)
	}
	delete(r.connRooms, connID)
	return userID
}

// Join adds connID to a room. It reports false if the connection is unknown
// or was already in the room.
func (r *Registry) Join(connID, conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.connRooms[connID]
	if !ok {
		return false
	}
	if _, already := joined[conversationID]; already {
		return false
	}
	joined[conversationID] = struct{}{}
	members, ok := r.rooms[conversationID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[conversationID] = members
	}
	members[connID] = struct{}{}
	return true
}

func (r *Registry) Leave(connID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if joined, ok := r.connRooms[connID]; ok {
		delete(joined, conversationID)
	}
	r.removeFromRoom(conversationID, connID)
}

func (r *Registry) removeFromRoom(room, connID string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// RoomMembers returns the connections joined to a conversation.
func (r *Registry) RoomMembers(conversationID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[conversationID]
	out := make([]string, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) InRoom(connID, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connRooms[connID][conversationID]
	return ok
}

func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.connRooms[connID]))
	for room := range r.connRooms[connID] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.connUser[connID]
	return u, ok
}

func (r *Registry) ConnOf(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.userConn[userID]
	return c, ok
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.ConnOf(userID)
	return ok
}

func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.userConn))
	for u := range r.userConn {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Reset drops all state. Used on hub shutdown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userConn = make(map[string]string)
	r.connUser = make(map[string]string)
	r.connRooms = make(map[string]map[string]struct{})
	r.rooms = make(map[string]map[string]struct{})
}
