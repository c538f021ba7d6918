// Package registry is the in-memory source of truth for rooms, members, and
// user/connection bindings. Everything here dies with the process; room
// topology is deliberately not persisted.
package registry

import (
	"sync"

	"github.com/stagecast/stagecast/internal/domain"
)

// Registry stores rooms plus the forward and reverse user bindings. The room
// and its members are two independent maps (room -> members inside the Room,
// userID -> roomID here) so either side can be consulted without traversing
// the other.
type Registry struct {
	mu sync.RWMutex

	rooms map[string]*domain.Room

	// userID -> socketID of the current live connection
	userSockets map[string]string

	// socketID -> userID reverse index
	socketUsers map[string]string

	// userID -> roomID
	userRooms map[string]string

	// userID -> presence record
	presence map[string]*domain.Presence
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		rooms:       make(map[string]*domain.Room),
		userSockets: make(map[string]string),
		socketUsers: make(map[string]string),
		userRooms:   make(map[string]string),
		presence:    make(map[string]*domain.Presence),
	}
}

// snapshotRoom copies a room so the live record never escapes the lock.
// Callers may read the copy freely; mutations go through registry methods.
func snapshotRoom(room *domain.Room) *domain.Room {
	cp := *room
	cp.Members = room.MemberSnapshot()
	return &cp
}

// CreateRoom returns a snapshot of the room owned by hostID, creating it if
// necessary. Creation is idempotent for a given host: a second call returns
// the existing room with the host re-added if missing.
func (r *Registry) CreateRoom(hostID string) *domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := domain.RoomIDForHost(hostID)
	if room, ok := r.rooms[id]; ok {
		room.AddMember(hostID)
		return snapshotRoom(room)
	}
	room := domain.NewRoom(hostID)
	r.rooms[id] = room
	return snapshotRoom(room)
}

// FindRoomByID returns a snapshot of the room, or nil.
func (r *Registry) FindRoomByID(roomID string) *domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return snapshotRoom(room)
}

// Members returns a copy of the room's current member list, or nil.
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return room.MemberSnapshot()
}

// DeleteRoom removes the room entry. No-op if absent.
func (r *Registry) DeleteRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

// AddMemberToRoom adds userID to the room's member set. Returns false if the
// room does not exist.
func (r *Registry) AddMemberToRoom(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	room.AddMember(userID)
	return true
}

// RemoveMemberFromRoom removes userID from the room's member set.
func (r *Registry) RemoveMemberFromRoom(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[roomID]; ok {
		room.RemoveMember(userID)
	}
}

// SetUserSocket binds userID to its current live connection, maintaining the
// reverse index.
func (r *Registry) SetUserSocket(userID, socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.userSockets[userID]; ok {
		delete(r.socketUsers, old)
	}
	r.userSockets[userID] = socketID
	r.socketUsers[socketID] = userID
}

// GetUserSocket returns the socket bound to userID, or "".
func (r *Registry) GetUserSocket(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userSockets[userID]
}

// DeleteUserSocket removes the user's socket binding and reverse index.
func (r *Registry) DeleteUserSocket(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.userSockets[userID]; ok {
		delete(r.socketUsers, old)
		delete(r.userSockets, userID)
	}
}

// FindUserIDBySocketID resolves a connection back to its user, or "".
func (r *Registry) FindUserIDBySocketID(socketID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.socketUsers[socketID]
}

// SetUserRoom records the room a user is currently in.
func (r *Registry) SetUserRoom(userID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userRooms[userID] = roomID
}

// GetUserRoom returns the room a user is in, or "".
func (r *Registry) GetUserRoom(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userRooms[userID]
}

// DeleteUserRoom clears the user's room binding.
func (r *Registry) DeleteUserRoom(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.userRooms, userID)
}

// SetRoomTheme updates the room's theme. Returns false if the room does not
// exist.
func (r *Registry) SetRoomTheme(roomID string, theme domain.Theme) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	room.Theme = theme
	return true
}

// UpsertPresence creates or updates the user's presence record.
func (r *Registry) UpsertPresence(p domain.Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := p
	r.presence[p.UserID] = &cp
}

// GetPresence returns a copy of the presence record, or nil.
func (r *Registry) GetPresence(userID string) *domain.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.presence[userID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// DeletePresence removes the presence record.
func (r *Registry) DeletePresence(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.presence, userID)
}

// PresenceInRoom returns copies of all presence records bound to roomID.
func (r *Registry) PresenceInRoom(roomID string) []domain.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Presence
	for _, p := range r.presence {
		if p.RoomID == roomID {
			out = append(out, *p)
		}
	}
	return out
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
