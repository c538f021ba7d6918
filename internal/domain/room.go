package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Theme is a cosmetic room decoration selected by the host.
type Theme string

const (
	ThemeNone         Theme = "none"
	ThemeChristmas    Theme = "christmas"
	ThemeLunarNewYear Theme = "lunar-new-year"
)

// ValidTheme reports whether t is one of the enumerated themes.
func ValidTheme(t Theme) bool {
	switch t {
	case ThemeNone, ThemeChristmas, ThemeLunarNewYear:
		return true
	}
	return false
}

// Room is a live screen-sharing room. The host is the single privileged
// member; everyone else is a viewer. Members is an ordered set: the host is
// always present and no user ID appears twice.
type Room struct {
	ID        string    `json:"roomId"`
	HostID    string    `json:"hostId"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
	Theme     Theme     `json:"theme"`
}

// NewRoom creates a room owned by hostID with the host as sole member.
func NewRoom(hostID string) *Room {
	return &Room{
		ID:        RoomIDForHost(hostID),
		HostID:    hostID,
		Members:   []string{hostID},
		CreatedAt: time.Now(),
		Theme:     ThemeNone,
	}
}

// RoomIDForHost derives the stable room ID for a host identity. The same
// host always maps to the same room, which is what lets chat history
// survive a host reload.
func RoomIDForHost(hostID string) string {
	sum := sha256.Sum256([]byte("room-" + hostID))
	return "room-" + hex.EncodeToString(sum[:])[:12]
}

// HasMember reports whether userID is in the member list.
func (r *Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// AddMember appends userID if not already present.
func (r *Room) AddMember(userID string) {
	if !r.HasMember(userID) {
		r.Members = append(r.Members, userID)
	}
}

// RemoveMember deletes userID from the member list, preserving order.
func (r *Room) RemoveMember(userID string) {
	for i, m := range r.Members {
		if m == userID {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return
		}
	}
}

// MemberSnapshot returns a copy of the member list safe to hand to
// broadcasts after the registry lock is released.
func (r *Room) MemberSnapshot() []string {
	out := make([]string, len(r.Members))
	copy(out, r.Members)
	return out
}
