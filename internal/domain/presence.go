package domain

// Presence is the "logged-in user" record: who the user is, where they are,
// and the connection currently bound to them. RoomID is empty when the user
// is connected but not in a room.
type Presence struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	RoomID   string `json:"roomId,omitempty"`
	SocketID string `json:"socketId"`
}
