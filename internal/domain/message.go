package domain

// Reaction is an emoji reaction on a chat message together with the users
// who placed it.
type Reaction struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"userIds"`
}

// ChatMessage is a persisted room chat message. ID is a server-minted UUID
// and Timestamp is server wall-clock in milliseconds.
type ChatMessage struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	UserName  string     `json:"userName"`
	Message   string     `json:"message"`
	Timestamp int64      `json:"timestamp"`
	RoomID    string     `json:"roomId"`
	Reactions []Reaction `json:"reactions,omitempty"`
}
