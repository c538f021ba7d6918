// Package store persists room chat history and reactions. The signaling
// layer treats persistence as best-effort for writes and reads; only the
// reaction toggle is authoritative.
package store

import (
	"context"

	"github.com/stagecast/stagecast/internal/domain"
)

// DefaultHistoryLimit is how many messages a history load returns when the
// caller does not say otherwise.
const DefaultHistoryLimit = 50

// Store is the chat persistence collaborator.
type Store interface {
	// SaveMessage persists a message.
	SaveMessage(ctx context.Context, msg *domain.ChatMessage) error

	// Messages returns up to limit messages for the room in ascending
	// timestamp order. limit <= 0 means DefaultHistoryLimit.
	Messages(ctx context.Context, roomID string, limit int) ([]domain.ChatMessage, error)

	// DeleteRoomMessages removes every message for the room.
	DeleteRoomMessages(ctx context.Context, roomID string) error

	// AddReaction toggles userID's emoji reaction on a message and returns
	// the message's resulting reaction set. Toggling off the last user
	// removes the reaction entirely.
	AddReaction(ctx context.Context, roomID, messageID, userID, emoji string) ([]domain.Reaction, error)

	// Close releases backend resources.
	Close() error
}

// toggleReaction applies the shared toggle semantics to a reaction set.
func toggleReaction(reactions []domain.Reaction, userID, emoji string) []domain.Reaction {
	for i := range reactions {
		if reactions[i].Emoji != emoji {
			continue
		}
		for j, uid := range reactions[i].UserIDs {
			if uid == userID {
				reactions[i].UserIDs = append(reactions[i].UserIDs[:j], reactions[i].UserIDs[j+1:]...)
				if len(reactions[i].UserIDs) == 0 {
					reactions = append(reactions[:i], reactions[i+1:]...)
				}
				return reactions
			}
		}
		reactions[i].UserIDs = append(reactions[i].UserIDs, userID)
		return reactions
	}
	return append(reactions, domain.Reaction{Emoji: emoji, UserIDs: []string{userID}})
}
