package signaling

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stagecast/stagecast/internal/domain"
	"github.com/stagecast/stagecast/internal/store"
)

// handleSendMessage screens, persists, and fans out a chat message. Delivery
// beats durability: a failed save is logged and the broadcast happens anyway.
func (h *Hub) handleSendMessage(c *Client, payload json.RawMessage) {
	var p SendMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid send-message payload")
		return
	}
	if strings.TrimSpace(p.Message) == "" {
		c.sendError("Message cannot be empty")
		return
	}

	text := p.Message
	if res := h.filter.Validate(text); res.ContainsProfanity {
		text = res.CleanedText
	}

	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		UserName:  p.UserName,
		Message:   text,
		Timestamp: time.Now().UnixMilli(),
		RoomID:    p.RoomID,
	}

	if err := h.store.SaveMessage(context.Background(), &msg); err != nil {
		h.logger.Error("failed to save chat message", "room_id", p.RoomID, "error", err)
	}

	h.broadcastToRoom(p.RoomID, EventChatMessage, msg)
}

// handleReactToMessage toggles a reaction; the store is the source of truth
// for the toggle semantics.
func (h *Hub) handleReactToMessage(c *Client, payload json.RawMessage) {
	var p ReactToMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid react-to-message payload")
		return
	}

	reactions, err := h.store.AddReaction(context.Background(), p.RoomID, p.MessageID, p.UserID, p.Emoji)
	if err != nil {
		h.logger.Error("failed to update reaction", "room_id", p.RoomID, "message_id", p.MessageID, "error", err)
		c.sendError("Failed to update reaction")
		return
	}
	if reactions == nil {
		reactions = []domain.Reaction{}
	}

	h.broadcastToRoom(p.RoomID, EventMessageReactionUpdated, MessageReactionUpdatedPayload{
		MessageID: p.MessageID,
		Reactions: reactions,
	})
}

// loadHistory fetches recent room messages, best-effort: a storage failure
// yields an empty history, never an error to the client.
func (h *Hub) loadHistory(roomID string) []domain.ChatMessage {
	messages, err := h.store.Messages(context.Background(), roomID, store.DefaultHistoryLimit)
	if err != nil {
		h.logger.Warn("failed to load chat history", "room_id", roomID, "error", err)
		return []domain.ChatMessage{}
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	return messages
}
