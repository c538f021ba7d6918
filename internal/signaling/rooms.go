package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stagecast/stagecast/internal/domain"
)

// handleCreateRoom opens the host's room, or reclaims it on a host reload.
// The room ID is derived from the host identity, so the same host always
// lands in the same room.
func (h *Hub) handleCreateRoom(c *Client, payload json.RawMessage) {
	var p CreateRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.HostID == "" {
		c.sendError("Invalid create-room payload")
		return
	}

	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	h.presence.Cancel(p.HostID)

	// Host reload handling: an existing room under the same identity is
	// reclaimed, not recreated. A room someone else hosts means the user is
	// currently a viewer there; becoming a host is an implicit leave.
	rejoinWithViewers := false
	if existingRoomID := h.registry.GetUserRoom(p.HostID); existingRoomID != "" {
		room := h.registry.FindRoomByID(existingRoomID)
		switch {
		case room == nil:
			// Stale binding; overwritten below.
		case room.HostID != p.HostID:
			h.departRoom(p.HostID, existingRoomID)
		default:
			oldSock := h.registry.GetUserSocket(p.HostID)
			if oldSock != "" && oldSock != c.socketID {
				closed := h.engine.CleanupUserMedia(context.Background(), existingRoomID, oldSock)
				for _, producerID := range closed {
					h.broadcastToRoom(existingRoomID, EventProducerClosed, ProducerClosedPayload{ProducerID: producerID})
				}
				// Rebind before closing the old connection so its disconnect
				// resolves to nobody.
				h.registry.SetUserSocket(p.HostID, c.socketID)
				h.forceCloseSocket(oldSock)
			}
			if len(room.Members) <= 1 {
				// No viewers: a clean recreate.
				h.registry.RemoveMemberFromRoom(existingRoomID, p.HostID)
			} else {
				rejoinWithViewers = true
			}
		}
	}

	room := h.registry.CreateRoom(p.HostID)
	h.registry.SetUserSocket(p.HostID, c.socketID)
	h.registry.SetUserRoom(p.HostID, room.ID)
	h.registry.UpsertPresence(domain.Presence{
		UserID:   p.HostID,
		Name:     p.Name,
		RoomID:   room.ID,
		SocketID: c.socketID,
	})

	c.sendEvent(EventRoomCreated, RoomStatePayload{
		RoomID:  room.ID,
		HostID:  room.HostID,
		Members: room.MemberSnapshot(),
		Theme:   room.Theme,
	})

	if rejoinWithViewers {
		h.broadcastToRoomExcept(room.ID, c.socketID, EventHostReconnected, HostReconnectedPayload{
			HostID:       p.HostID,
			HostSocketID: c.socketID,
		})
	}

	c.sendEvent(EventChatHistory, ChatHistoryPayload{Messages: h.loadHistory(room.ID)})

	h.logger.Info("room created", "room_id", room.ID, "host_id", p.HostID, "rejoin", rejoinWithViewers)
}

func (h *Hub) handleValidateRoom(c *Client, payload json.RawMessage) {
	var p ValidateRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid validate-room payload")
		return
	}

	room := h.registry.FindRoomByID(p.RoomID)
	if room == nil {
		c.sendEvent(EventRoomValidated, RoomValidatedPayload{Exists: false, RoomID: p.RoomID})
		return
	}
	c.sendEvent(EventRoomValidated, RoomValidatedPayload{
		Exists:      true,
		RoomID:      room.ID,
		MemberCount: len(room.Members),
	})
}

func (h *Hub) handleJoinRoom(c *Client, payload json.RawMessage) {
	var p JoinRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.MemberID == "" {
		c.sendError("Invalid join-room payload")
		return
	}

	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	room := h.registry.FindRoomByID(p.RoomID)
	if room == nil {
		c.sendError("Room not found")
		return
	}

	wasInGrace := h.presence.Cancel(p.MemberID)
	pres := h.registry.GetPresence(p.MemberID)
	reconnect := room.HasMember(p.MemberID) || wasInGrace ||
		(pres != nil && pres.RoomID == p.RoomID)

	if !reconnect {
		for _, member := range room.MemberSnapshot() {
			mp := h.registry.GetPresence(member)
			if mp != nil && mp.Name == p.Name && member != p.MemberID {
				c.sendError(fmt.Sprintf("The name %q is already taken in this room. Please choose a different name.", p.Name))
				return
			}
		}

		// Joining from another room is an implicit leave.
		if prevRoom := h.registry.GetUserRoom(p.MemberID); prevRoom != "" && prevRoom != p.RoomID {
			h.departRoom(p.MemberID, prevRoom)
		}
	} else {
		oldSock := h.registry.GetUserSocket(p.MemberID)
		if oldSock != "" && oldSock != c.socketID {
			// Same ordering invariant as the host reload path.
			h.registry.SetUserSocket(p.MemberID, c.socketID)
			h.forceCloseSocket(oldSock)
		}
	}

	h.registry.AddMemberToRoom(p.RoomID, p.MemberID)
	h.registry.SetUserSocket(p.MemberID, c.socketID)
	h.registry.SetUserRoom(p.MemberID, p.RoomID)
	h.registry.UpsertPresence(domain.Presence{
		UserID:   p.MemberID,
		Name:     p.Name,
		RoomID:   p.RoomID,
		SocketID: c.socketID,
	})

	// Post-commit member list, re-read so the fan-out includes the joiner.
	members := h.registry.Members(p.RoomID)
	c.sendEvent(EventRoomJoined, RoomStatePayload{
		RoomID:  room.ID,
		HostID:  room.HostID,
		Members: members,
		Theme:   room.Theme,
	})

	if !reconnect {
		h.broadcastToRoomExcept(p.RoomID, c.socketID, EventMemberJoined, MemberJoinedPayload{
			UserID:  p.MemberID,
			Name:    p.Name,
			Members: members,
		})
	}

	if p.MemberID != room.HostID {
		if hostSock := h.registry.GetUserSocket(room.HostID); hostSock != "" {
			h.sendToSocket(hostSock, EventViewerJoined, ViewerRefPayload{ViewerID: c.socketID})
		}
	}

	c.sendEvent(EventChatHistory, ChatHistoryPayload{Messages: h.loadHistory(p.RoomID)})

	h.logger.Info("user joined room", "room_id", p.RoomID, "user_id", p.MemberID, "reconnect", reconnect)
}

func (h *Hub) handleLeaveRoom(c *Client, payload json.RawMessage) {
	var p LeaveRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	userID := p.MemberID
	if userID == "" {
		userID = h.registry.FindUserIDBySocketID(c.socketID)
	}
	if userID == "" {
		return
	}

	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	h.presence.Cancel(userID)
	roomID := p.RoomID
	if roomID == "" {
		roomID = h.registry.GetUserRoom(userID)
	}
	if roomID != "" {
		h.departRoom(userID, roomID)
	}
	h.registry.DeleteUserRoom(userID)
	h.registry.DeletePresence(userID)
}

// departRoom commits a user's departure from a room: a viewer leaving keeps
// the room alive, the host leaving destroys it. Caller holds stateMu.
func (h *Hub) departRoom(userID, roomID string) {
	room := h.registry.FindRoomByID(roomID)
	if room == nil {
		return
	}

	h.registry.RemoveMemberFromRoom(roomID, userID)
	h.broadcastToRoom(roomID, EventMemberLeft, MemberLeftPayload{
		UserID:  userID,
		Members: h.registry.Members(roomID),
	})

	if userID == room.HostID {
		h.logger.Info("host left, destroying room", "room_id", roomID, "host_id", userID)
		h.broadcastToRoom(roomID, EventRoomDeleted, RoomDeletedPayload{Message: "Host has left the room"})
		h.engine.CloseRoom(roomID)
		h.dropRoomState(roomID)
	}
}

func (h *Hub) handleUpdateTheme(c *Client, payload json.RawMessage) {
	var p UpdateThemePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid update-theme payload")
		return
	}
	if !domain.ValidTheme(p.Theme) {
		c.sendError("Unknown theme: " + string(p.Theme))
		return
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if !h.registry.SetRoomTheme(p.RoomID, p.Theme) {
		c.sendError("Room not found")
		return
	}
	h.broadcastToRoom(p.RoomID, EventThemeUpdated, ThemeUpdatedPayload{Theme: p.Theme})
}

// handleSpinResult relays a wheel-spin outcome to the rest of the room
// verbatim.
func (h *Hub) handleSpinResult(c *Client, payload json.RawMessage) {
	var p SpinResultPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	h.broadcastToRoomExcept(p.RoomID, c.socketID, EventSpinResult, p)
}
