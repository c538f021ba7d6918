package signaling

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Legacy peer-to-peer signaling: the server relays SDP and ICE blobs without
// inspecting them.

func (h *Hub) handleOffer(c *Client, payload json.RawMessage) {
	var p OfferPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.To == "" {
		return
	}
	h.sendToSocket(p.To, EventOffer, RelayedOfferPayload{Offer: p.Offer, From: c.socketID})
}

func (h *Hub) handleAnswer(c *Client, payload json.RawMessage) {
	var p AnswerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	h.broadcastToRoomExcept(p.RoomID, c.socketID, EventAnswer, RelayedAnswerPayload{Answer: p.Answer, From: c.socketID})
}

func (h *Hub) handleICECandidate(c *Client, payload json.RawMessage) {
	var p ICECandidatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	fwd := RelayedICECandidatePayload{Candidate: p.Candidate, From: c.socketID}
	if p.To != "" {
		h.sendToSocket(p.To, EventICECandidate, fwd)
		return
	}
	h.broadcastToRoomExcept(p.RoomID, c.socketID, EventICECandidate, fwd)
}

func (h *Hub) handleStopSharing(c *Client, payload json.RawMessage) {
	var p RoomScopedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	h.broadcastToRoomExcept(p.RoomID, c.socketID, EventStopSharing, nil)
}

// handleHostReadyToShare answers with the connection IDs of every current
// viewer so the host can open a peer connection per viewer.
func (h *Hub) handleHostReadyToShare(c *Client, payload json.RawMessage) {
	var p RoomScopedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	room := h.registry.FindRoomByID(p.RoomID)
	if room == nil {
		c.sendError("Room not found")
		return
	}

	viewerIDs := make([]string, 0, len(room.Members))
	for _, member := range room.MemberSnapshot() {
		if member == room.HostID {
			continue
		}
		if sock := h.registry.GetUserSocket(member); sock != "" {
			viewerIDs = append(viewerIDs, sock)
		}
	}
	c.sendEvent(EventExistingViewers, ExistingViewersPayload{ViewerIDs: viewerIDs})
}

// handleRequestStream forwards a viewer's request to the host's connection.
func (h *Hub) handleRequestStream(c *Client, payload json.RawMessage) {
	var p RoomScopedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	room := h.registry.FindRoomByID(p.RoomID)
	if room == nil {
		c.sendError("Room not found")
		return
	}
	if hostSock := h.registry.GetUserSocket(room.HostID); hostSock != "" {
		h.sendToSocket(hostSock, EventRequestStream, ViewerRefPayload{ViewerID: c.socketID})
	}
}

// handleLivestreamReaction fans out an ephemeral on-stream emoji. Nothing is
// persisted; the fresh ID only gives clients an animation key.
func (h *Hub) handleLivestreamReaction(c *Client, payload json.RawMessage) {
	var p LivestreamReactionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	h.broadcastToRoom(p.RoomID, EventLivestreamReaction, LivestreamReactionBroadcast{
		ID:       uuid.NewString(),
		UserName: p.UserName,
		Emoji:    p.Emoji,
		UserID:   p.UserID,
	})
}
