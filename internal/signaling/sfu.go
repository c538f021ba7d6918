package signaling

import (
	"context"
	"encoding/json"
)

// SFU signaling: transports, producers, and consumers. Engine operations are
// idempotent on a missing room, so the handlers only have to translate the
// zero results into error events.

func (h *Hub) handleGetRtpCapabilities(c *Client, payload json.RawMessage) {
	var p RoomScopedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid getRouterRtpCapabilities payload")
		return
	}

	// The room's router is created lazily on the first capability request.
	if err := h.engine.CreateRouter(context.Background(), p.RoomID); err != nil {
		h.logger.Error("create router failed", "room_id", p.RoomID, "error", err)
		c.sendError("Failed to create media router")
		return
	}
	caps := h.engine.RouterRTPCapabilities(p.RoomID)
	if caps == nil {
		c.sendError("No media router for room")
		return
	}
	c.sendEvent(EventRtpCapabilities, RtpCapabilitiesPayload{RTPCapabilities: caps})
}

func (h *Hub) handleCreateTransport(c *Client, payload json.RawMessage) {
	var p CreateTransportPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid createTransport payload")
		return
	}
	if p.Direction != "send" && p.Direction != "recv" {
		c.sendError("Unknown transport direction: " + p.Direction)
		return
	}

	transportID := c.socketID + "-" + p.Direction
	info, err := h.engine.CreateWebRtcTransport(context.Background(), p.RoomID, transportID)
	if err != nil {
		h.logger.Error("create transport failed", "room_id", p.RoomID, "transport_id", transportID, "error", err)
		c.sendError("Failed to create transport")
		return
	}
	if info == nil {
		c.sendError("No media router for room")
		return
	}

	c.sendEvent(EventTransportCreated, TransportCreatedPayload{
		Direction:      p.Direction,
		TransportID:    info.ID,
		ID:             info.ID,
		ICEParameters:  info.ICEParameters,
		ICECandidates:  info.ICECandidates,
		DTLSParameters: info.DTLSParameters,
	})
}

func (h *Hub) handleConnectTransport(c *Client, payload json.RawMessage) {
	var p ConnectTransportPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid connectTransport payload")
		return
	}
	if !h.engine.ConnectTransport(context.Background(), p.RoomID, p.TransportID, p.DTLSParameters) {
		c.sendError("Failed to connect transport")
		return
	}
	c.sendEvent(EventTransportConnected, TransportConnectedPayload{TransportID: p.TransportID})
}

func (h *Hub) handleProduce(c *Client, payload json.RawMessage) {
	var p ProducePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid produce payload")
		return
	}

	producerID, err := h.engine.Produce(context.Background(), p.RoomID, p.TransportID, p.Kind, p.RTPParameters)
	if err != nil {
		h.logger.Error("produce failed", "room_id", p.RoomID, "transport_id", p.TransportID, "error", err)
		c.sendError("Failed to produce")
		return
	}
	if producerID == "" {
		c.sendError("No media router for room")
		return
	}

	c.sendEvent(EventProduced, ProducedPayload{Kind: p.Kind, ID: producerID})
	h.broadcastToRoomExcept(p.RoomID, c.socketID, EventNewProducer, NewProducerPayload{
		ProducerID: producerID,
		Kind:       p.Kind,
	})
}

func (h *Hub) handleConsume(c *Client, payload json.RawMessage) {
	var p ConsumePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid consume payload")
		return
	}

	info, err := h.engine.Consume(context.Background(), p.RoomID, p.TransportID, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		h.logger.Error("consume failed", "room_id", p.RoomID, "producer_id", p.ProducerID, "error", err)
		c.sendError("Failed to consume")
		return
	}
	if info == nil {
		c.sendError("No media router for room")
		return
	}
	c.sendEvent(EventConsumed, info)
}

func (h *Hub) handleResumeConsumer(c *Client, payload json.RawMessage) {
	var p ResumeConsumerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid resumeConsumer payload")
		return
	}
	if !h.engine.ResumeConsumer(context.Background(), p.RoomID, p.ConsumerID) {
		c.sendError("Failed to resume consumer")
		return
	}
	c.sendEvent(EventConsumerResumed, ConsumerResumedPayload{ConsumerID: p.ConsumerID})
}

func (h *Hub) handleGetProducers(c *Client, payload json.RawMessage) {
	var p RoomScopedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid getProducers payload")
		return
	}
	producers := h.engine.GetProducers(p.RoomID)
	if producers == nil {
		producers = []string{}
	}
	c.sendEvent(EventProducers, ProducersPayload{Producers: producers})
}

// handleCloseProducer is restricted to the host connection; viewers never own
// producers in a one-to-many room.
func (h *Hub) handleCloseProducer(c *Client, payload json.RawMessage) {
	var p CloseProducerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("Invalid closeProducer payload")
		return
	}

	if room := h.registry.FindRoomByID(p.RoomID); room != nil {
		if userID := h.registry.FindUserIDBySocketID(c.socketID); userID != room.HostID {
			c.sendError("Only the host can close producers")
			return
		}
	}

	h.engine.CloseProducer(p.RoomID, p.ProducerID)
	h.broadcastToRoom(p.RoomID, EventProducerClosed, ProducerClosedPayload{ProducerID: p.ProducerID})
}
