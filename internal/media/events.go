package media

import (
	"context"
	"encoding/json"

	"github.com/stagecast/stagecast/internal/pubsub"
)

// Engine events published on the media topic. The signaling layer subscribes
// and converts these into client-facing events; this is how resource loss
// outside any request (worker death) still reaches viewers.
const (
	EventRoomClosed     = "media.room_closed"
	EventProducerClosed = "media.producer_closed"
)

// RoomClosedEvent announces that a room's media resources are gone. The
// bundle is already deleted by the time subscribers run, so the producer IDs
// that died with the router ride along.
type RoomClosedEvent struct {
	RoomID      string   `json:"roomId"`
	Reason      string   `json:"reason"`
	ProducerIDs []string `json:"producerIds,omitempty"`
}

// ProducerClosedEvent announces a producer closed outside a request.
type ProducerClosedEvent struct {
	RoomID     string `json:"roomId"`
	ProducerID string `json:"producerId"`
}

func (e *Engine) publishRoomClosed(roomID, reason string, producerIDs []string) {
	if e.ps == nil {
		return
	}
	payload, _ := json.Marshal(RoomClosedEvent{RoomID: roomID, Reason: reason, ProducerIDs: producerIDs})
	msg := &pubsub.Message{
		Topic:   pubsub.Topics.Media(),
		Type:    EventRoomClosed,
		Payload: payload,
	}
	if err := e.ps.Publish(context.Background(), msg.Topic, msg); err != nil {
		e.logger.Error("publish room closed event failed", "room_id", roomID, "error", err)
	}
}
