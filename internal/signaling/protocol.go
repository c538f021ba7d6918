package signaling

import (
	"encoding/json"

	"github.com/stagecast/stagecast/internal/domain"
)

// Event names for client -> server
const (
	EventCreateRoom         = "create-room"
	EventValidateRoom       = "validate-room"
	EventJoinRoom           = "join-room"
	EventLeaveRoom          = "leave-room"
	EventSpinResult         = "spin-result"
	EventOffer              = "offer"
	EventAnswer             = "answer"
	EventICECandidate       = "ice-candidate"
	EventStopSharing        = "stop-sharing"
	EventHostReadyToShare   = "host-ready-to-share"
	EventRequestStream      = "request-stream"
	EventLivestreamReaction = "livestream-reaction"
	EventUpdateTheme        = "update-theme"
	EventSendMessage        = "send-message"
	EventReactToMessage     = "react-to-message"
	EventGetRtpCapabilities = "getRouterRtpCapabilities"
	EventCreateTransport    = "createTransport"
	EventConnectTransport   = "connectTransport"
	EventProduce            = "produce"
	EventConsume            = "consume"
	EventResumeConsumer     = "resumeConsumer"
	EventGetProducers       = "getProducers"
	EventCloseProducer      = "closeProducer"
)

// Event names for server -> client
const (
	EventError                  = "error"
	EventRoomCreated            = "room-created"
	EventRoomValidated          = "room-validated"
	EventRoomJoined             = "room-joined"
	EventRoomDeleted            = "room-deleted"
	EventMemberJoined           = "member-joined"
	EventMemberLeft             = "member-left"
	EventHostReconnected        = "host-reconnected"
	EventThemeUpdated           = "theme-updated"
	EventExistingViewers        = "existing-viewers"
	EventViewerJoined           = "viewer-joined"
	EventChatMessage            = "chat-message"
	EventChatHistory            = "chat-history"
	EventMessageReactionUpdated = "message-reaction-updated"
	EventRtpCapabilities        = "routerRtpCapabilities"
	EventTransportCreated       = "transportCreated"
	EventTransportConnected     = "transportConnected"
	EventProduced               = "produced"
	EventNewProducer            = "newProducer"
	EventConsumed               = "consumed"
	EventConsumerResumed        = "consumerResumed"
	EventProducers              = "producers"
	EventProducerClosed         = "producerClosed"
)

// Message is the wire envelope: a named event with a structured payload.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage wraps a payload into the wire envelope.
func NewMessage(event string, payload interface{}) (*Message, error) {
	if payload == nil {
		return &Message{Type: event}, nil
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: event, Payload: payloadBytes}, nil
}

// ============================================================================
// Client -> Server Payloads
// ============================================================================

// CreateRoomPayload opens (or reclaims) the host's room.
type CreateRoomPayload struct {
	HostID string `json:"hostId"`
	Name   string `json:"name"`
}

// ValidateRoomPayload asks whether a room exists before joining.
type ValidateRoomPayload struct {
	RoomID string `json:"roomId"`
}

// JoinRoomPayload joins an existing room.
type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	MemberID string `json:"memberId"`
	Name     string `json:"name"`
}

// LeaveRoomPayload leaves a room explicitly.
type LeaveRoomPayload struct {
	RoomID   string `json:"roomId"`
	MemberID string `json:"memberId"`
}

// SpinResultPayload is relayed to the room verbatim.
type SpinResultPayload struct {
	RoomID string          `json:"roomId"`
	Result json.RawMessage `json:"result"`
}

// OfferPayload relays an SDP offer to one connection.
type OfferPayload struct {
	RoomID string          `json:"roomId"`
	Offer  json.RawMessage `json:"offer"`
	To     string          `json:"to"`
}

// AnswerPayload relays an SDP answer to the room.
type AnswerPayload struct {
	RoomID string          `json:"roomId"`
	Answer json.RawMessage `json:"answer"`
}

// ICECandidatePayload relays an ICE candidate, targeted when To is set.
type ICECandidatePayload struct {
	RoomID    string          `json:"roomId"`
	Candidate json.RawMessage `json:"candidate"`
	To        string          `json:"to,omitempty"`
}

// RoomScopedPayload covers the events that carry only a room ID
// (stop-sharing, host-ready-to-share, request-stream, getRouterRtpCapabilities,
// getProducers).
type RoomScopedPayload struct {
	RoomID string `json:"roomId"`
}

// LivestreamReactionPayload is an ephemeral on-stream emoji.
type LivestreamReactionPayload struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
	Emoji    string `json:"emoji"`
	UserID   string `json:"userId"`
}

// UpdateThemePayload changes the room's cosmetic theme.
type UpdateThemePayload struct {
	RoomID string       `json:"roomId"`
	Theme  domain.Theme `json:"theme"`
}

// SendMessagePayload posts a chat message.
type SendMessagePayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Message  string `json:"message"`
	RoomID   string `json:"roomId"`
}

// ReactToMessagePayload toggles an emoji reaction on a message.
type ReactToMessagePayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

// CreateTransportPayload requests a server-side WebRTC transport.
type CreateTransportPayload struct {
	RoomID    string `json:"roomId"`
	Direction string `json:"direction"`
}

// ConnectTransportPayload completes a transport's DTLS handshake.
type ConnectTransportPayload struct {
	RoomID         string          `json:"roomId"`
	TransportID    string          `json:"transportId"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// ProducePayload starts sending a track through a send transport.
type ProducePayload struct {
	RoomID        string          `json:"roomId"`
	TransportID   string          `json:"transportId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

// ConsumePayload subscribes a recv transport to a producer.
type ConsumePayload struct {
	RoomID          string          `json:"roomId"`
	TransportID     string          `json:"transportId"`
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

// ResumeConsumerPayload unpauses a consumer created by consume.
type ResumeConsumerPayload struct {
	RoomID     string `json:"roomId"`
	ConsumerID string `json:"consumerId"`
}

// CloseProducerPayload closes a producer explicitly.
type CloseProducerPayload struct {
	RoomID     string `json:"roomId"`
	ProducerID string `json:"producerId"`
}

// ============================================================================
// Server -> Client Payloads
// ============================================================================

// ErrorPayload carries a user-facing error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RoomStatePayload answers room-created and room-joined with the committed
// room state.
type RoomStatePayload struct {
	RoomID  string       `json:"roomId"`
	HostID  string       `json:"hostId"`
	Members []string     `json:"members"`
	Theme   domain.Theme `json:"theme"`
}

// RoomValidatedPayload answers validate-room.
type RoomValidatedPayload struct {
	Exists      bool   `json:"exists"`
	RoomID      string `json:"roomId"`
	MemberCount int    `json:"memberCount,omitempty"`
}

// RoomDeletedPayload tells members their room is gone.
type RoomDeletedPayload struct {
	Message string `json:"message"`
}

// MemberJoinedPayload announces a fresh member with the post-commit list.
type MemberJoinedPayload struct {
	UserID  string   `json:"userId"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// MemberLeftPayload announces a departure with the post-commit list.
type MemberLeftPayload struct {
	UserID  string   `json:"userId"`
	Members []string `json:"members"`
}

// HostReconnectedPayload tells viewers to rebuild their peer state.
type HostReconnectedPayload struct {
	HostID       string `json:"hostId"`
	HostSocketID string `json:"hostSocketId"`
}

// ThemeUpdatedPayload broadcasts the new room theme.
type ThemeUpdatedPayload struct {
	Theme domain.Theme `json:"theme"`
}

// RelayedOfferPayload forwards an SDP offer with its origin.
type RelayedOfferPayload struct {
	Offer json.RawMessage `json:"offer"`
	From  string          `json:"from"`
}

// RelayedAnswerPayload forwards an SDP answer with its origin.
type RelayedAnswerPayload struct {
	Answer json.RawMessage `json:"answer"`
	From   string          `json:"from"`
}

// RelayedICECandidatePayload forwards an ICE candidate with its origin.
type RelayedICECandidatePayload struct {
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

// ExistingViewersPayload answers host-ready-to-share with the viewers'
// connection IDs.
type ExistingViewersPayload struct {
	ViewerIDs []string `json:"viewerIds"`
}

// ViewerRefPayload identifies a viewer by connection ID (viewer-joined and
// the request-stream forward).
type ViewerRefPayload struct {
	ViewerID string `json:"viewerId"`
}

// LivestreamReactionBroadcast is the fan-out form of an on-stream emoji,
// stamped with a fresh ID.
type LivestreamReactionBroadcast struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
	Emoji    string `json:"emoji"`
	UserID   string `json:"userId"`
}

// ChatHistoryPayload delivers recent room messages on join.
type ChatHistoryPayload struct {
	Messages []domain.ChatMessage `json:"messages"`
}

// MessageReactionUpdatedPayload broadcasts a message's new reaction set.
type MessageReactionUpdatedPayload struct {
	MessageID string            `json:"messageId"`
	Reactions []domain.Reaction `json:"reactions"`
}

// RtpCapabilitiesPayload answers getRouterRtpCapabilities.
type RtpCapabilitiesPayload struct {
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

// TransportCreatedPayload answers createTransport.
type TransportCreatedPayload struct {
	Direction      string          `json:"direction"`
	TransportID    string          `json:"transportId"`
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// TransportConnectedPayload confirms connectTransport.
type TransportConnectedPayload struct {
	TransportID string `json:"transportId"`
}

// ProducedPayload answers produce with the engine-assigned ID.
type ProducedPayload struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// NewProducerPayload tells the rest of the room to consume a new track.
type NewProducerPayload struct {
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
}

// ConsumerResumedPayload confirms resumeConsumer.
type ConsumerResumedPayload struct {
	ConsumerID string `json:"consumerId"`
}

// ProducersPayload answers getProducers.
type ProducersPayload struct {
	Producers []string `json:"producers"`
}

// ProducerClosedPayload announces a closed producer.
type ProducerClosedPayload struct {
	ProducerID string `json:"producerId"`
}
