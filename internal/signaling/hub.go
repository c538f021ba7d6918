// Package signaling is the event-driven orchestrator tying room state,
// presence, chat, and the media engine together over one bidirectional
// event connection per client.
package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/stagecast/stagecast/internal/media"
	"github.com/stagecast/stagecast/internal/presence"
	"github.com/stagecast/stagecast/internal/profanity"
	"github.com/stagecast/stagecast/internal/pubsub"
	"github.com/stagecast/stagecast/internal/registry"
	"github.com/stagecast/stagecast/internal/store"
)

// MediaEngine is the slice of the media facade the hub drives. *media.Engine
// implements it; tests substitute stubs.
type MediaEngine interface {
	CreateRouter(ctx context.Context, roomID string) error
	RouterRTPCapabilities(roomID string) []byte
	CreateWebRtcTransport(ctx context.Context, roomID, transportID string) (*media.TransportInfo, error)
	ConnectTransport(ctx context.Context, roomID, transportID string, dtlsParameters []byte) bool
	Produce(ctx context.Context, roomID, transportID, kind string, rtpParameters []byte) (string, error)
	Consume(ctx context.Context, roomID, transportID, producerID string, rtpCapabilities []byte) (*media.ConsumerInfo, error)
	ResumeConsumer(ctx context.Context, roomID, consumerID string) bool
	GetProducers(roomID string) []string
	CloseProducer(roomID, producerID string)
	CleanupUserMedia(ctx context.Context, roomID, connectionIDPrefix string) []string
	CloseRoom(roomID string)
}

// Hub owns the live connections and dispatches every inbound event. Room and
// presence state live in the registry; the hub's own lock covers only the
// socketID -> client map.
type Hub struct {
	registry *registry.Registry
	presence *presence.Controller
	engine   MediaEngine
	store    store.Store
	filter   profanity.Filter
	ps       pubsub.PubSub
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	// stateMu serializes every compound read-check-mutate sequence over
	// registry + presence (create, join, leave, departure commit, theme).
	// Without it two joins could both pass the unique-name scan before
	// either upserts.
	stateMu sync.Mutex

	mediaSub pubsub.Subscription
}

// NewHub wires the orchestrator. grace is the disconnect grace period; zero
// falls back to the default.
func NewHub(reg *registry.Registry, engine MediaEngine, st store.Store, filter profanity.Filter, ps pubsub.PubSub, grace time.Duration, logger *slog.Logger) *Hub {
	h := &Hub{
		registry: reg,
		engine:   engine,
		store:    st,
		filter:   filter,
		ps:       ps,
		logger:   logger.With("component", "signaling"),
		clients:  make(map[string]*Client),
	}
	h.presence = presence.NewController(grace, h.commitDeparture, logger)

	if ps != nil {
		sub, err := ps.Subscribe(context.Background(), pubsub.Topics.Media(), h.onMediaEvent)
		if err != nil {
			h.logger.Error("failed to subscribe to media events", "error", err)
		} else {
			h.mediaSub = sub
		}
	}
	return h
}

// Register adds a freshly upgraded client.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.socketID] = client
	h.mu.Unlock()
	h.logger.Debug("client connected", "socket_id", client.socketID)
}

// Unregister removes a client and starts the disconnect grace window for
// whichever user the connection was bound to.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.socketID)
	h.mu.Unlock()
	client.closeOutbox()

	h.HandleDisconnect(client.socketID)
	h.logger.Debug("client disconnected", "socket_id", client.socketID)
}

// HandleDisconnect arms the grace timer for the user bound to socketID. A
// socket with no binding (never joined, or already rebound to a newer
// connection) is ignored — that is what makes the rebind-then-disconnect
// ordering on reconnects safe.
func (h *Hub) HandleDisconnect(socketID string) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	userID := h.registry.FindUserIDBySocketID(socketID)
	if userID == "" {
		return
	}
	if h.registry.GetUserSocket(userID) != socketID {
		return
	}
	h.logger.Info("user disconnected, grace window open", "user_id", userID, "socket_id", socketID)
	h.presence.Schedule(userID)
}

// commitDeparture runs when a grace timer fires. Liveness is re-read here:
// if the user's current binding points at a registered connection, the user
// reconnected and the departure must not commit.
func (h *Hub) commitDeparture(userID string) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if sock := h.registry.GetUserSocket(userID); sock != "" && h.client(sock) != nil {
		h.logger.Debug("grace expired but user reconnected", "user_id", userID)
		return
	}

	h.logger.Info("grace expired, committing departure", "user_id", userID)
	if roomID := h.registry.GetUserRoom(userID); roomID != "" {
		h.departRoom(userID, roomID)
	}
	h.registry.DeleteUserSocket(userID)
	h.registry.DeleteUserRoom(userID)
	h.registry.DeletePresence(userID)
}

// HandleMessage dispatches one inbound event.
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case EventCreateRoom:
		h.handleCreateRoom(client, msg.Payload)
	case EventValidateRoom:
		h.handleValidateRoom(client, msg.Payload)
	case EventJoinRoom:
		h.handleJoinRoom(client, msg.Payload)
	case EventLeaveRoom:
		h.handleLeaveRoom(client, msg.Payload)
	case EventSpinResult:
		h.handleSpinResult(client, msg.Payload)
	case EventOffer:
		h.handleOffer(client, msg.Payload)
	case EventAnswer:
		h.handleAnswer(client, msg.Payload)
	case EventICECandidate:
		h.handleICECandidate(client, msg.Payload)
	case EventStopSharing:
		h.handleStopSharing(client, msg.Payload)
	case EventHostReadyToShare:
		h.handleHostReadyToShare(client, msg.Payload)
	case EventRequestStream:
		h.handleRequestStream(client, msg.Payload)
	case EventLivestreamReaction:
		h.handleLivestreamReaction(client, msg.Payload)
	case EventUpdateTheme:
		h.handleUpdateTheme(client, msg.Payload)
	case EventSendMessage:
		h.handleSendMessage(client, msg.Payload)
	case EventReactToMessage:
		h.handleReactToMessage(client, msg.Payload)
	case EventGetRtpCapabilities:
		h.handleGetRtpCapabilities(client, msg.Payload)
	case EventCreateTransport:
		h.handleCreateTransport(client, msg.Payload)
	case EventConnectTransport:
		h.handleConnectTransport(client, msg.Payload)
	case EventProduce:
		h.handleProduce(client, msg.Payload)
	case EventConsume:
		h.handleConsume(client, msg.Payload)
	case EventResumeConsumer:
		h.handleResumeConsumer(client, msg.Payload)
	case EventGetProducers:
		h.handleGetProducers(client, msg.Payload)
	case EventCloseProducer:
		h.handleCloseProducer(client, msg.Payload)
	default:
		client.sendError("Unknown event type: " + msg.Type)
	}
}

// Close tears down timers and the media event subscription.
func (h *Hub) Close() {
	h.presence.Stop()
	if h.mediaSub != nil {
		_ = h.mediaSub.Unsubscribe()
	}
}

// client returns the registered client for a socket, or nil.
func (h *Hub) client(socketID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[socketID]
}

// sendToSocket queues an event for one connection. Silently drops when the
// socket is gone; signaling never blocks on a dead peer.
func (h *Hub) sendToSocket(socketID, event string, payload interface{}) {
	if c := h.client(socketID); c != nil {
		c.sendEvent(event, payload)
	}
}

// roomClients snapshots the member list and resolves each member to its live
// connection, skipping exceptSocket.
func (h *Hub) roomClients(roomID, exceptSocket string) []*Client {
	room := h.registry.FindRoomByID(roomID)
	if room == nil {
		return nil
	}

	var out []*Client
	for _, member := range room.MemberSnapshot() {
		sock := h.registry.GetUserSocket(member)
		if sock == "" || sock == exceptSocket {
			continue
		}
		if c := h.client(sock); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// broadcastToRoom fans an event out to every member's live connection.
func (h *Hub) broadcastToRoom(roomID, event string, payload interface{}) {
	h.broadcastToRoomExcept(roomID, "", event, payload)
}

// broadcastToRoomExcept fans out to the room, skipping one connection.
func (h *Hub) broadcastToRoomExcept(roomID, exceptSocket, event string, payload interface{}) {
	clients := h.roomClients(roomID, exceptSocket)
	if len(clients) == 0 {
		return
	}
	msg, err := NewMessage(event, payload)
	if err != nil {
		h.logger.Error("failed to encode broadcast", "event", event, "error", err)
		return
	}
	for _, c := range clients {
		_ = c.Send(msg)
	}
}

// forceCloseSocket closes the old connection of a user who reappeared. The
// registry binding must already point at the new socket so the old socket's
// disconnect resolves to nobody.
func (h *Hub) forceCloseSocket(socketID string) {
	c := h.client(socketID)
	if c == nil {
		return
	}
	h.mu.Lock()
	delete(h.clients, socketID)
	h.mu.Unlock()
	c.closeOutbox()
	c.ForceClose()
	h.logger.Debug("stale connection force-closed", "socket_id", socketID)
}

// onMediaEvent converts engine lifecycle events (worker death fallout) into
// client-facing events and registry cleanup.
func (h *Hub) onMediaEvent(ctx context.Context, msg *pubsub.Message) {
	switch msg.Type {
	case media.EventRoomClosed:
		var ev media.RoomClosedEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			h.logger.Error("bad media event payload", "error", err)
			return
		}
		h.logger.Warn("room lost its media resources", "room_id", ev.RoomID, "reason", ev.Reason)
		// Producers died with the router; the engine has already forgotten
		// the room, so the event carries their IDs. Tell viewers before the
		// room goes.
		for _, producerID := range ev.ProducerIDs {
			h.broadcastToRoom(ev.RoomID, EventProducerClosed, ProducerClosedPayload{ProducerID: producerID})
		}
		h.broadcastToRoom(ev.RoomID, EventRoomDeleted, RoomDeletedPayload{Message: "Room closed: " + ev.Reason})
		h.stateMu.Lock()
		h.dropRoomState(ev.RoomID)
		h.stateMu.Unlock()
	case media.EventProducerClosed:
		var ev media.ProducerClosedEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return
		}
		h.broadcastToRoom(ev.RoomID, EventProducerClosed, ProducerClosedPayload{ProducerID: ev.ProducerID})
	}
}

// dropRoomState removes a room and every member's room binding from the
// registry. Chat history goes with it. Media resources are the caller's
// concern. Caller holds stateMu.
func (h *Hub) dropRoomState(roomID string) {
	room := h.registry.FindRoomByID(roomID)
	if room == nil {
		return
	}
	for _, member := range room.MemberSnapshot() {
		h.registry.DeleteUserRoom(member)
		if p := h.registry.GetPresence(member); p != nil {
			p.RoomID = ""
			h.registry.UpsertPresence(*p)
		}
	}
	h.registry.DeleteRoom(roomID)

	if err := h.store.DeleteRoomMessages(context.Background(), roomID); err != nil {
		h.logger.Warn("failed to delete room messages", "room_id", roomID, "error", err)
	}
}
