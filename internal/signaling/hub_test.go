package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stagecast/stagecast/internal/domain"
	"github.com/stagecast/stagecast/internal/media"
	"github.com/stagecast/stagecast/internal/profanity"
	"github.com/stagecast/stagecast/internal/pubsub"
	"github.com/stagecast/stagecast/internal/registry"
	"github.com/stagecast/stagecast/internal/store"
)

// stubEngine records facade calls; every operation succeeds.
type stubEngine struct {
	mu           sync.Mutex
	routers      map[string]bool
	nextProducer int
	producers    map[string][]string // roomID -> producer IDs
	cleanupCalls []string            // "roomID|prefix"
	closedRooms  []string
}

func newStubEngine() *stubEngine {
	return &stubEngine{
		routers:   make(map[string]bool),
		producers: make(map[string][]string),
	}
}

func (e *stubEngine) CreateRouter(ctx context.Context, roomID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.routers[roomID] = true
	return nil
}

func (e *stubEngine) RouterRTPCapabilities(roomID string) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.routers[roomID] {
		return nil
	}
	return []byte(`{"codecs":[]}`)
}

func (e *stubEngine) CreateWebRtcTransport(ctx context.Context, roomID, transportID string) (*media.TransportInfo, error) {
	return &media.TransportInfo{ID: transportID}, nil
}

func (e *stubEngine) ConnectTransport(ctx context.Context, roomID, transportID string, dtlsParameters []byte) bool {
	return true
}

func (e *stubEngine) Produce(ctx context.Context, roomID, transportID, kind string, rtpParameters []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextProducer++
	id := fmt.Sprintf("producer-%d", e.nextProducer)
	e.producers[roomID] = append(e.producers[roomID], id)
	return id, nil
}

func (e *stubEngine) Consume(ctx context.Context, roomID, transportID, producerID string, rtpCapabilities []byte) (*media.ConsumerInfo, error) {
	return &media.ConsumerInfo{ID: "consumer-1", ProducerID: producerID, Kind: "video"}, nil
}

func (e *stubEngine) ResumeConsumer(ctx context.Context, roomID, consumerID string) bool {
	return true
}

func (e *stubEngine) GetProducers(roomID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.producers[roomID]...)
}

func (e *stubEngine) CloseProducer(roomID, producerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := e.producers[roomID]
	for i, id := range ids {
		if id == producerID {
			e.producers[roomID] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

func (e *stubEngine) CleanupUserMedia(ctx context.Context, roomID, prefix string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupCalls = append(e.cleanupCalls, roomID+"|"+prefix)
	closed := e.producers[roomID]
	e.producers[roomID] = nil
	return closed
}

func (e *stubEngine) CloseRoom(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closedRooms = append(e.closedRooms, roomID)
	delete(e.routers, roomID)
	delete(e.producers, roomID)
}

type testEnv struct {
	hub    *Hub
	reg    *registry.Registry
	engine *stubEngine
	store  store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewJSONFileStore(filepath.Join(t.TempDir(), "messages.json"))
	if err != nil {
		t.Fatalf("NewJSONFileStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	engine := newStubEngine()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(reg, engine, st, profanity.NewWordListFilter(), pubsub.NewMemoryPubSub(), 60*time.Millisecond, logger)
	t.Cleanup(hub.Close)

	return &testEnv{hub: hub, reg: reg, engine: engine, store: st}
}

func (env *testEnv) connect(t *testing.T) *Client {
	t.Helper()
	c := NewClient(env.hub, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	env.hub.Register(c)
	return c
}

func (env *testEnv) emit(c *Client, event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	env.hub.HandleMessage(c, &Message{Type: event, Payload: data})
}

// nextEvent pops the client's next queued event.
func nextEvent(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("client outbox closed")
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal outbound message: %v", err)
		}
		return &msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// expectEvent pops events until one of the wanted type arrives, failing if a
// different event shows up first when strict.
func expectEvent(t *testing.T, c *Client, event string) *Message {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := nextEvent(t, c)
		if msg.Type == event {
			return msg
		}
	}
	t.Fatalf("event %s never arrived", event)
	return nil
}

func decodePayload(t *testing.T, msg *Message, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		t.Fatalf("decode %s payload: %v", msg.Type, err)
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func createRoom(t *testing.T, env *testEnv, c *Client, hostID, name string) string {
	t.Helper()
	env.emit(c, EventCreateRoom, CreateRoomPayload{HostID: hostID, Name: name})
	msg := expectEvent(t, c, EventRoomCreated)
	var state RoomStatePayload
	decodePayload(t, msg, &state)
	expectEvent(t, c, EventChatHistory)
	return state.RoomID
}

func TestHostCreateAndViewerJoin(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)

	env.emit(host, EventCreateRoom, CreateRoomPayload{HostID: "H", Name: "Alice"})
	created := nextEvent(t, host)
	if created.Type != EventRoomCreated {
		t.Fatalf("expected room-created first, got %s", created.Type)
	}
	var state RoomStatePayload
	decodePayload(t, created, &state)
	if state.HostID != "H" || len(state.Members) != 1 || state.Members[0] != "H" {
		t.Errorf("unexpected room state: %+v", state)
	}
	if !strings.HasPrefix(state.RoomID, "room-") {
		t.Errorf("room ID %q lacks the room- prefix", state.RoomID)
	}
	if state.RoomID != domain.RoomIDForHost("H") {
		t.Errorf("room ID is not the stable hash of the host identity")
	}
	expectEvent(t, host, EventChatHistory)

	viewer := env.connect(t)
	env.emit(viewer, EventJoinRoom, JoinRoomPayload{RoomID: state.RoomID, MemberID: "V", Name: "Bob"})

	joined := expectEvent(t, viewer, EventRoomJoined)
	var joinState RoomStatePayload
	decodePayload(t, joined, &joinState)
	if len(joinState.Members) != 2 || joinState.Members[0] != "H" || joinState.Members[1] != "V" {
		t.Errorf("unexpected members after join: %v", joinState.Members)
	}
	expectEvent(t, viewer, EventChatHistory)

	mj := expectEvent(t, host, EventMemberJoined)
	var mjp MemberJoinedPayload
	decodePayload(t, mj, &mjp)
	if mjp.UserID != "V" || len(mjp.Members) != 2 {
		t.Errorf("unexpected member-joined: %+v", mjp)
	}

	vj := expectEvent(t, host, EventViewerJoined)
	var vjp ViewerRefPayload
	decodePayload(t, vj, &vjp)
	if vjp.ViewerID != viewer.SocketID() {
		t.Errorf("viewer-joined carries %s, expected %s", vjp.ViewerID, viewer.SocketID())
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	viewer := env.connect(t)
	env.emit(viewer, EventJoinRoom, JoinRoomPayload{RoomID: roomID, MemberID: "V", Name: "Bob"})
	expectEvent(t, viewer, EventRoomJoined)

	intruder := env.connect(t)
	env.emit(intruder, EventJoinRoom, JoinRoomPayload{RoomID: roomID, MemberID: "V2", Name: "Bob"})
	errMsg := expectEvent(t, intruder, EventError)
	var ep ErrorPayload
	decodePayload(t, errMsg, &ep)
	if !strings.Contains(ep.Message, `The name "Bob" is already taken in this room`) {
		t.Errorf("unexpected error message: %q", ep.Message)
	}

	room := env.reg.FindRoomByID(roomID)
	if len(room.Members) != 2 {
		t.Errorf("members changed by rejected join: %v", room.Members)
	}
}

func TestJoinNonexistentRoom(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t)
	env.emit(c, EventJoinRoom, JoinRoomPayload{RoomID: "room-nope", MemberID: "V", Name: "Bob"})
	expectEvent(t, c, EventError)
}

func TestValidateRoom(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	probe := env.connect(t)
	env.emit(probe, EventValidateRoom, ValidateRoomPayload{RoomID: roomID})
	var vp RoomValidatedPayload
	decodePayload(t, expectEvent(t, probe, EventRoomValidated), &vp)
	if !vp.Exists || vp.RoomID != roomID || vp.MemberCount != 1 {
		t.Errorf("unexpected room-validated: %+v", vp)
	}

	env.emit(probe, EventValidateRoom, ValidateRoomPayload{RoomID: "room-nope"})
	decodePayload(t, expectEvent(t, probe, EventRoomValidated), &vp)
	if vp.Exists {
		t.Error("nonexistent room validated as existing")
	}
}

func TestHostReloadWithViewerPresent(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	viewer := env.connect(t)
	env.emit(viewer, EventJoinRoom, JoinRoomPayload{RoomID: roomID, MemberID: "V", Name: "Bob"})
	expectEvent(t, viewer, EventRoomJoined)
	drain(viewer)
	drain(host)

	// Host has a live producer that must be torn down on reload.
	env.emit(host, EventProduce, ProducePayload{RoomID: roomID, TransportID: host.SocketID() + "-send", Kind: "video"})
	var produced ProducedPayload
	decodePayload(t, expectEvent(t, host, EventProduced), &produced)
	drain(viewer)

	oldSocket := host.SocketID()
	env.hub.Unregister(host)

	// Reconnect within the grace window.
	host2 := env.connect(t)
	env.emit(host2, EventCreateRoom, CreateRoomPayload{HostID: "H", Name: "Alice"})

	var state RoomStatePayload
	decodePayload(t, expectEvent(t, host2, EventRoomCreated), &state)
	if state.RoomID != roomID {
		t.Errorf("host reload changed room ID: %s -> %s", roomID, state.RoomID)
	}
	if len(state.Members) != 2 {
		t.Errorf("expected members [H V] preserved, got %v", state.Members)
	}

	pc := expectEvent(t, viewer, EventProducerClosed)
	var pcp ProducerClosedPayload
	decodePayload(t, pc, &pcp)
	if pcp.ProducerID != produced.ID {
		t.Errorf("producerClosed for %s, expected %s", pcp.ProducerID, produced.ID)
	}

	hr := expectEvent(t, viewer, EventHostReconnected)
	var hrp HostReconnectedPayload
	decodePayload(t, hr, &hrp)
	if hrp.HostID != "H" || hrp.HostSocketID != host2.SocketID() {
		t.Errorf("unexpected host-reconnected: %+v", hrp)
	}

	if got := env.reg.GetUserSocket("H"); got != host2.SocketID() {
		t.Errorf("host bound to %s, expected new socket", got)
	}
	if env.reg.FindUserIDBySocketID(oldSocket) != "" {
		t.Error("stale socket still resolves to the host")
	}
	if len(env.engine.cleanupCalls) != 1 || env.engine.cleanupCalls[0] != roomID+"|"+oldSocket {
		t.Errorf("unexpected cleanup calls: %v", env.engine.cleanupCalls)
	}
	if env.reg.FindRoomByID(roomID) == nil {
		t.Error("room destroyed by host reload")
	}

	// The old connection's deferred disconnect must not schedule a second
	// grace timer over the still-present host.
	env.hub.HandleDisconnect(oldSocket)
	if env.hub.presence.InGrace("H") {
		t.Error("stale disconnect armed a grace timer for the reconnected host")
	}
}

func TestHostDefinitiveLeaveDestroysRoom(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	viewer := env.connect(t)
	env.emit(viewer, EventJoinRoom, JoinRoomPayload{RoomID: roomID, MemberID: "V", Name: "Bob"})
	expectEvent(t, viewer, EventRoomJoined)
	drain(viewer)

	env.hub.Unregister(host)

	// No reconnect: the grace timer commits the departure.
	ml := expectEvent(t, viewer, EventMemberLeft)
	var mlp MemberLeftPayload
	decodePayload(t, ml, &mlp)
	if mlp.UserID != "H" || len(mlp.Members) != 1 || mlp.Members[0] != "V" {
		t.Errorf("unexpected member-left: %+v", mlp)
	}

	rd := expectEvent(t, viewer, EventRoomDeleted)
	var rdp RoomDeletedPayload
	decodePayload(t, rd, &rdp)
	if rdp.Message != "Host has left the room" {
		t.Errorf("unexpected room-deleted message: %q", rdp.Message)
	}

	if env.reg.FindRoomByID(roomID) != nil {
		t.Error("room still in registry after host departure")
	}
	env.engine.mu.Lock()
	closed := append([]string(nil), env.engine.closedRooms...)
	env.engine.mu.Unlock()
	if len(closed) != 1 || closed[0] != roomID {
		t.Errorf("engine closeRoom calls: %v", closed)
	}
	if env.reg.GetUserRoom("V") != "" {
		t.Error("viewer still bound to the destroyed room")
	}
}

func TestReconnectWithinGraceKeepsRoom(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	viewer := env.connect(t)
	env.emit(viewer, EventJoinRoom, JoinRoomPayload{RoomID: roomID, MemberID: "V", Name: "Bob"})
	expectEvent(t, viewer, EventRoomJoined)
	drain(viewer)
	drain(host)

	env.hub.Unregister(viewer)
	if !env.hub.presence.InGrace("V") {
		t.Fatal("disconnect did not open a grace window")
	}

	viewer2 := env.connect(t)
	env.emit(viewer2, EventJoinRoom, JoinRoomPayload{RoomID: roomID, MemberID: "V", Name: "Bob"})
	expectEvent(t, viewer2, EventRoomJoined)

	if env.hub.presence.InGrace("V") {
		t.Error("rejoin did not cancel the grace timer")
	}

	// Reconnect path must not duplicate the member or re-announce the join.
	room := env.reg.FindRoomByID(roomID)
	if len(room.Members) != 2 {
		t.Errorf("members duplicated on reconnect: %v", room.Members)
	}
	select {
	case data := <-host.send:
		var msg Message
		_ = json.Unmarshal(data, &msg)
		if msg.Type == EventMemberJoined {
			t.Error("member-joined broadcast on the reconnect path")
		}
	default:
	}

	// Wait past the original grace window: nothing further may fire.
	time.Sleep(120 * time.Millisecond)
	if env.reg.FindRoomByID(roomID) == nil {
		t.Error("room vanished after a cancelled grace timer")
	}
	if env.reg.GetUserSocket("V") != viewer2.SocketID() {
		t.Error("viewer not bound to the new socket")
	}
}

func TestViewerDepartureAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	viewer := env.connect(t)
	env.emit(viewer, EventJoinRoom, JoinRoomPayload{RoomID: roomID, MemberID: "V", Name: "Bob"})
	expectEvent(t, viewer, EventRoomJoined)
	drain(host)

	env.hub.Unregister(viewer)

	ml := expectEvent(t, host, EventMemberLeft)
	var mlp MemberLeftPayload
	decodePayload(t, ml, &mlp)
	if mlp.UserID != "V" || len(mlp.Members) != 1 {
		t.Errorf("unexpected member-left: %+v", mlp)
	}

	if env.reg.FindRoomByID(roomID) == nil {
		t.Error("viewer departure destroyed the room")
	}
	if env.reg.GetPresence("V") != nil {
		t.Error("presence record survived a committed departure")
	}
	if env.reg.GetUserSocket("V") != "" {
		t.Error("socket binding survived a committed departure")
	}
}

func TestChatRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	env.emit(host, EventSendMessage, SendMessagePayload{UserID: "H", UserName: "Alice", Message: "hi", RoomID: roomID})
	cm := expectEvent(t, host, EventChatMessage)
	var msg domain.ChatMessage
	decodePayload(t, cm, &msg)
	if msg.Message != "hi" || msg.ID == "" || msg.Timestamp == 0 {
		t.Errorf("unexpected chat message: %+v", msg)
	}

	env.emit(host, EventSendMessage, SendMessagePayload{UserID: "H", UserName: "Alice", Message: "again", RoomID: roomID})
	expectEvent(t, host, EventChatMessage)

	// A later join receives the history in ascending timestamp order.
	viewer := env.connect(t)
	env.emit(viewer, EventJoinRoom, JoinRoomPayload{RoomID: roomID, MemberID: "V", Name: "Bob"})
	expectEvent(t, viewer, EventRoomJoined)
	var hist ChatHistoryPayload
	decodePayload(t, expectEvent(t, viewer, EventChatHistory), &hist)
	if len(hist.Messages) != 2 {
		t.Fatalf("expected 2 messages in history, got %d", len(hist.Messages))
	}
	if hist.Messages[0].ID != msg.ID {
		t.Error("history not in ascending timestamp order")
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	env.emit(host, EventSendMessage, SendMessagePayload{UserID: "H", UserName: "Alice", Message: "   ", RoomID: roomID})
	expectEvent(t, host, EventError)
}

func TestProfanityMasked(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	env.emit(host, EventSendMessage, SendMessagePayload{UserID: "H", UserName: "Alice", Message: "damn right", RoomID: roomID})
	var msg domain.ChatMessage
	decodePayload(t, expectEvent(t, host, EventChatMessage), &msg)
	if msg.Message != "**** right" {
		t.Errorf("profanity not masked: %q", msg.Message)
	}
}

func TestReactionToggle(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	env.emit(host, EventSendMessage, SendMessagePayload{UserID: "H", UserName: "Alice", Message: "hi", RoomID: roomID})
	var msg domain.ChatMessage
	decodePayload(t, expectEvent(t, host, EventChatMessage), &msg)

	env.emit(host, EventReactToMessage, ReactToMessagePayload{RoomID: roomID, MessageID: msg.ID, UserID: "V", Emoji: "👍"})
	var upd MessageReactionUpdatedPayload
	decodePayload(t, expectEvent(t, host, EventMessageReactionUpdated), &upd)
	if len(upd.Reactions) != 1 || upd.Reactions[0].Emoji != "👍" || len(upd.Reactions[0].UserIDs) != 1 {
		t.Errorf("unexpected reactions after first toggle: %+v", upd.Reactions)
	}

	env.emit(host, EventReactToMessage, ReactToMessagePayload{RoomID: roomID, MessageID: msg.ID, UserID: "V", Emoji: "👍"})
	decodePayload(t, expectEvent(t, host, EventMessageReactionUpdated), &upd)
	if len(upd.Reactions) != 0 {
		t.Errorf("expected empty reactions after second toggle: %+v", upd.Reactions)
	}
}

func TestCreateRoomTwiceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	first := createRoom(t, env, host, "H", "Alice")
	second := createRoom(t, env, host, "H", "Alice")

	if first != second {
		t.Errorf("room ID changed across create-room calls: %s vs %s", first, second)
	}
	if env.reg.RoomCount() != 1 {
		t.Errorf("expected 1 room, got %d", env.reg.RoomCount())
	}
	if p := env.reg.GetPresence("H"); p == nil || p.RoomID != first {
		t.Errorf("unexpected presence: %+v", p)
	}
}

func TestThemeUpdate(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	env.emit(host, EventUpdateTheme, UpdateThemePayload{RoomID: roomID, Theme: domain.ThemeChristmas})
	var tp ThemeUpdatedPayload
	decodePayload(t, expectEvent(t, host, EventThemeUpdated), &tp)
	if tp.Theme != domain.ThemeChristmas {
		t.Errorf("unexpected theme: %s", tp.Theme)
	}
	if env.reg.FindRoomByID(roomID).Theme != domain.ThemeChristmas {
		t.Error("theme not committed to the room")
	}

	env.emit(host, EventUpdateTheme, UpdateThemePayload{RoomID: roomID, Theme: "disco"})
	expectEvent(t, host, EventError)
}

func TestSFUSignalingFlow(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	env.emit(host, EventGetRtpCapabilities, RoomScopedPayload{RoomID: roomID})
	var caps RtpCapabilitiesPayload
	decodePayload(t, expectEvent(t, host, EventRtpCapabilities), &caps)
	if caps.RTPCapabilities == nil {
		t.Fatal("no rtp capabilities returned")
	}

	env.emit(host, EventCreateTransport, CreateTransportPayload{RoomID: roomID, Direction: "send"})
	var tc TransportCreatedPayload
	decodePayload(t, expectEvent(t, host, EventTransportCreated), &tc)
	wantID := host.SocketID() + "-send"
	if tc.TransportID != wantID || tc.Direction != "send" {
		t.Errorf("unexpected transportCreated: %+v", tc)
	}

	env.emit(host, EventConnectTransport, ConnectTransportPayload{RoomID: roomID, TransportID: wantID, DTLSParameters: []byte(`{}`)})
	expectEvent(t, host, EventTransportConnected)

	viewer := env.connect(t)
	env.emit(viewer, EventJoinRoom, JoinRoomPayload{RoomID: roomID, MemberID: "V", Name: "Bob"})
	expectEvent(t, viewer, EventRoomJoined)
	drain(host)
	drain(viewer)

	env.emit(host, EventProduce, ProducePayload{RoomID: roomID, TransportID: wantID, Kind: "video"})
	var produced ProducedPayload
	decodePayload(t, expectEvent(t, host, EventProduced), &produced)

	var np NewProducerPayload
	decodePayload(t, expectEvent(t, viewer, EventNewProducer), &np)
	if np.ProducerID != produced.ID || np.Kind != "video" {
		t.Errorf("unexpected newProducer: %+v", np)
	}

	env.emit(viewer, EventConsume, ConsumePayload{RoomID: roomID, TransportID: viewer.SocketID() + "-recv", ProducerID: produced.ID})
	var ci media.ConsumerInfo
	decodePayload(t, expectEvent(t, viewer, EventConsumed), &ci)
	if ci.ProducerID != produced.ID {
		t.Errorf("consumer bound to %s, expected %s", ci.ProducerID, produced.ID)
	}

	env.emit(viewer, EventResumeConsumer, ResumeConsumerPayload{RoomID: roomID, ConsumerID: ci.ID})
	expectEvent(t, viewer, EventConsumerResumed)

	env.emit(viewer, EventGetProducers, RoomScopedPayload{RoomID: roomID})
	var pl ProducersPayload
	decodePayload(t, expectEvent(t, viewer, EventProducers), &pl)
	if len(pl.Producers) != 1 || pl.Producers[0] != produced.ID {
		t.Errorf("unexpected producers: %v", pl.Producers)
	}

	// Viewers cannot close producers.
	env.emit(viewer, EventCloseProducer, CloseProducerPayload{RoomID: roomID, ProducerID: produced.ID})
	expectEvent(t, viewer, EventError)

	env.emit(host, EventCloseProducer, CloseProducerPayload{RoomID: roomID, ProducerID: produced.ID})
	var pc ProducerClosedPayload
	decodePayload(t, expectEvent(t, viewer, EventProducerClosed), &pc)
	if pc.ProducerID != produced.ID {
		t.Errorf("producerClosed for %s", pc.ProducerID)
	}
}

func TestRelayEvents(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	viewer := env.connect(t)
	env.emit(viewer, EventJoinRoom, JoinRoomPayload{RoomID: roomID, MemberID: "V", Name: "Bob"})
	expectEvent(t, viewer, EventRoomJoined)
	drain(host)
	drain(viewer)

	// Targeted offer.
	env.emit(host, EventOffer, OfferPayload{RoomID: roomID, Offer: []byte(`{"sdp":"x"}`), To: viewer.SocketID()})
	var off RelayedOfferPayload
	decodePayload(t, expectEvent(t, viewer, EventOffer), &off)
	if off.From != host.SocketID() {
		t.Errorf("offer from %s, expected host socket", off.From)
	}

	// Answer broadcasts to everyone but the sender.
	env.emit(viewer, EventAnswer, AnswerPayload{RoomID: roomID, Answer: []byte(`{"sdp":"y"}`)})
	var ans RelayedAnswerPayload
	decodePayload(t, expectEvent(t, host, EventAnswer), &ans)
	if ans.From != viewer.SocketID() {
		t.Errorf("answer from %s, expected viewer socket", ans.From)
	}

	// existing-viewers lists viewer connection IDs.
	env.emit(host, EventHostReadyToShare, RoomScopedPayload{RoomID: roomID})
	var ev ExistingViewersPayload
	decodePayload(t, expectEvent(t, host, EventExistingViewers), &ev)
	if len(ev.ViewerIDs) != 1 || ev.ViewerIDs[0] != viewer.SocketID() {
		t.Errorf("unexpected existing-viewers: %v", ev.ViewerIDs)
	}

	// request-stream reaches the host with the requester's connection ID.
	env.emit(viewer, EventRequestStream, RoomScopedPayload{RoomID: roomID})
	var rs ViewerRefPayload
	decodePayload(t, expectEvent(t, host, EventRequestStream), &rs)
	if rs.ViewerID != viewer.SocketID() {
		t.Errorf("request-stream from %s", rs.ViewerID)
	}

	// Livestream reactions fan out with a fresh ID.
	env.emit(viewer, EventLivestreamReaction, LivestreamReactionPayload{RoomID: roomID, UserName: "Bob", Emoji: "🔥", UserID: "V"})
	var lr LivestreamReactionBroadcast
	decodePayload(t, expectEvent(t, host, EventLivestreamReaction), &lr)
	if lr.ID == "" || lr.Emoji != "🔥" {
		t.Errorf("unexpected livestream reaction: %+v", lr)
	}
}

func TestMediaRoomClosedEventTearsDownRoom(t *testing.T) {
	st, err := store.NewJSONFileStore(filepath.Join(t.TempDir(), "messages.json"))
	if err != nil {
		t.Fatalf("NewJSONFileStore: %v", err)
	}
	defer st.Close()

	reg := registry.New()
	engine := newStubEngine()
	ps := pubsub.NewMemoryPubSub()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(reg, engine, st, profanity.NewWordListFilter(), ps, 60*time.Millisecond, logger)
	defer hub.Close()
	env := &testEnv{hub: hub, reg: reg, engine: engine, store: st}

	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	payload, _ := json.Marshal(media.RoomClosedEvent{
		RoomID:      roomID,
		Reason:      "media worker died",
		ProducerIDs: []string{"producer-1"},
	})
	err = ps.Publish(context.Background(), pubsub.Topics.Media(), &pubsub.Message{
		Topic:   pubsub.Topics.Media(),
		Type:    media.EventRoomClosed,
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Viewers hear about the dead producers before the room disappears.
	pc := expectEvent(t, host, EventProducerClosed)
	var pcp ProducerClosedPayload
	decodePayload(t, pc, &pcp)
	if pcp.ProducerID != "producer-1" {
		t.Errorf("producerClosed for %q, expected producer-1", pcp.ProducerID)
	}

	rd := expectEvent(t, host, EventRoomDeleted)
	var rdp RoomDeletedPayload
	decodePayload(t, rd, &rdp)
	if !strings.Contains(rdp.Message, "media worker died") {
		t.Errorf("unexpected room-deleted message: %q", rdp.Message)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if reg.FindRoomByID(roomID) == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("room survived the media room-closed event")
}

func TestConcurrentJoinsKeepNamesUnique(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	roomID := createRoom(t, env, host, "H", "Alice")

	v1 := env.connect(t)
	v2 := env.connect(t)

	var wg sync.WaitGroup
	for _, join := range []struct {
		c        *Client
		memberID string
	}{
		{v1, "V1"},
		{v2, "V2"},
	} {
		wg.Add(1)
		go func(c *Client, memberID string) {
			defer wg.Done()
			env.emit(c, EventJoinRoom, JoinRoomPayload{RoomID: roomID, MemberID: memberID, Name: "Bob"})
		}(join.c, join.memberID)
	}
	wg.Wait()

	// Exactly one of the two racing joins may win the name.
	joined, rejected := 0, 0
	for _, c := range []*Client{v1, v2} {
		switch msg := nextEvent(t, c); msg.Type {
		case EventRoomJoined:
			joined++
		case EventError:
			rejected++
			var ep ErrorPayload
			decodePayload(t, msg, &ep)
			if !strings.Contains(ep.Message, `The name "Bob" is already taken`) {
				t.Errorf("unexpected rejection message: %q", ep.Message)
			}
		default:
			t.Errorf("unexpected first event %s", msg.Type)
		}
	}
	if joined != 1 || rejected != 1 {
		t.Errorf("joined=%d rejected=%d, expected exactly one of each", joined, rejected)
	}

	members := env.reg.Members(roomID)
	if len(members) != 2 {
		t.Errorf("room has %d members, expected host plus one Bob: %v", len(members), members)
	}
}

func TestCreateRoomWhileViewerLeavesOldRoom(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect(t)
	hostRoomID := createRoom(t, env, host, "H", "Alice")

	viewer := env.connect(t)
	env.emit(viewer, EventJoinRoom, JoinRoomPayload{RoomID: hostRoomID, MemberID: "V", Name: "Bob"})
	expectEvent(t, viewer, EventRoomJoined)
	drain(host)
	drain(viewer)

	// The viewer promotes themselves to host of their own room; the old
	// membership must not linger.
	env.emit(viewer, EventCreateRoom, CreateRoomPayload{HostID: "V", Name: "Bob"})

	left := expectEvent(t, host, EventMemberLeft)
	var lp MemberLeftPayload
	decodePayload(t, left, &lp)
	if lp.UserID != "V" {
		t.Errorf("member-left for %q, expected V", lp.UserID)
	}
	if len(lp.Members) != 1 || lp.Members[0] != "H" {
		t.Errorf("old room members after promotion: %v", lp.Members)
	}

	created := expectEvent(t, viewer, EventRoomCreated)
	var state RoomStatePayload
	decodePayload(t, created, &state)
	if state.RoomID != domain.RoomIDForHost("V") || state.HostID != "V" {
		t.Errorf("unexpected new room state: %+v", state)
	}

	oldRoom := env.reg.FindRoomByID(hostRoomID)
	if oldRoom == nil {
		t.Fatal("old room destroyed by a viewer's departure")
	}
	if oldRoom.HasMember("V") {
		t.Error("viewer still a member of the old room")
	}
	if got := env.reg.GetUserRoom("V"); got != state.RoomID {
		t.Errorf("user room binding = %q, expected %q", got, state.RoomID)
	}
}
