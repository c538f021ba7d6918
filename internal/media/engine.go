package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stagecast/stagecast/internal/domain"
	"github.com/stagecast/stagecast/internal/pubsub"
)

// exitDelay is how long the engine waits before terminating the process
// once the worker pool is empty and recovery has failed.
var exitDelay = 5 * time.Second

// Options bound the worker pool.
type Options struct {
	// MinWorkers defaults to min(2, MaxWorkers).
	MinWorkers int
	// MaxWorkers defaults to the host's logical CPU count.
	MaxWorkers int
}

func (o Options) withDefaults() Options {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = runtime.NumCPU()
	}
	if o.MinWorkers <= 0 {
		o.MinWorkers = 2
	}
	if o.MinWorkers > o.MaxWorkers {
		o.MinWorkers = o.MaxWorkers
	}
	return o
}

// routerBundle is the per-room media state: the router, the worker it lives
// on, and the IDs of everything allocated through it.
type routerBundle struct {
	router     Router
	workerID   int
	transports map[string]struct{}
	producers  map[string]string // producerID -> kind
	consumers  map[string]struct{}
}

// Engine owns the worker pool and the roomID -> router map. All operations
// are idempotent on a missing room: they return zero values, never an error
// the caller must branch on.
type Engine struct {
	runtime Runtime
	ps      pubsub.PubSub
	logger  *slog.Logger
	exit    func(code int)

	mu         sync.Mutex
	workers    []Worker
	nextWorker int
	rooms      map[string]*routerBundle
	minWorkers int
	maxWorkers int
	closed     bool

	isScaling atomic.Bool
}

// NewEngine starts the pool with MinWorkers created in parallel. It fails
// only if every worker fails to start.
func NewEngine(ctx context.Context, rt Runtime, ps pubsub.PubSub, opts Options, logger *slog.Logger) (*Engine, error) {
	opts = opts.withDefaults()

	e := &Engine{
		runtime:    rt,
		ps:         ps,
		logger:     logger.With("component", "media"),
		exit:       os.Exit,
		rooms:      make(map[string]*routerBundle),
		minWorkers: opts.MinWorkers,
		maxWorkers: opts.MaxWorkers,
	}

	var wg sync.WaitGroup
	results := make([]Worker, opts.MinWorkers)
	errs := make([]error, opts.MinWorkers)
	for i := 0; i < opts.MinWorkers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = rt.NewWorker(ctx)
		}(i)
	}
	wg.Wait()

	for i, w := range results {
		if errs[i] != nil {
			e.logger.Error("worker failed to start", "error", errs[i])
			continue
		}
		e.adoptWorker(w)
	}
	if len(e.workers) == 0 {
		return nil, fmt.Errorf("start worker pool: %w", errors.Join(errs...))
	}

	e.logger.Info("worker pool started", "workers", len(e.workers), "min", e.minWorkers, "max", e.maxWorkers)
	return e, nil
}

// adoptWorker appends a worker and wires its death handler.
func (e *Engine) adoptWorker(w Worker) {
	e.mu.Lock()
	e.workers = append(e.workers, w)
	e.mu.Unlock()
	w.OnDied(func() { e.handleWorkerDeath(w) })
}

// handleWorkerDeath removes the worker, closes the rooms it hosted, and
// attempts exactly one recovery. If recovery fails and the pool is empty the
// process is scheduled for termination.
func (e *Engine) handleWorkerDeath(w Worker) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	for i, cur := range e.workers {
		if cur == w {
			e.workers = append(e.workers[:i], e.workers[i+1:]...)
			break
		}
	}
	if e.nextWorker >= len(e.workers) {
		e.nextWorker = 0
	}

	lost := make(map[string][]string)
	for roomID, bundle := range e.rooms {
		if bundle.workerID == w.ID() {
			producers := make([]string, 0, len(bundle.producers))
			for id := range bundle.producers {
				producers = append(producers, id)
			}
			lost[roomID] = producers
			delete(e.rooms, roomID)
		}
	}
	remaining := len(e.workers)
	e.mu.Unlock()

	e.logger.Error("media worker died", "worker_id", w.ID(), "lost_rooms", len(lost), "remaining_workers", remaining)

	for roomID, producers := range lost {
		e.publishRoomClosed(roomID, "media worker died", producers)
	}

	replacement, err := e.runtime.NewWorker(context.Background())
	if err == nil {
		e.adoptWorker(replacement)
		e.logger.Info("worker recovered", "worker_id", replacement.ID())
		return
	}

	e.logger.Error("worker recovery failed", "error", err)
	e.mu.Lock()
	empty := len(e.workers) == 0
	e.mu.Unlock()
	if empty {
		e.logger.Error("worker pool exhausted, terminating", "in", exitDelay)
		time.AfterFunc(exitDelay, func() { e.exit(1) })
	}
}

// CreateRouter ensures the room has a router, placing new routers on
// workers round-robin. Triggers auto-scaling.
func (e *Engine) CreateRouter(ctx context.Context, roomID string) error {
	e.mu.Lock()
	if _, ok := e.rooms[roomID]; ok {
		e.mu.Unlock()
		return nil
	}
	if len(e.workers) == 0 {
		e.mu.Unlock()
		return domain.ErrNoWorkers
	}
	w := e.workers[e.nextWorker%len(e.workers)]
	e.nextWorker = (e.nextWorker + 1) % len(e.workers)
	e.mu.Unlock()

	router, err := w.CreateRouter(ctx)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	e.mu.Lock()
	if _, ok := e.rooms[roomID]; ok {
		// Lost the race; keep the first router.
		e.mu.Unlock()
		router.Close()
	} else {
		e.rooms[roomID] = &routerBundle{
			router:     router,
			workerID:   w.ID(),
			transports: make(map[string]struct{}),
			producers:  make(map[string]string),
			consumers:  make(map[string]struct{}),
		}
		e.mu.Unlock()
		e.logger.Info("router created", "room_id", roomID, "worker_id", w.ID())
	}

	e.triggerScaling()
	return nil
}

// RouterRTPCapabilities returns the room router's capabilities, or nil.
func (e *Engine) RouterRTPCapabilities(roomID string) []byte {
	bundle := e.bundle(roomID)
	if bundle == nil {
		return nil
	}
	return bundle.router.RTPCapabilities()
}

// CreateWebRtcTransport creates and records a transport, or returns nil if
// the room has no router.
func (e *Engine) CreateWebRtcTransport(ctx context.Context, roomID, transportID string) (*TransportInfo, error) {
	bundle := e.bundle(roomID)
	if bundle == nil {
		return nil, nil
	}

	info, err := bundle.router.CreateTransport(ctx, transportID)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	e.mu.Lock()
	if cur, ok := e.rooms[roomID]; ok {
		cur.transports[transportID] = struct{}{}
	}
	e.mu.Unlock()
	return info, nil
}

// ConnectTransport completes the DTLS handshake. Returns false if the room
// or transport is unknown.
func (e *Engine) ConnectTransport(ctx context.Context, roomID, transportID string, dtlsParameters []byte) bool {
	bundle := e.bundle(roomID)
	if bundle == nil {
		return false
	}
	e.mu.Lock()
	_, known := bundle.transports[transportID]
	e.mu.Unlock()
	if !known {
		return false
	}

	if err := bundle.router.ConnectTransport(ctx, transportID, dtlsParameters); err != nil {
		e.logger.Error("connect transport failed", "room_id", roomID, "transport_id", transportID, "error", err)
		return false
	}
	return true
}

// Produce creates a producer and returns its engine-assigned ID, or "".
func (e *Engine) Produce(ctx context.Context, roomID, transportID, kind string, rtpParameters []byte) (string, error) {
	bundle := e.bundle(roomID)
	if bundle == nil {
		return "", nil
	}

	id, err := bundle.router.Produce(ctx, transportID, kind, rtpParameters)
	if err != nil {
		return "", fmt.Errorf("produce: %w", err)
	}

	e.mu.Lock()
	if cur, ok := e.rooms[roomID]; ok {
		cur.producers[id] = kind
	}
	e.mu.Unlock()
	return id, nil
}

// Consume creates a paused consumer for producerID, or returns nil if the
// room is unknown.
func (e *Engine) Consume(ctx context.Context, roomID, transportID, producerID string, rtpCapabilities []byte) (*ConsumerInfo, error) {
	bundle := e.bundle(roomID)
	if bundle == nil {
		return nil, nil
	}

	info, err := bundle.router.Consume(ctx, transportID, producerID, rtpCapabilities)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	e.mu.Lock()
	if cur, ok := e.rooms[roomID]; ok {
		cur.consumers[info.ID] = struct{}{}
	}
	e.mu.Unlock()
	return info, nil
}

// ResumeConsumer unpauses a consumer. Returns false if unknown.
func (e *Engine) ResumeConsumer(ctx context.Context, roomID, consumerID string) bool {
	bundle := e.bundle(roomID)
	if bundle == nil {
		return false
	}
	e.mu.Lock()
	_, known := bundle.consumers[consumerID]
	e.mu.Unlock()
	if !known {
		return false
	}

	if err := bundle.router.ResumeConsumer(ctx, consumerID); err != nil {
		e.logger.Error("resume consumer failed", "room_id", roomID, "consumer_id", consumerID, "error", err)
		return false
	}
	return true
}

// GetProducers lists the room's live producer IDs.
func (e *Engine) GetProducers(roomID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	bundle, ok := e.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(bundle.producers))
	for id := range bundle.producers {
		out = append(out, id)
	}
	return out
}

// CloseProducer closes and forgets one producer. No-op if missing.
func (e *Engine) CloseProducer(roomID, producerID string) {
	e.mu.Lock()
	bundle, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if _, ok := bundle.producers[producerID]; !ok {
		e.mu.Unlock()
		return
	}
	delete(bundle.producers, producerID)
	e.mu.Unlock()

	bundle.router.CloseProducer(producerID)
}

// CloseTransport closes and forgets one transport. No-op if missing.
func (e *Engine) CloseTransport(roomID, transportID string) {
	e.mu.Lock()
	bundle, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if _, ok := bundle.transports[transportID]; !ok {
		e.mu.Unlock()
		return
	}
	delete(bundle.transports, transportID)
	e.mu.Unlock()

	bundle.router.CloseTransport(transportID)
}

// CleanupUserMedia closes every transport whose ID starts with
// connectionIDPrefix. If any were closed it also closes ALL producers in the
// room, because producer ownership is not attributable at the engine level.
// Returns the closed producer IDs so the caller can notify viewers.
func (e *Engine) CleanupUserMedia(ctx context.Context, roomID, connectionIDPrefix string) []string {
	e.mu.Lock()
	bundle, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return nil
	}

	var transports []string
	for id := range bundle.transports {
		if strings.HasPrefix(id, connectionIDPrefix) {
			transports = append(transports, id)
			delete(bundle.transports, id)
		}
	}

	var producers []string
	if len(transports) > 0 {
		for id := range bundle.producers {
			producers = append(producers, id)
		}
		bundle.producers = make(map[string]string)
	}
	e.mu.Unlock()

	for _, id := range transports {
		bundle.router.CloseTransport(id)
	}
	for _, id := range producers {
		bundle.router.CloseProducer(id)
	}

	if len(transports) > 0 {
		e.logger.Info("user media cleaned up", "room_id", roomID, "prefix", connectionIDPrefix,
			"transports_closed", len(transports), "producers_closed", len(producers))
	}
	return producers
}

// CloseRoom tears down the room's consumers, producers, transports, and
// router, and forgets the bundle. Triggers auto-scaling.
func (e *Engine) CloseRoom(roomID string) {
	e.mu.Lock()
	bundle, ok := e.rooms[roomID]
	if ok {
		delete(e.rooms, roomID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	for id := range bundle.consumers {
		bundle.router.CloseConsumer(id)
	}
	for id := range bundle.producers {
		bundle.router.CloseProducer(id)
	}
	for id := range bundle.transports {
		bundle.router.CloseTransport(id)
	}
	bundle.router.Close()

	e.logger.Info("room media closed", "room_id", roomID)
	e.triggerScaling()
}

// Close shuts down every room and worker.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	rooms := make([]string, 0, len(e.rooms))
	for id := range e.rooms {
		rooms = append(rooms, id)
	}
	workers := make([]Worker, len(e.workers))
	copy(workers, e.workers)
	e.workers = nil
	e.mu.Unlock()

	for _, id := range rooms {
		e.mu.Lock()
		bundle := e.rooms[id]
		delete(e.rooms, id)
		e.mu.Unlock()
		if bundle != nil {
			bundle.router.Close()
		}
	}
	for _, w := range workers {
		_ = w.Close()
	}
	return nil
}

// WorkerCount returns the live pool size.
func (e *Engine) WorkerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// RoomCount returns the number of rooms with routers.
func (e *Engine) RoomCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rooms)
}

func (e *Engine) bundle(roomID string) *routerBundle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rooms[roomID]
}
