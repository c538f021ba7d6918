// Package media is the facade over the SFU runtime: a bounded worker pool,
// per-room routers, transports, producers, and consumers, with imperative
// auto-scaling and worker failure recovery. The runtime itself (ICE, DTLS,
// RTP forwarding) sits behind small capability interfaces so the
// orchestration logic never touches packet-level concerns.
package media

import (
	"context"
	"encoding/json"
)

// TransportInfo is what a client needs to connect a WebRTC transport.
type TransportInfo struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// ConsumerInfo describes a consumer created for a viewer.
type ConsumerInfo struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

// Runtime creates workers. Implementations: the Pion-backed runtime in this
// package, fakes in tests.
type Runtime interface {
	NewWorker(ctx context.Context) (Worker, error)
}

// Worker is one member of the bounded pool. A worker owns the routers placed
// on it; when it dies they die with it.
type Worker interface {
	// ID identifies the worker for router attribution.
	ID() int

	// CreateRouter allocates a router on this worker.
	CreateRouter(ctx context.Context) (Router, error)

	// Usage returns the worker's recent CPU utilization in [0, 1].
	Usage(ctx context.Context) (float64, error)

	// OnDied registers a callback invoked once if the worker dies
	// unexpectedly. Close does not count as dying.
	OnDied(fn func())

	// Close tears the worker down.
	Close() error
}

// Router is a per-room media router: it terminates transports and forwards
// RTP from producers to consumers without transcoding.
type Router interface {
	// RTPCapabilities returns the router's codec capabilities.
	RTPCapabilities() json.RawMessage

	// CreateTransport creates a server-side WebRTC transport.
	CreateTransport(ctx context.Context, transportID string) (*TransportInfo, error)

	// ConnectTransport completes the transport's DTLS handshake.
	ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error

	// CloseTransport closes one transport.
	CloseTransport(transportID string)

	// Produce creates a producer on a send transport and returns its ID.
	Produce(ctx context.Context, transportID, kind string, rtpParameters json.RawMessage) (string, error)

	// CloseProducer closes one producer.
	CloseProducer(producerID string)

	// Consume creates a paused consumer for the producer on a recv
	// transport. The caller must resume it.
	Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*ConsumerInfo, error)

	// ResumeConsumer unpauses a consumer.
	ResumeConsumer(ctx context.Context, consumerID string) error

	// CloseConsumer closes one consumer.
	CloseConsumer(consumerID string)

	// Close tears down every transport, producer, and consumer.
	Close() error
}
