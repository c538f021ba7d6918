package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/stagecast/stagecast/internal/domain"
)

// PionRuntime implements Runtime over in-process Pion workers. Each worker
// carries its own webrtc.API so routers on different workers do not share
// setting or media engines. In-process workers cannot crash independently of
// the process, so OnDied callbacks are registered but never invoked here;
// the fake runtime used in tests exercises that path.
type PionRuntime struct {
	announcedIP string
	logger      *slog.Logger
	nextID      atomic.Int32
	liveWorkers atomic.Int32
	sampler     *cpuSampler
}

// NewPionRuntime creates a runtime. announcedIP is the public address
// advertised in ICE candidates; empty means local-only development mode.
func NewPionRuntime(announcedIP string, logger *slog.Logger) *PionRuntime {
	return &PionRuntime{
		announcedIP: announcedIP,
		logger:      logger.With("component", "media.pion"),
		sampler:     newCPUSampler(),
	}
}

func (r *PionRuntime) NewWorker(ctx context.Context) (Worker, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if r.announcedIP != "" {
		se.SetNAT1To1IPs([]string{r.announcedIP}, webrtc.ICECandidateTypeHost)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	id := int(r.nextID.Add(1))
	r.liveWorkers.Add(1)
	r.logger.Info("pion worker started", "worker_id", id)

	return &pionWorker{id: id, api: api, runtime: r}, nil
}

type pionWorker struct {
	id      int
	api     *webrtc.API
	runtime *PionRuntime

	mu     sync.Mutex
	closed bool
}

func (w *pionWorker) ID() int { return w.id }

func (w *pionWorker) CreateRouter(ctx context.Context) (Router, error) {
	return newPionRouter(w.api, w.runtime.logger.With("worker_id", w.id))
}

// Usage apportions the process CPU utilization across live workers: the
// workers all share one process, so per-worker attribution is an even split
// of the measured total.
func (w *pionWorker) Usage(ctx context.Context) (float64, error) {
	total, err := w.runtime.sampler.Sample()
	if err != nil {
		return 0, err
	}
	n := w.runtime.liveWorkers.Load()
	if n <= 0 {
		return 0, nil
	}
	return total / float64(n), nil
}

func (w *pionWorker) OnDied(fn func()) {}

func (w *pionWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.runtime.liveWorkers.Add(-1)
	w.runtime.logger.Info("pion worker closed", "worker_id", w.id)
	return nil
}

// routerCapabilities is the codec surface every router advertises.
type routerCapabilities struct {
	Codecs []codecCapability `json:"codecs"`
}

type codecCapability struct {
	Kind                 string `json:"kind"`
	MimeType             string `json:"mimeType"`
	ClockRate            int    `json:"clockRate"`
	Channels             int    `json:"channels,omitempty"`
	PreferredPayloadType int    `json:"preferredPayloadType"`
}

type pionRouter struct {
	api    *webrtc.API
	logger *slog.Logger
	caps   json.RawMessage

	mu         sync.Mutex
	transports map[string]*pionTransport
	producers  map[string]*pionProducer
	consumers  map[string]*pionConsumer
	closed     bool
}

type pionTransport struct {
	id       string
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
}

type pionProducer struct {
	id       string
	kind     string
	receiver *webrtc.RTPReceiver
	cancel   context.CancelFunc

	mu          sync.Mutex
	subscribers map[string]*pionConsumer
}

type pionConsumer struct {
	id         string
	producerID string
	kind       string
	track      *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender
	paused     atomic.Bool
}

func newPionRouter(api *webrtc.API, logger *slog.Logger) (*pionRouter, error) {
	caps, err := json.Marshal(routerCapabilities{
		Codecs: []codecCapability{
			{Kind: "video", MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, PreferredPayloadType: 96},
			{Kind: "audio", MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, PreferredPayloadType: 111},
		},
	})
	if err != nil {
		return nil, err
	}
	return &pionRouter{
		api:        api,
		logger:     logger,
		caps:       caps,
		transports: make(map[string]*pionTransport),
		producers:  make(map[string]*pionProducer),
		consumers:  make(map[string]*pionConsumer),
	}, nil
}

func (r *pionRouter) RTPCapabilities() json.RawMessage {
	return r.caps
}

func (r *pionRouter) CreateTransport(ctx context.Context, transportID string) (*TransportInfo, error) {
	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("new ice gatherer: %w", err)
	}
	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, fmt.Errorf("new dtls transport: %w", err)
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("gather candidates: %w", err)
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("local ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return nil, fmt.Errorf("local candidates: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("local dtls parameters: %w", err)
	}

	iceJSON, _ := json.Marshal(iceParams)
	candJSON, _ := json.Marshal(candidates)
	dtlsJSON, _ := json.Marshal(dtlsParams)

	t := &pionTransport{id: transportID, gatherer: gatherer, ice: ice, dtls: dtls}
	r.mu.Lock()
	r.transports[transportID] = t
	r.mu.Unlock()

	return &TransportInfo{
		ID:             transportID,
		ICEParameters:  iceJSON,
		ICECandidates:  candJSON,
		DTLSParameters: dtlsJSON,
	}, nil
}

func (r *pionRouter) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	r.mu.Lock()
	t, ok := r.transports[transportID]
	r.mu.Unlock()
	if !ok {
		return domain.ErrTransportNotFound
	}

	var remote webrtc.DTLSParameters
	if err := json.Unmarshal(dtlsParameters, &remote); err != nil {
		return fmt.Errorf("parse dtls parameters: %w", err)
	}

	// ICE-lite style: the server is the controlled side, the client drives
	// connectivity checks against our advertised candidates. Start blocks
	// until connected, so it runs off the signaling path.
	go func() {
		role := webrtc.ICERoleControlled
		if err := t.ice.Start(nil, webrtc.ICEParameters{}, &role); err != nil {
			r.logger.Error("ice start failed", "transport_id", transportID, "error", err)
			return
		}
		if err := t.dtls.Start(remote); err != nil {
			r.logger.Error("dtls start failed", "transport_id", transportID, "error", err)
		}
	}()
	return nil
}

func (r *pionRouter) CloseTransport(transportID string) {
	r.mu.Lock()
	t, ok := r.transports[transportID]
	if ok {
		delete(r.transports, transportID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	_ = t.dtls.Stop()
	_ = t.ice.Stop()
	_ = t.gatherer.Close()
}

// producerRTPParameters is the slice of client rtpParameters the router
// actually needs: the SSRC of the primary encoding.
type producerRTPParameters struct {
	Encodings []struct {
		SSRC uint32 `json:"ssrc"`
	} `json:"encodings"`
}

func (r *pionRouter) Produce(ctx context.Context, transportID, kind string, rtpParameters json.RawMessage) (string, error) {
	r.mu.Lock()
	t, ok := r.transports[transportID]
	r.mu.Unlock()
	if !ok {
		return "", domain.ErrTransportNotFound
	}

	var codecType webrtc.RTPCodecType
	switch kind {
	case "audio":
		codecType = webrtc.RTPCodecTypeAudio
	case "video":
		codecType = webrtc.RTPCodecTypeVideo
	default:
		return "", fmt.Errorf("unknown media kind %q", kind)
	}

	var params producerRTPParameters
	if err := json.Unmarshal(rtpParameters, &params); err != nil {
		return "", fmt.Errorf("parse rtp parameters: %w", err)
	}
	if len(params.Encodings) == 0 {
		return "", fmt.Errorf("rtp parameters carry no encodings")
	}

	receiver, err := r.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return "", fmt.Errorf("new rtp receiver: %w", err)
	}
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: webrtc.SSRC(params.Encodings[0].SSRC)},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("receive: %w", err)
	}

	fwdCtx, cancel := context.WithCancel(context.Background())
	p := &pionProducer{
		id:          uuid.NewString(),
		kind:        kind,
		receiver:    receiver,
		cancel:      cancel,
		subscribers: make(map[string]*pionConsumer),
	}

	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()

	go p.forward(fwdCtx)

	r.logger.Debug("producer created", "producer_id", p.id, "kind", kind, "transport_id", transportID)
	return p.id, nil
}

// forward pumps RTP from the producer's remote track to every unpaused
// subscriber. Payloads are forwarded as-is; only the packet header copy is
// per-subscriber so SSRC rewriting cannot race.
func (p *pionProducer) forward(ctx context.Context) {
	track := p.receiver.Track()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}

		p.mu.Lock()
		targets := make([]*pionConsumer, 0, len(p.subscribers))
		for _, c := range p.subscribers {
			targets = append(targets, c)
		}
		p.mu.Unlock()

		for _, c := range targets {
			if c.paused.Load() {
				continue
			}
			pktCopy := *pkt
			if err := c.track.WriteRTP(&pktCopy); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					p.removeSubscriber(c.id)
				}
			}
		}
	}
}

func (p *pionProducer) addSubscriber(c *pionConsumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[c.id] = c
}

func (p *pionProducer) removeSubscriber(consumerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribers, consumerID)
}

func (p *pionProducer) close() {
	p.cancel()
	_ = p.receiver.Stop()
}

func (r *pionRouter) CloseProducer(producerID string) {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	if ok {
		delete(r.producers, producerID)
	}
	r.mu.Unlock()
	if ok {
		p.close()
	}
}

func (r *pionRouter) Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*ConsumerInfo, error) {
	r.mu.Lock()
	t, tok := r.transports[transportID]
	p, pok := r.producers[producerID]
	r.mu.Unlock()
	if !tok {
		return nil, domain.ErrTransportNotFound
	}
	if !pok {
		return nil, domain.ErrProducerNotFound
	}

	var codec webrtc.RTPCodecCapability
	switch p.kind {
	case "audio":
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	default:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	track, err := webrtc.NewTrackLocalStaticRTP(codec, producerID, "stagecast")
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := r.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	c := &pionConsumer{
		id:         uuid.NewString(),
		producerID: producerID,
		kind:       p.kind,
		track:      track,
		sender:     sender,
	}
	c.paused.Store(true)

	r.mu.Lock()
	r.consumers[c.id] = c
	r.mu.Unlock()
	p.addSubscriber(c)

	paramsJSON, _ := json.Marshal(sendParams)
	return &ConsumerInfo{
		ID:            c.id,
		ProducerID:    producerID,
		Kind:          p.kind,
		RTPParameters: paramsJSON,
	}, nil
}

func (r *pionRouter) ResumeConsumer(ctx context.Context, consumerID string) error {
	r.mu.Lock()
	c, ok := r.consumers[consumerID]
	r.mu.Unlock()
	if !ok {
		return domain.ErrConsumerNotFound
	}
	c.paused.Store(false)
	return nil
}

func (r *pionRouter) CloseConsumer(consumerID string) {
	r.mu.Lock()
	c, ok := r.consumers[consumerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.consumers, consumerID)
	p := r.producers[c.producerID]
	r.mu.Unlock()
	if p != nil {
		p.removeSubscriber(consumerID)
	}
	_ = c.sender.Stop()
}

func (r *pionRouter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	consumers := r.consumers
	producers := r.producers
	transports := r.transports
	r.consumers = make(map[string]*pionConsumer)
	r.producers = make(map[string]*pionProducer)
	r.transports = make(map[string]*pionTransport)
	r.mu.Unlock()

	for _, c := range consumers {
		_ = c.sender.Stop()
	}
	for _, p := range producers {
		p.close()
	}
	for _, t := range transports {
		_ = t.dtls.Stop()
		_ = t.ice.Stop()
		_ = t.gatherer.Close()
	}
	return nil
}
