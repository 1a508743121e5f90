package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrBadHandshake = errors.New("rtc: handshake must be an SDP answer")

// Transport wraps one PeerConnection. A send transport receives the peer's
// audio and video; a receive transport carries local tracks for consumers.
type Transport struct {
	id     domain.TransportID
	kind   domain.TransportKind
	r      *Router
	pc     *webrtc.PeerConnection
	params core.Params

	// negotiating serializes offer/answer rounds on pc.
	negotiating sync.Mutex

	mu        sync.Mutex
	tracks    map[domain.MediaKind]*webrtc.TrackRemote
	producers map[domain.MediaKind]*Producer
	closed    bool
}

func newTransport(ctx context.Context, r *Router, kind domain.TransportKind) (*Transport, error) {
	pc, err := r.api.NewPeerConnection(r.cfg.WebRTCConfig())
	if err != nil {
		return nil, err
	}
	t := &Transport{
		id:        domain.TransportID(domain.NewID()),
		kind:      kind,
		r:         r,
		pc:        pc,
		tracks:    make(map[domain.MediaKind]*webrtc.TrackRemote),
		producers: make(map[domain.MediaKind]*Producer),
	}
	logger := log.With().Str("module", "rtc").Str("room", string(r.room)).Str("transport", string(t.id)).Logger()

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
	})

	switch kind {
	case domain.TransportSend:
		for _, k := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(k, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				_ = pc.Close()
				return nil, err
			}
		}
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			logger.Info().
				Str("kind", track.Kind().String()).
				Str("track_id", track.ID()).
				Str("stream_id", track.StreamID()).
				Msg("OnTrack received")
			t.onTrack(track)
		})
	case domain.TransportReceive:
		// A data channel gives the first offer an m-line before any consumer exists.
		if _, err := pc.CreateDataChannel("huddle", nil); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	offer, err := t.offer(ctx)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if t.params, err = json.Marshal(offer); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return t, nil
}

func (t *Transport) ID() domain.TransportID     { return t.id }
func (t *Transport) ConnectParams() core.Params { return t.params }

// offer creates a local offer and waits for ICE gathering, bounded by ctx and
// the configured gather timeout. Candidates gathered so far are used when the
// timeout fires.
func (t *Transport) offer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	timer := time.NewTimer(t.r.cfg.gatherTimeout())
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		log.Warn().Str("module", "rtc").Str("transport", string(t.id)).Msg("ICE gathering timed out")
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *t.pc.LocalDescription(), nil
}

func parseAnswer(handshake core.Params) (webrtc.SessionDescription, error) {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(handshake, &answer); err != nil {
		return answer, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	if answer.Type != webrtc.SDPTypeAnswer || answer.SDP == "" {
		return answer, ErrBadHandshake
	}
	return answer, nil
}

func (t *Transport) Connect(ctx context.Context, handshake core.Params) error {
	return t.Renegotiate(ctx, handshake)
}

// Renegotiate applies the answer to the latest offer. Receive transports
// issue a new offer with every consumer.
func (t *Transport) Renegotiate(_ context.Context, handshake core.Params) error {
	answer, err := parseAnswer(handshake)
	if err != nil {
		return err
	}
	t.negotiating.Lock()
	defer t.negotiating.Unlock()
	return t.pc.SetRemoteDescription(answer)
}

func (t *Transport) onTrack(track *webrtc.TrackRemote) {
	kind := domain.MediaKind(track.Kind().String())
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	p, ok := t.producers[kind]
	if !ok {
		t.tracks[kind] = track
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	p.bind(track)
}

func (t *Transport) Produce(_ context.Context, kind domain.MediaKind, _ core.Params) (core.MediaProducer, error) {
	if t.kind != domain.TransportSend {
		return nil, fmt.Errorf("rtc: produce on %s transport", t.kind)
	}
	p := &Producer{
		id:        domain.ProducerID(domain.NewID()),
		kind:      kind,
		transport: t,
	}
	if err := t.r.addProducer(p); err != nil {
		return nil, err
	}
	relay := t.r.relays.AddRelay(p.id)
	relay.OnEnded(p.end)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.r.relays.StopRelay(p.id)
		t.r.removeProducer(p.id)
		return nil, ErrClosed
	}
	t.producers[kind] = p
	track, arrived := t.tracks[kind]
	delete(t.tracks, kind)
	t.mu.Unlock()

	if arrived {
		p.bind(track)
	}
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, pid domain.ProducerID, _ core.Params) (core.MediaConsumer, error) {
	if t.kind != domain.TransportReceive {
		return nil, fmt.Errorf("rtc: consume on %s transport", t.kind)
	}
	p, ok := t.r.producer(pid)
	if !ok {
		return nil, domain.ErrUnknownProducer
	}

	cid := domain.ConsumerID(domain.NewID())
	local, err := webrtc.NewTrackLocalStaticRTP(
		codecFor(webrtc.NewRTPCodecType(string(p.kind))),
		string(cid),
		"huddle-"+string(pid),
	)
	if err != nil {
		return nil, err
	}

	t.negotiating.Lock()
	defer t.negotiating.Unlock()

	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, err
	}
	go drainRTCP(sender)

	offer, err := t.offer(ctx)
	if err != nil {
		_ = t.pc.RemoveTrack(sender)
		return nil, err
	}

	c := &Consumer{
		id:        cid,
		producer:  p,
		transport: t,
		sender:    sender,
	}
	c.params, err = json.Marshal(consumerParams{
		SessionDescription: offer,
		TrackID:            local.ID(),
		StreamID:           local.StreamID(),
	})
	if err != nil {
		_ = t.pc.RemoveTrack(sender)
		return nil, err
	}
	c.out = newOutTrack(local)
	if !t.r.relays.AddSubscriber(pid, cid, c.out) {
		_ = t.pc.RemoveTrack(sender)
		return nil, domain.ErrUnknownProducer
	}
	return c, nil
}

// consumerParams tell the peer which offer carries the track and how to
// recognise it.
type consumerParams struct {
	webrtc.SessionDescription
	TrackID  string `json:"trackId"`
	StreamID string `json:"streamId"`
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.tracks = make(map[domain.MediaKind]*webrtc.TrackRemote)
	t.mu.Unlock()

	err := t.pc.Close()
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("transport", string(t.id)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("transport", string(t.id)).Msg("closed")
	}
	return err
}
