package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoLocalTracks = errors.New("rtc: device has no local tracks")

// Device is the client side of the engine: it answers the server's offers
// and hands every remote track to OnTrack. It does not publish media.
type Device struct {
	cfg Config
	api *webrtc.API

	onTrack func(consumerID string, track *webrtc.TrackRemote)

	mu   sync.Mutex
	caps capabilities
	pcs  map[domain.TransportKind]*webrtc.PeerConnection
}

func NewDevice(cfg Config) (*Device, error) {
	me, err := NewMediaEngine()
	if err != nil {
		return nil, err
	}
	se, err := cfg.settingEngine()
	if err != nil {
		return nil, err
	}
	return &Device{
		cfg: cfg,
		api: webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)),
		pcs: make(map[domain.TransportKind]*webrtc.PeerConnection),
	}, nil
}

// OnTrack sets the callback for remote tracks; the track id is the consumer id.
func (d *Device) OnTrack(fn func(consumerID string, track *webrtc.TrackRemote)) {
	d.onTrack = fn
}

func (d *Device) Load(raw core.Params) error {
	var caps capabilities
	if err := json.Unmarshal(raw, &caps); err != nil {
		return fmt.Errorf("routing capabilities: %w", err)
	}
	local := routerCapabilities()
	for _, c := range caps.Codecs {
		if !supports(local, c.MimeType) {
			log.Warn().Str("module", "rtc.device").Str("mime", c.MimeType).Msg("router codec not supported locally")
		}
	}
	d.mu.Lock()
	d.caps = caps
	d.mu.Unlock()
	return nil
}

func supports(caps capabilities, mime string) bool {
	for _, c := range caps.Codecs {
		if c.MimeType == mime {
			return true
		}
	}
	return false
}

func (d *Device) RecvCapabilities() core.Params {
	b, _ := json.Marshal(routerCapabilities())
	return b
}

func (d *Device) ConnectTransport(kind domain.TransportKind, info protocol.TransportInfo) (core.Params, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(info.ConnectParams, &offer); err != nil {
		return nil, fmt.Errorf("connect params: %w", err)
	}
	pc, err := d.api.NewPeerConnection(d.cfg.WebRTCConfig())
	if err != nil {
		return nil, err
	}
	if kind == domain.TransportReceive {
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			log.Info().
				Str("module", "rtc.device").
				Str("kind", track.Kind().String()).
				Str("track_id", track.ID()).
				Msg("OnTrack received")
			if d.onTrack != nil {
				d.onTrack(track.ID(), track)
			}
		})
	}
	d.mu.Lock()
	if old, ok := d.pcs[kind]; ok {
		_ = old.Close()
	}
	d.pcs[kind] = pc
	d.mu.Unlock()
	return d.answer(pc, offer)
}

func (d *Device) answer(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (core.Params, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.gatherTimeout())
	defer cancel()
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		log.Warn().Str("module", "rtc.device").Msg("ICE gathering timed out")
	}
	return json.Marshal(pc.LocalDescription())
}

func (d *Device) TrackParams(domain.MediaKind) (core.Params, error) {
	return nil, ErrNoLocalTracks
}

// AddConsumer answers the renegotiation offer that carries the new track.
func (d *Device) AddConsumer(info protocol.ConsumerInfo) (core.Params, error) {
	var params consumerParams
	if err := json.Unmarshal(info.TrackParams, &params); err != nil {
		return nil, fmt.Errorf("track params: %w", err)
	}
	d.mu.Lock()
	pc, ok := d.pcs[domain.TransportReceive]
	d.mu.Unlock()
	if !ok {
		return nil, errors.New("rtc: receive transport not connected")
	}
	return d.answer(pc, params.SessionDescription)
}

// RemoveConsumer is a no-op: the remote track ends when the server removes
// its sender.
func (d *Device) RemoveConsumer(string) {}

func (d *Device) Close() error {
	d.mu.Lock()
	pcs := d.pcs
	d.pcs = make(map[domain.TransportKind]*webrtc.PeerConnection)
	d.mu.Unlock()
	var errs []error
	for _, pc := range pcs {
		errs = append(errs, pc.Close())
	}
	return errors.Join(errs...)
}
