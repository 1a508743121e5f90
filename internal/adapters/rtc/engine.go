// Package rtc is the pion/webrtc media engine. Every room gets its own
// webrtc.API and relay set; every transport is one PeerConnection whose
// offer is the transport's connect params and whose answer is the peer's
// handshake.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("rtc: routing context closed")

type Engine struct {
	ctx context.Context
	cfg Config
}

// NewEngine returns a routing context factory. Relays of every router stop
// when ctx is cancelled.
func NewEngine(ctx context.Context, cfg Config) *Engine {
	return &Engine{ctx: ctx, cfg: cfg}
}

func (e *Engine) CreateRoutingContext(ctx context.Context, room domain.RoomID) (core.RoutingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	me, err := NewMediaEngine()
	if err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se, err := e.cfg.settingEngine()
	if err != nil {
		return nil, fmt.Errorf("setting engine: %w", err)
	}
	caps, err := json.Marshal(routerCapabilities())
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithCancel(e.ctx)
	r := &Router{
		room:      room,
		cfg:       e.cfg,
		api:       webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)),
		relays:    sfu.NewRelayManager(rctx),
		cancel:    cancel,
		caps:      caps,
		producers: make(map[domain.ProducerID]*Producer),
	}
	log.Info().Str("module", "rtc").Str("room", string(room)).Msg("routing context created")
	return r, nil
}

// Router is the per-room routing context.
type Router struct {
	room   domain.RoomID
	cfg    Config
	api    *webrtc.API
	relays *sfu.RelayManager
	cancel context.CancelFunc
	caps   core.Params

	mu        sync.Mutex
	producers map[domain.ProducerID]*Producer
	closed    bool
}

func (r *Router) Capabilities() core.Params { return r.caps }

func (r *Router) CreateTransport(ctx context.Context, kind domain.TransportKind) (core.MediaTransport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return newTransport(ctx, r, kind)
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.producers = make(map[domain.ProducerID]*Producer)
	r.mu.Unlock()

	r.relays.StopAll()
	r.cancel()
	log.Info().Str("module", "rtc").Str("room", string(r.room)).Msg("routing context closed")
	return nil
}

func (r *Router) addProducer(p *Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.producers[p.id] = p
	return nil
}

func (r *Router) removeProducer(pid domain.ProducerID) {
	r.mu.Lock()
	delete(r.producers, pid)
	r.mu.Unlock()
}

func (r *Router) producer(pid domain.ProducerID) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[pid]
	return p, ok
}
