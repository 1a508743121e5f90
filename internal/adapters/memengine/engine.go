// Package memengine is a media engine that negotiates nothing and forwards
// nothing. It keeps the full object graph of routers, transports, producers
// and consumers in memory, which makes it usable for local development and
// as the engine behind orchestration tests.
package memengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrClosed       = errors.New("memengine: closed")
	ErrBadHandshake = errors.New("memengine: handshake params must be a JSON object")
)

// Hooks let tests stall or fail individual engine calls.
type Hooks struct {
	CreateRoutingContext func(ctx context.Context, room domain.RoomID) error
	CreateTransport      func(ctx context.Context, kind domain.TransportKind) error
	Connect              func(ctx context.Context, kind domain.TransportKind) error
	Produce              func(ctx context.Context, kind domain.MediaKind) error
	Consume              func(ctx context.Context, producer domain.ProducerID) error
	Resume               func(ctx context.Context, consumer domain.ConsumerID) error
	// CloseErr is returned by every Close after the object is released.
	CloseErr error
}

// Stats counts live engine objects.
type Stats struct {
	Routers    int
	Transports int
	Producers  int
	Consumers  int
}

type Factory struct {
	hooks   Hooks
	created atomic.Int64

	mu      sync.Mutex
	routers map[*Router]struct{}
}

func New(hooks Hooks) *Factory {
	return &Factory{hooks: hooks, routers: make(map[*Router]struct{})}
}

func (f *Factory) CreateRoutingContext(ctx context.Context, room domain.RoomID) (core.RoutingContext, error) {
	if f.hooks.CreateRoutingContext != nil {
		if err := f.hooks.CreateRoutingContext(ctx, room); err != nil {
			return nil, err
		}
	}
	f.created.Add(1)
	r := &Router{
		f:          f,
		room:       room,
		transports: make(map[domain.TransportID]*Transport),
		producers:  make(map[domain.ProducerID]*Producer),
		consumers:  make(map[domain.ConsumerID]*Consumer),
	}
	f.mu.Lock()
	f.routers[r] = struct{}{}
	f.mu.Unlock()
	return r, nil
}

// Created is the number of routing contexts ever created.
func (f *Factory) Created() int { return int(f.created.Load()) }

func (f *Factory) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Stats{Routers: len(f.routers)}
	for r := range f.routers {
		r.mu.Lock()
		s.Transports += len(r.transports)
		s.Producers += len(r.producers)
		s.Consumers += len(r.consumers)
		r.mu.Unlock()
	}
	return s
}

// EndTrack simulates end-of-stream on a producer's source track.
func (f *Factory) EndTrack(pid domain.ProducerID) bool {
	f.mu.Lock()
	var p *Producer
	for r := range f.routers {
		r.mu.Lock()
		if found, ok := r.producers[pid]; ok {
			p = found
		}
		r.mu.Unlock()
	}
	f.mu.Unlock()
	if p == nil {
		return false
	}
	p.end()
	return true
}

// ConsumerPaused reports the engine-side pause flag of a consumer.
func (f *Factory) ConsumerPaused(cid domain.ConsumerID) (paused, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for r := range f.routers {
		r.mu.Lock()
		c, found := r.consumers[cid]
		r.mu.Unlock()
		if found {
			return c.paused.Load(), true
		}
	}
	return false, false
}

var capabilities = mustJSON(map[string]any{
	"codecs": []map[string]any{
		{"kind": "audio", "mimeType": "audio/opus", "clockRate": 48000, "channels": 2},
		{"kind": "video", "mimeType": "video/VP8", "clockRate": 90000},
	},
})

type Router struct {
	f    *Factory
	room domain.RoomID

	mu         sync.Mutex
	transports map[domain.TransportID]*Transport
	producers  map[domain.ProducerID]*Producer
	consumers  map[domain.ConsumerID]*Consumer
	closed     bool
}

func (r *Router) Capabilities() core.Params { return capabilities }

func (r *Router) CreateTransport(ctx context.Context, kind domain.TransportKind) (core.MediaTransport, error) {
	if h := r.f.hooks.CreateTransport; h != nil {
		if err := h(ctx, kind); err != nil {
			return nil, err
		}
	}
	id := domain.TransportID(uuid.NewString())
	t := &Transport{
		r:    r,
		id:   id,
		kind: kind,
		params: mustJSON(map[string]any{
			"id": id,
			"iceParameters": map[string]any{
				"usernameFragment": uuid.NewString()[:8],
				"password":         uuid.NewString(),
			},
			"iceCandidates": []map[string]any{
				{"foundation": "udpcandidate", "ip": "127.0.0.1", "port": 40000, "protocol": "udp", "type": "host"},
			},
			"dtlsParameters": map[string]any{"role": "auto"},
		}),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	r.transports[id] = t
	return t, nil
}

func (r *Router) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.f.mu.Lock()
	delete(r.f.routers, r)
	r.f.mu.Unlock()
	return r.f.hooks.CloseErr
}

type Transport struct {
	r      *Router
	id     domain.TransportID
	kind   domain.TransportKind
	params core.Params

	connected atomic.Bool
	closed    atomic.Bool
}

func (t *Transport) ID() domain.TransportID     { return t.id }
func (t *Transport) ConnectParams() core.Params { return t.params }

func (t *Transport) Connect(ctx context.Context, handshake core.Params) error {
	if h := t.r.f.hooks.Connect; h != nil {
		if err := h(ctx, t.kind); err != nil {
			return err
		}
	}
	var obj map[string]any
	if err := json.Unmarshal(handshake, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	if t.closed.Load() {
		return ErrClosed
	}
	t.connected.Store(true)
	return nil
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, _ core.Params) (core.MediaProducer, error) {
	if h := t.r.f.hooks.Produce; h != nil {
		if err := h(ctx, kind); err != nil {
			return nil, err
		}
	}
	if t.kind != domain.TransportSend || !t.connected.Load() {
		return nil, fmt.Errorf("memengine: produce on %s transport", t.kind)
	}
	p := &Producer{r: t.r, id: domain.ProducerID(uuid.NewString()), kind: kind}
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if t.closed.Load() {
		return nil, ErrClosed
	}
	t.r.producers[p.id] = p
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, pid domain.ProducerID, _ core.Params) (core.MediaConsumer, error) {
	if h := t.r.f.hooks.Consume; h != nil {
		if err := h(ctx, pid); err != nil {
			return nil, err
		}
	}
	if t.kind != domain.TransportReceive || !t.connected.Load() {
		return nil, fmt.Errorf("memengine: consume on %s transport", t.kind)
	}
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	p, ok := t.r.producers[pid]
	if !ok {
		return nil, domain.ErrUnknownProducer
	}
	c := &Consumer{
		r:        t.r,
		id:       domain.ConsumerID(uuid.NewString()),
		producer: pid,
		kind:     p.kind,
	}
	c.paused.Store(true)
	c.params = mustJSON(map[string]any{"id": c.id, "producerId": pid, "kind": p.kind})
	t.r.consumers[c.id] = c
	return c, nil
}

// Renegotiate accepts any JSON object; the in-memory engine has no
// session description to update.
func (t *Transport) Renegotiate(_ context.Context, handshake core.Params) error {
	var obj map[string]any
	if err := json.Unmarshal(handshake, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	return nil
}

func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.r.mu.Lock()
	delete(t.r.transports, t.id)
	t.r.mu.Unlock()
	return t.r.f.hooks.CloseErr
}

type Producer struct {
	r    *Router
	id   domain.ProducerID
	kind domain.MediaKind

	mu      sync.Mutex
	ended   bool
	onEnded func()
	closed  bool
}

func (p *Producer) ID() domain.ProducerID  { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

// OnTrackEnded fires fn right away if the track already ended.
func (p *Producer) OnTrackEnded(fn func()) {
	p.mu.Lock()
	p.onEnded = fn
	ended := p.ended
	p.mu.Unlock()
	if ended && fn != nil {
		fn()
	}
}

func (p *Producer) end() {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return
	}
	p.ended = true
	fn := p.onEnded
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.r.mu.Lock()
	delete(p.r.producers, p.id)
	p.r.mu.Unlock()
	return p.r.f.hooks.CloseErr
}

type Consumer struct {
	r        *Router
	id       domain.ConsumerID
	producer domain.ProducerID
	kind     domain.MediaKind
	params   core.Params

	paused atomic.Bool
	closed atomic.Bool
}

func (c *Consumer) ID() domain.ConsumerID         { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID { return c.producer }
func (c *Consumer) Kind() domain.MediaKind        { return c.kind }
func (c *Consumer) TrackParams() core.Params      { return c.params }

func (c *Consumer) Resume(ctx context.Context) error {
	if h := c.r.f.hooks.Resume; h != nil {
		if err := h(ctx, c.id); err != nil {
			return err
		}
	}
	if c.closed.Load() {
		return ErrClosed
	}
	c.paused.Store(false)
	return nil
}

func (c *Consumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.r.mu.Lock()
	delete(c.r.consumers, c.id)
	c.r.mu.Unlock()
	return c.r.f.hooks.CloseErr
}

func mustJSON(v any) core.Params {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
