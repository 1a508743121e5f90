package core

import (
	"errors"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrRoomClosed is returned by Join when the room was garbage-collected
// between lookup and insertion; the caller retries with a fresh room.
var ErrRoomClosed = errors.New("room closed")

type RoomInfo struct {
	ID            domain.RoomID `json:"id"`
	PeerCount     int           `json:"peer_count"`
	ProducerCount int           `json:"producer_count"`
}

// Room is a threadsafe in-memory room: its lock is the unit of mutual
// exclusion for peers, transports, producers and consumers. Engine calls are
// never made while holding it; callers reserve a slot, talk to the engine,
// then commit or release.
type Room struct {
	id domain.RoomID
	rc RoutingContext

	mu        sync.Mutex
	peers     map[SessionID]*PeerSession
	producers map[domain.ProducerID]*Producer
	closed    bool
}

func NewRoom(id domain.RoomID, rc RoutingContext) *Room {
	return &Room{
		id:        id,
		rc:        rc,
		peers:     make(map[SessionID]*PeerSession),
		producers: make(map[domain.ProducerID]*Producer),
	}
}

func (r *Room) ID() domain.RoomID              { return r.id }
func (r *Room) RoutingContext() RoutingContext { return r.rc }

func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomInfo{ID: r.id, PeerCount: len(r.peers), ProducerCount: len(r.producers)}
}

func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Join inserts p and returns the active producers at that instant. Any
// producer registered later is broadcast to p, so each producer reaches p
// exactly once through one of the two paths.
func (r *Room) Join(p *PeerSession) ([]ProducerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomClosed
	}
	r.peers[p.sid] = p
	snapshot := make([]ProducerInfo, 0, len(r.producers))
	for _, prod := range r.producers {
		snapshot = append(snapshot, prod.info())
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(p.sid)).Int("producers", len(snapshot)).Msg("peer joined")
	return snapshot, nil
}

// CloseIfEmpty marks the room closed when no peer is left. Once closed the
// room never accepts peers again.
func (r *Room) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.peers) > 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) peerLocked(sid SessionID) (*PeerSession, error) {
	p, ok := r.peers[sid]
	if !ok {
		return nil, domain.ErrNotJoined
	}
	return p, nil
}

// Peer returns the live session for sid.
func (r *Room) Peer(sid SessionID) (*PeerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[sid]
	return p, ok
}

// ReserveTransport claims the kind slot for a create call in flight.
func (r *Room) ReserveTransport(sid SessionID, kind domain.TransportKind) (*PeerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.peerLocked(sid)
	if err != nil {
		return nil, err
	}
	if p.transports[kind] != nil || p.pendingTransports[kind] {
		return nil, domain.ErrDuplicateTransport
	}
	p.pendingTransports[kind] = true
	return p, nil
}

// ReleaseTransport frees the slot after a failed create. It returns
// ErrPeerGone when the peer left while the engine call was in flight.
func (r *Room) ReleaseTransport(p *PeerSession, kind domain.TransportKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(p.pendingTransports, kind)
	if p.gone {
		return domain.ErrPeerGone
	}
	return nil
}

// CommitTransport registers mt under its reserved slot. ErrPeerGone means the
// peer left while the engine call was in flight and mt must be closed.
func (r *Room) CommitTransport(p *PeerSession, kind domain.TransportKind, mt MediaTransport) (*Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(p.pendingTransports, kind)
	if p.gone {
		return nil, domain.ErrPeerGone
	}
	t := NewTransport(kind, mt)
	p.transports[kind] = t
	return t, nil
}

// BeginConnect marks the transport as connecting so a concurrent connect is
// rejected instead of racing it.
func (r *Room) BeginConnect(sid SessionID, kind domain.TransportKind) (*PeerSession, *Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.peerLocked(sid)
	if err != nil {
		return nil, nil, err
	}
	t := p.transports[kind]
	if t == nil {
		return nil, nil, domain.ErrUnknownTransport
	}
	if t.connecting || t.State() != domain.TransportCreated {
		return nil, nil, domain.ErrInvalidTransportState
	}
	t.connecting = true
	return p, t, nil
}

// FinishConnect records the engine's connect outcome. A failed connect
// leaves the transport Created so the peer may retry.
func (r *Room) FinishConnect(p *PeerSession, t *Transport, engineErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.connecting = false
	if p.gone || t.State() == domain.TransportClosed {
		return domain.ErrPeerGone
	}
	if engineErr != nil {
		return engineErr
	}
	return t.markConnected()
}

// ConnectedTransport returns the peer's transport of kind if it is Connected.
func (r *Room) ConnectedTransport(sid SessionID, kind domain.TransportKind) (*PeerSession, *Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.peerLocked(sid)
	if err != nil {
		return nil, nil, err
	}
	t := p.transports[kind]
	if t == nil || !t.Connected() {
		return nil, nil, domain.ErrTransportNotReady
	}
	return p, t, nil
}

// ReserveProducer claims the (peer, kind) producer slot.
func (r *Room) ReserveProducer(sid SessionID, kind domain.MediaKind) (*PeerSession, *Transport, error) {
	if !kind.Valid() {
		return nil, nil, domain.ErrInvalidKind
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.peerLocked(sid)
	if err != nil {
		return nil, nil, err
	}
	t := p.transports[domain.TransportSend]
	if t == nil || !t.Connected() {
		return nil, nil, domain.ErrTransportNotReady
	}
	if p.producers[kind] != nil || p.pendingProducers[kind] {
		return nil, nil, domain.ErrDuplicateProducer
	}
	p.pendingProducers[kind] = true
	return p, t, nil
}

// ReleaseProducer frees the slot after a failed produce. ErrPeerGone means
// the failure came from the peer leaving or its send transport closing.
func (r *Room) ReleaseProducer(p *PeerSession, kind domain.MediaKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(p.pendingProducers, kind)
	if p.gone {
		return domain.ErrPeerGone
	}
	if t := p.transports[domain.TransportSend]; t == nil || t.State() == domain.TransportClosed {
		return domain.ErrPeerGone
	}
	return nil
}

// CommitProducer registers mp and returns the peers that must be told about
// it: everyone present now except the producer.
func (r *Room) CommitProducer(p *PeerSession, kind domain.MediaKind, mp MediaProducer) (*Producer, []*PeerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(p.pendingProducers, kind)
	if p.gone {
		return nil, nil, domain.ErrPeerGone
	}
	if t := p.transports[domain.TransportSend]; t == nil || t.State() == domain.TransportClosed {
		return nil, nil, domain.ErrPeerGone
	}
	prod := &Producer{
		media:     mp,
		kind:      kind,
		owner:     p,
		state:     domain.ProducerActive,
		consumers: make(map[domain.ConsumerID]*Consumer),
	}
	p.producers[kind] = prod
	r.producers[prod.ID()] = prod
	return prod, r.othersLocked(p), nil
}

func (r *Room) othersLocked(p *PeerSession) []*PeerSession {
	out := make([]*PeerSession, 0, len(r.peers))
	for _, other := range r.peers {
		if other != p {
			out = append(out, other)
		}
	}
	return out
}

// PrepareConsume validates a consume request before the engine is asked.
func (r *Room) PrepareConsume(sid SessionID, pid domain.ProducerID) (*PeerSession, *Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.peerLocked(sid)
	if err != nil {
		return nil, nil, err
	}
	t := p.transports[domain.TransportReceive]
	if t == nil || !t.Connected() {
		return nil, nil, domain.ErrTransportNotReady
	}
	prod, ok := r.producers[pid]
	if !ok || prod.state != domain.ProducerActive {
		return nil, nil, domain.ErrUnknownProducer
	}
	if prod.owner == p {
		return nil, nil, domain.ErrOwnProducer
	}
	return p, t, nil
}

// CommitConsumer registers mc as Paused. ErrPeerGone and ErrUnknownProducer
// mean mc lost its owner or its source while the engine call was in flight.
func (r *Room) CommitConsumer(p *PeerSession, mc MediaConsumer) (*Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.gone {
		return nil, domain.ErrPeerGone
	}
	prod, ok := r.producers[mc.ProducerID()]
	if !ok || prod.state != domain.ProducerActive {
		return nil, domain.ErrUnknownProducer
	}
	c := &Consumer{
		media:    mc,
		owner:    p,
		producer: prod,
		state:    domain.ConsumerPaused,
	}
	p.consumers[c.ID()] = c
	prod.consumers[c.ID()] = c
	return c, nil
}

// AbortConsume explains a failed consume call by what changed in the room
// meanwhile. A nil result means the engine failure stands on its own.
func (r *Room) AbortConsume(p *PeerSession, pid domain.ProducerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.gone {
		return domain.ErrPeerGone
	}
	if prod, ok := r.producers[pid]; !ok || prod.state != domain.ProducerActive {
		return domain.ErrUnknownProducer
	}
	return nil
}

// BeginResume reports whether the consumer still needs an engine resume.
func (r *Room) BeginResume(sid SessionID, cid domain.ConsumerID) (*Consumer, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.peerLocked(sid)
	if err != nil {
		return nil, false, err
	}
	c, ok := p.consumers[cid]
	if !ok {
		return nil, false, domain.ErrUnknownConsumer
	}
	return c, c.state == domain.ConsumerPaused, nil
}

func (r *Room) FinishResume(c *Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch c.state {
	case domain.ConsumerClosed:
		return domain.ErrUnknownConsumer
	case domain.ConsumerPaused:
		c.state = domain.ConsumerActive
	}
	return nil
}

// AbortResume returns ErrUnknownConsumer when c was closed while its engine
// resume was in flight.
func (r *Room) AbortResume(c *Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.state == domain.ConsumerClosed {
		return domain.ErrUnknownConsumer
	}
	return nil
}

// ConsumerState is the registry's view of a consumer; ok is false once the
// consumer is gone.
func (r *Room) ConsumerState(sid SessionID, cid domain.ConsumerID) (domain.ConsumerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[sid]
	if !ok {
		return domain.ConsumerClosed, false
	}
	c, ok := p.consumers[cid]
	if !ok {
		return domain.ConsumerClosed, false
	}
	return c.state, true
}

// TransportState reports the state of the peer's transport of kind.
func (r *Room) TransportState(sid SessionID, kind domain.TransportKind) (domain.TransportState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[sid]
	if !ok {
		return "", false
	}
	t, ok := p.transports[kind]
	if !ok {
		return "", false
	}
	return t.State(), true
}

// ProducerCount counts the producers registered by sid.
func (r *Room) ProducerCount(sid SessionID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[sid]; ok {
		return len(p.producers)
	}
	return 0
}

// DetachProducer removes a producer and every consumer referencing it.
// The caller closes the returned engine objects.
func (r *Room) DetachProducer(pid domain.ProducerID) (ClosedProducer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prod, ok := r.producers[pid]
	if !ok {
		return ClosedProducer{}, false
	}
	return r.detachLocked(prod), true
}

// DetachOwnProducer is DetachProducer restricted to the producer's owner.
func (r *Room) DetachOwnProducer(sid SessionID, pid domain.ProducerID) (ClosedProducer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prod, ok := r.producers[pid]
	if !ok || prod.owner.sid != sid {
		return ClosedProducer{}, domain.ErrUnknownProducer
	}
	return r.detachLocked(prod), nil
}

func (r *Room) detachLocked(prod *Producer) ClosedProducer {
	prod.state = domain.ProducerClosed
	delete(r.producers, prod.ID())
	if prod.owner.producers[prod.kind] == prod {
		delete(prod.owner.producers, prod.kind)
	}
	out := ClosedProducer{Producer: prod}
	for id, c := range prod.consumers {
		c.state = domain.ConsumerClosed
		delete(c.owner.consumers, id)
		out.Consumers = append(out.Consumers, c)
	}
	prod.consumers = nil
	for _, p := range r.peers {
		if p != prod.owner {
			out.Notify = append(out.Notify, p)
		}
	}
	return out
}

// RemovePeer unregisters sid and hands back everything it owned. Pending
// engine calls of the peer observe gone and clean up after themselves.
func (r *Room) RemovePeer(sid SessionID) (Teardown, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[sid]
	if !ok {
		return Teardown{}, false
	}
	delete(r.peers, sid)
	p.gone = true

	td := Teardown{Peer: p}
	for _, prod := range p.producers {
		td.Producers = append(td.Producers, r.detachLocked(prod))
	}
	for id, c := range p.consumers {
		c.state = domain.ConsumerClosed
		if c.producer.consumers != nil {
			delete(c.producer.consumers, id)
		}
		td.Consumers = append(td.Consumers, c)
	}
	p.consumers = make(map[domain.ConsumerID]*Consumer)
	for _, t := range p.transports {
		if t.markClosed() {
			td.Transports = append(td.Transports, t)
		}
	}
	td.Remaining = len(r.peers)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Int("remaining", td.Remaining).Msg("peer removed")
	return td, true
}
