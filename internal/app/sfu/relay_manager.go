package sfu

import (
	"context"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// RelayManager owns the relays of one routing context, keyed by producer.
type RelayManager struct {
	ctx    context.Context
	mu     sync.RWMutex
	relays map[domain.ProducerID]*Relay
}

func NewRelayManager(ctx context.Context) *RelayManager {
	return &RelayManager{
		ctx:    ctx,
		relays: make(map[domain.ProducerID]*Relay),
	}
}

// AddRelay registers an idle relay for a producer whose track has not
// arrived yet. Consumers can attach to it right away.
func (m *RelayManager) AddRelay(pid domain.ProducerID) *Relay {
	relay := NewRelay(m.ctx, pid)

	m.mu.Lock()
	if old, ok := m.relays[pid]; ok {
		log.Info().Str("module", "relay").Str("producer", string(pid)).Msg("replacing existing relay for producer")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[pid] = relay
	m.mu.Unlock()
	return relay
}

// StartRelay binds the producer's inbound track and starts forwarding.
func (m *RelayManager) StartRelay(pid domain.ProducerID, src PacketSource) bool {
	m.mu.RLock()
	relay, ok := m.relays[pid]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.mu.Lock()
	if relay.src != nil {
		relay.mu.Unlock()
		return false
	}
	relay.src = src
	relay.mu.Unlock()

	logger := log.With().
		Str("module", "relay").
		Str("producer", string(pid)).
		Logger()
	logger.Info().Msg("starting relay loop")
	go relay.loop(relay.ctx, src, &logger)
	return true
}

// AddSubscriber attaches an OutTrack to the relay of pid for consumer cid.
func (m *RelayManager) AddSubscriber(pid domain.ProducerID, cid domain.ConsumerID, ot *OutTrack) bool {
	m.mu.RLock()
	relay, ok := m.relays[pid]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutTrack(cid, ot)
	return true
}

// MarkSubscriberDelete marks the consumer's OutTrack as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(pid domain.ProducerID, cid domain.ConsumerID) {
	m.mu.RLock()
	relay, ok := m.relays[pid]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if ot, ok := relay.outTrack(cid); ok {
		ot.MarkDelete()
	}
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(pid domain.ProducerID) {
	m.mu.Lock()
	relay, ok := m.relays[pid]
	if ok {
		delete(m.relays, pid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	relay.cancel()
}

// HasRelay reports whether a relay exists for pid.
func (m *RelayManager) HasRelay(pid domain.ProducerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[pid]
	return ok
}

// StopAll stops every relay, used when the routing context closes.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[domain.ProducerID]*Relay)
	m.mu.Unlock()
	for _, relay := range relays {
		relay.markAllDelete()
		relay.cancel()
	}
}
