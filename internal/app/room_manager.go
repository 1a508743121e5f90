package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RoomManager maps room ids to rooms. It creates each room's routing
// context exactly once and drops rooms as soon as they are empty.
type RoomManager struct {
	factory core.RoutingContextFactory

	mu       sync.RWMutex
	rooms    map[domain.RoomID]*core.Room
	creating singleflight.Group
}

func NewRoomManager(factory core.RoutingContextFactory) *RoomManager {
	return &RoomManager{
		factory: factory,
		rooms:   make(map[domain.RoomID]*core.Room),
	}
}

// GetOrCreate returns the room for id, creating it on first use. Concurrent
// first calls for the same id share one routing-context creation. A failed
// creation leaves nothing behind and may be retried.
func (m *RoomManager) GetOrCreate(ctx context.Context, id domain.RoomID) (*core.Room, error) {
	if room, ok := m.Get(id); ok {
		return room, nil
	}
	v, err, _ := m.creating.Do(string(id), func() (any, error) {
		if room, ok := m.Get(id); ok {
			return room, nil
		}
		// Detached from the first caller: its disconnect must not fail the
		// creation for everyone waiting on it.
		rc, err := m.factory.CreateRoutingContext(context.WithoutCancel(ctx), id)
		if err != nil {
			metrics.RoomCreateFailures.Inc()
			log.Error().Err(err).Str("module", "app.rooms").Str("room", string(id)).Msg("routing context creation failed")
			return nil, fmt.Errorf("%w: %v", domain.ErrRoomCreationFailed, err)
		}
		room := core.NewRoom(id, rc)
		m.mu.Lock()
		m.rooms[id] = room
		m.mu.Unlock()
		metrics.RoomsActive.Inc()
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Room), nil
}

func (m *RoomManager) Get(id domain.RoomID) (*core.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	return room, ok
}

func (m *RoomManager) List() []core.RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.Info())
	}
	return out
}

// Collect removes room if it has no peers left and closes its routing
// context. It reports whether the room was removed.
func (m *RoomManager) Collect(room *core.Room) bool {
	m.mu.Lock()
	if m.rooms[room.ID()] != room || !room.CloseIfEmpty() {
		m.mu.Unlock()
		return false
	}
	delete(m.rooms, room.ID())
	m.mu.Unlock()

	metrics.RoomsActive.Dec()
	if err := room.RoutingContext().Close(); err != nil {
		log.Warn().Err(err).Str("module", "app.rooms").Str("room", string(room.ID())).Msg("routing context close failed")
	}
	log.Info().Str("module", "app.rooms").Str("room", string(room.ID())).Msg("room removed")
	return true
}
