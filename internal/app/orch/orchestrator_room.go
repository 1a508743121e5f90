package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Join puts sid into roomID, creating the room on demand, and returns the
// routing capabilities together with the producers already in the room.
func (o *Orchestrator) Join(
	ctx context.Context,
	sid core.SessionID,
	roomID domain.RoomID,
	participant *domain.Participant,
	signal core.SignalConnection,
) (core.RoutingCapabilitiesData, error) {
	peer := core.NewPeerSession(sid, participant, signal)
	for {
		room, err := o.Rooms.GetOrCreate(ctx, roomID)
		if err != nil {
			return core.RoutingCapabilitiesData{}, err
		}
		snapshot, err := room.Join(peer)
		if errors.Is(err, core.ErrRoomClosed) {
			// Lost a race with the last peer leaving; the next lookup
			// creates a fresh room.
			continue
		}
		if err != nil {
			return core.RoutingCapabilitiesData{}, err
		}
		o.Registry.UpdateRoom(sid, roomID)
		metrics.PeersActive.Inc()
		log.Info().
			Str("module", "orch").
			Str("sid", string(sid)).
			Str("room", string(roomID)).
			Str("participant", string(participant.ID)).
			Msg("joined")
		return core.RoutingCapabilitiesData{
			Capabilities: room.RoutingContext().Capabilities(),
			Producers:    snapshot,
		}, nil
	}
}

// OnDisconnect tears down everything sid owned: producers (with the remote
// consumers fed by them), its own consumers, its transports, then the peer
// itself and the room when it was the last one. Every step runs even if an
// engine close fails.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	roomID, ok := o.Registry.RoomOf(sid)
	o.Registry.Unbind(sid)
	if !ok {
		return
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}

	td, ok := room.RemovePeer(sid)
	if ok {
		metrics.PeersActive.Dec()
		for _, cp := range td.Producers {
			o.closeDetached(room, cp)
		}
		for _, c := range td.Consumers {
			metrics.ConsumersActive.Dec()
			closeLogged("consumer", string(c.ID()), c.Media().Close)
		}
		for _, t := range td.Transports {
			metrics.TransportsActive.WithLabelValues(string(t.Kind())).Dec()
			closeLogged("transport", string(t.ID()), t.Media().Close)
		}
		log.Info().
			Str("module", "orch").
			Str("sid", string(sid)).
			Str("room", string(roomID)).
			Int("producers", len(td.Producers)).
			Int("consumers", len(td.Consumers)).
			Int("transports", len(td.Transports)).
			Msg("peer cleaned up")
	}
	o.Rooms.Collect(room)
}

// EvictRoom drops every connection in the room. Cleanup runs through the
// regular disconnect path of each connection.
func (o *Orchestrator) EvictRoom(roomID domain.RoomID) int {
	n := 0
	for _, sid := range o.Registry.MembersOfRoom(roomID) {
		if o.Registry.Cancel(sid) {
			n++
		}
	}
	log.Info().Str("module", "orch").Str("room", string(roomID)).Int("evicted", n).Msg("room evicted")
	return n
}
