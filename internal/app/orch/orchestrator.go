// Package orch drives the signaling protocol against rooms and the media
// engine: transport negotiation, producers, consumers and disconnect cleanup.
package orch

import (
	"fmt"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Policy   app.Policy
}

type (
	TransportInfo  = protocol.TransportInfo
	ProducerResult = protocol.ProducerResult
	ConsumerInfo   = protocol.ConsumerInfo
)

func (o *Orchestrator) roomOf(sid core.SessionID) (*core.Room, error) {
	roomID, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil, domain.ErrNotJoined
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil, domain.ErrNotJoined
	}
	return room, nil
}

// notify never blocks; a peer that cannot keep up is handed to the policy.
func (o *Orchestrator) notify(room *core.Room, peer *core.PeerSession, n core.Notification) {
	if err := peer.Signal().TrySend(n); err != nil {
		metrics.NotificationsDropped.Inc()
		log.Warn().Err(err).
			Str("module", "orch").
			Str("room", string(room.ID())).
			Str("sid", string(peer.SID())).
			Str("type", n.Type).
			Msg("notification dropped")
		if o.Policy != nil && o.Policy.OnBackPressure(room.ID(), peer.SID()) == app.KickMember {
			o.Registry.Cancel(peer.SID())
		}
	}
}

// closeLogged runs an engine close during cleanup. Failures and panics are
// logged and swallowed so the remaining steps still run.
func closeLogged(object, id string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.CleanupFailures.WithLabelValues(object).Inc()
			log.Error().Str("module", "orch").Str("object", object).Str("id", id).Interface("panic", rec).Msg("close panicked")
		}
	}()
	if err := fn(); err != nil {
		metrics.CleanupFailures.WithLabelValues(object).Inc()
		log.Warn().Err(err).Str("module", "orch").Str("object", object).Str("id", id).Msg("close failed")
	}
}

func wrapEngine(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
