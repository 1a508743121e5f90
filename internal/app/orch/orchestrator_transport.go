package orch

import (
	"context"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

// CreateTransport is the first negotiation phase: the engine creates the
// transport and its connect params go back to the peer.
func (o *Orchestrator) CreateTransport(ctx context.Context, sid core.SessionID, kind domain.TransportKind) (TransportInfo, error) {
	room, err := o.roomOf(sid)
	if err != nil {
		return TransportInfo{}, err
	}
	peer, err := room.ReserveTransport(sid, kind)
	if err != nil {
		return TransportInfo{}, err
	}

	mt, err := room.RoutingContext().CreateTransport(ctx, kind)
	if err != nil {
		if gone := room.ReleaseTransport(peer, kind); gone != nil {
			return TransportInfo{}, gone
		}
		return TransportInfo{}, wrapEngine("create transport", err)
	}

	t, err := room.CommitTransport(peer, kind, mt)
	if err != nil {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("transport", string(mt.ID())).Msg("peer left during transport creation")
		closeLogged("transport", string(mt.ID()), mt.Close)
		return TransportInfo{}, err
	}
	metrics.TransportsActive.WithLabelValues(string(kind)).Inc()
	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("room", string(room.ID())).
		Str("kind", string(kind)).
		Str("transport", string(t.ID())).
		Msg("transport created")
	return TransportInfo{TransportID: string(t.ID()), ConnectParams: mt.ConnectParams()}, nil
}

// ConnectTransport is the second phase: the peer's handshake params are
// applied and the transport becomes Connected.
func (o *Orchestrator) ConnectTransport(ctx context.Context, sid core.SessionID, kind domain.TransportKind, handshake core.Params) error {
	room, err := o.roomOf(sid)
	if err != nil {
		return err
	}
	peer, t, err := room.BeginConnect(sid, kind)
	if err != nil {
		return err
	}

	engineErr := t.Media().Connect(ctx, handshake)
	if engineErr != nil {
		engineErr = wrapEngine("connect transport", engineErr)
	}
	if err := room.FinishConnect(peer, t, engineErr); err != nil {
		return err
	}
	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("kind", string(kind)).
		Str("transport", string(t.ID())).
		Msg("transport connected")
	return nil
}

// RenegotiateReceive forwards a follow-up handshake to engines whose receive
// transport renegotiates after consumers are added.
func (o *Orchestrator) RenegotiateReceive(ctx context.Context, sid core.SessionID, handshake core.Params) error {
	room, err := o.roomOf(sid)
	if err != nil {
		return err
	}
	_, t, err := room.ConnectedTransport(sid, domain.TransportReceive)
	if err != nil {
		return err
	}
	rn, ok := t.Media().(core.Renegotiator)
	if !ok {
		return domain.ErrUnsupported
	}
	if err := rn.Renegotiate(ctx, handshake); err != nil {
		return wrapEngine("renegotiate transport", err)
	}
	return nil
}
