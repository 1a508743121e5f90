package core

import (
	"context"
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/looplab/fsm"
)

const (
	eventConnect = "connect"
	eventClose   = "close"
)

// Transport tracks the negotiation state of one engine transport.
// Created -> Connected -> Closed, or Created -> Closed. Closed is final.
type Transport struct {
	media MediaTransport
	kind  domain.TransportKind
	sm    *fsm.FSM

	// connecting is set while Connect is in flight with the engine;
	// guarded by the owning room's lock.
	connecting bool
}

func NewTransport(kind domain.TransportKind, media MediaTransport) *Transport {
	return &Transport{
		media: media,
		kind:  kind,
		sm: fsm.NewFSM(
			string(domain.TransportCreated),
			fsm.Events{
				{Name: eventConnect, Src: []string{string(domain.TransportCreated)}, Dst: string(domain.TransportConnected)},
				{Name: eventClose, Src: []string{string(domain.TransportCreated), string(domain.TransportConnected)}, Dst: string(domain.TransportClosed)},
			},
			fsm.Callbacks{},
		),
	}
}

func (t *Transport) ID() domain.TransportID     { return t.media.ID() }
func (t *Transport) Kind() domain.TransportKind { return t.kind }
func (t *Transport) Media() MediaTransport      { return t.media }

func (t *Transport) State() domain.TransportState {
	return domain.TransportState(t.sm.Current())
}

func (t *Transport) Connected() bool { return t.State() == domain.TransportConnected }

func (t *Transport) markConnected() error {
	if err := t.sm.Event(context.Background(), eventConnect); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidTransportState, t.sm.Current())
	}
	return nil
}

// markClosed reports whether this call performed the transition.
func (t *Transport) markClosed() bool {
	return t.sm.Event(context.Background(), eventClose) == nil
}
