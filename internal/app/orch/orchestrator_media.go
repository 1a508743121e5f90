package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Produce publishes a track over the peer's connected send transport and
// announces it to every other peer in the room.
func (o *Orchestrator) Produce(ctx context.Context, sid core.SessionID, kind domain.MediaKind, trackParams core.Params) (ProducerResult, error) {
	room, err := o.roomOf(sid)
	if err != nil {
		return ProducerResult{}, err
	}
	peer, t, err := room.ReserveProducer(sid, kind)
	if err != nil {
		return ProducerResult{}, err
	}

	mp, err := t.Media().Produce(ctx, kind, trackParams)
	if err != nil {
		if gone := room.ReleaseProducer(peer, kind); gone != nil {
			return ProducerResult{}, gone
		}
		return ProducerResult{}, wrapEngine("produce", err)
	}

	prod, others, err := room.CommitProducer(peer, kind, mp)
	if err != nil {
		closeLogged("producer", string(mp.ID()), mp.Close)
		return ProducerResult{}, err
	}
	metrics.ProducersActive.WithLabelValues(string(kind)).Inc()
	pid := prod.ID()
	mp.OnTrackEnded(func() { o.onTrackEnded(room, pid) })

	n := core.Notification{
		Type: core.NotifyNewProducer,
		Data: core.ProducerInfo{
			ProducerID:         string(pid),
			OwnerParticipantID: string(peer.Participant().ID),
			Kind:               string(kind),
		},
	}
	for _, other := range others {
		o.notify(room, other, n)
	}
	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("room", string(room.ID())).
		Str("kind", string(kind)).
		Str("producer", string(pid)).
		Int("notified", len(others)).
		Msg("producer created")
	return ProducerResult{ProducerID: string(pid)}, nil
}

// Consume subscribes the peer to a remote producer. The consumer starts
// paused and only forwards media after ResumeConsumer.
func (o *Orchestrator) Consume(ctx context.Context, sid core.SessionID, pid domain.ProducerID, receiverCaps core.Params) (ConsumerInfo, error) {
	room, err := o.roomOf(sid)
	if err != nil {
		return ConsumerInfo{}, err
	}
	peer, t, err := room.PrepareConsume(sid, pid)
	if err != nil {
		return ConsumerInfo{}, err
	}

	mc, err := t.Media().Consume(ctx, pid, receiverCaps)
	if err != nil {
		if aborted := room.AbortConsume(peer, pid); aborted != nil {
			return ConsumerInfo{}, aborted
		}
		if errors.Is(err, domain.ErrUnknownProducer) {
			return ConsumerInfo{}, err
		}
		return ConsumerInfo{}, wrapEngine("consume", err)
	}

	c, err := room.CommitConsumer(peer, mc)
	if err != nil {
		closeLogged("consumer", string(mc.ID()), mc.Close)
		return ConsumerInfo{}, err
	}
	metrics.ConsumersActive.Inc()
	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("producer", string(pid)).
		Str("consumer", string(c.ID())).
		Msg("consumer created")
	return ConsumerInfo{
		ConsumerID:  string(c.ID()),
		ProducerID:  string(pid),
		Kind:        string(mc.Kind()),
		TrackParams: mc.TrackParams(),
	}, nil
}

// ResumeConsumer moves a paused consumer to active; resuming an active one
// is a no-op.
func (o *Orchestrator) ResumeConsumer(ctx context.Context, sid core.SessionID, cid domain.ConsumerID) error {
	room, err := o.roomOf(sid)
	if err != nil {
		return err
	}
	c, paused, err := room.BeginResume(sid, cid)
	if err != nil || !paused {
		return err
	}
	if err := c.Media().Resume(ctx); err != nil {
		if closed := room.AbortResume(c); closed != nil {
			return closed
		}
		return wrapEngine("resume consumer", err)
	}
	return room.FinishResume(c)
}

// CloseProducer is an explicit close by the producer's owner.
func (o *Orchestrator) CloseProducer(sid core.SessionID, pid domain.ProducerID) error {
	room, err := o.roomOf(sid)
	if err != nil {
		return err
	}
	cp, err := room.DetachOwnProducer(sid, pid)
	if err != nil {
		return err
	}
	o.closeDetached(room, cp)
	return nil
}

// onTrackEnded handles end-of-stream reported by the engine.
func (o *Orchestrator) onTrackEnded(room *core.Room, pid domain.ProducerID) {
	cp, ok := room.DetachProducer(pid)
	if !ok {
		return
	}
	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("producer", string(pid)).Msg("track ended")
	o.closeDetached(room, cp)
}

// closeDetached closes a producer already removed from the room along with
// every consumer that referenced it, then tells the affected peers.
func (o *Orchestrator) closeDetached(room *core.Room, cp core.ClosedProducer) {
	prod := cp.Producer
	pid := string(prod.ID())
	metrics.ProducersActive.WithLabelValues(string(prod.Kind())).Dec()
	closeLogged("producer", pid, prod.Media().Close)

	subscribers := make(map[core.SessionID]bool, len(cp.Consumers))
	for _, c := range cp.Consumers {
		metrics.ConsumersActive.Dec()
		closeLogged("consumer", string(c.ID()), c.Media().Close)
		subscribers[c.Owner()] = true
	}
	for _, peer := range cp.Notify {
		for _, c := range cp.Consumers {
			if c.Owner() == peer.SID() {
				o.notify(room, peer, core.Notification{
					Type: core.NotifyConsumerClosed,
					Data: core.ConsumerClosedData{ConsumerID: string(c.ID()), ProducerID: pid},
				})
			}
		}
		if !subscribers[peer.SID()] {
			o.notify(room, peer, core.Notification{
				Type: core.NotifyProducerClosed,
				Data: core.ProducerClosedData{ProducerID: pid},
			})
		}
	}
}
