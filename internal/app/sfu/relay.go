package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketSource is the producer's inbound track.
type PacketSource interface {
	ReadRTP() (*rtp.Packet, error)
}

// Relay fans one producer's packets out to its consumers' OutTracks.
type Relay struct {
	producer domain.ProducerID

	mu        sync.RWMutex
	src       PacketSource
	outTracks map[domain.ConsumerID]*OutTrack
	onEnded   func()

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRelay(ctx context.Context, producer domain.ProducerID) *Relay {
	ctx, cancel := context.WithCancel(ctx)
	return &Relay{
		producer:  producer,
		outTracks: make(map[domain.ConsumerID]*OutTrack),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnEnded sets the callback fired when the source stops delivering packets
// for a reason other than the relay being stopped.
func (r *Relay) OnEnded(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEnded = fn
}

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, src PacketSource, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, err := src.ReadRTP()
		if err != nil {
			if ctx.Err() != nil {
				r.markAllDelete()
				return
			}
			logger.Info().Err(err).Msg("relay source ended")
			r.markAllDelete()
			r.mu.RLock()
			fn := r.onEnded
			r.mu.RUnlock()
			if fn != nil {
				fn()
			}
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	dirty := make([]domain.ConsumerID, 0, len(snapshot))
	for cid, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, cid)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("consumer", string(cid)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, cid)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cid := range dirty {
		if ot, ok := r.outTracks[cid]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, cid)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(cid domain.ConsumerID, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[cid] = ot
}

func (r *Relay) outTrack(cid domain.ConsumerID) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[cid]
	return ot, ok
}
