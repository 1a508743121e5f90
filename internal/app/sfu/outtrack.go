package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// PacketWriter is the local track a subscriber receives on.
type PacketWriter interface {
	WriteRTP(*rtp.Packet) error
}

// OutTrack represents a single outgoing track to a subscriber.
// A consumer's OutTrack starts muted and is unmuted by resume.
type OutTrack struct {
	Track PacketWriter
	state atomic.Int32
}

func NewOutTrack(track PacketWriter) *OutTrack {
	ot := &OutTrack{Track: track}
	ot.MarkMuted()
	return ot
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
