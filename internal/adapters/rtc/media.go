package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// trackSource adapts a remote track to the relay's packet source.
type trackSource struct {
	track *webrtc.TrackRemote
}

func (s trackSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.track.ReadRTP()
	return pkt, err
}

func newOutTrack(local *webrtc.TrackLocalStaticRTP) *sfu.OutTrack {
	return sfu.NewOutTrack(local)
}

type Producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	transport *Transport

	mu      sync.Mutex
	track   *webrtc.TrackRemote
	ended   bool
	onEnded func()
	closed  bool
}

func (p *Producer) ID() domain.ProducerID  { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) OnTrackEnded(fn func()) {
	p.mu.Lock()
	p.onEnded = fn
	ended := p.ended
	p.mu.Unlock()
	if ended && fn != nil {
		fn()
	}
}

func (p *Producer) bind(track *webrtc.TrackRemote) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.track = track
	p.mu.Unlock()
	if !p.transport.r.relays.StartRelay(p.id, trackSource{track: track}) {
		log.Warn().Str("module", "rtc").Str("producer", string(p.id)).Msg("relay not started")
	}
}

func (p *Producer) end() {
	p.mu.Lock()
	if p.ended || p.closed {
		p.mu.Unlock()
		return
	}
	p.ended = true
	fn := p.onEnded
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// RequestKeyFrame asks the sending peer for a fresh video key frame so a
// newly resumed consumer can start decoding.
func (p *Producer) RequestKeyFrame() {
	p.mu.Lock()
	track := p.track
	p.mu.Unlock()
	if track == nil || p.kind != domain.KindVideo {
		return
	}
	err := p.transport.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
	})
	if err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("producer", string(p.id)).Msg("PLI failed")
	}
}

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	t := p.transport
	t.mu.Lock()
	if t.producers[p.kind] == p {
		delete(t.producers, p.kind)
	}
	t.mu.Unlock()
	t.r.removeProducer(p.id)
	t.r.relays.StopRelay(p.id)
	return nil
}

type Consumer struct {
	id        domain.ConsumerID
	producer  *Producer
	transport *Transport
	sender    *webrtc.RTPSender
	out       *sfu.OutTrack
	params    core.Params

	closeOnce sync.Once
}

func (c *Consumer) ID() domain.ConsumerID         { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind        { return c.producer.kind }
func (c *Consumer) TrackParams() core.Params      { return c.params }

func (c *Consumer) Resume(context.Context) error {
	c.out.MarkOk()
	if c.out.GetState() != sfu.TrackStateOk {
		return ErrClosed
	}
	c.producer.RequestKeyFrame()
	return nil
}

func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.transport.r.relays.MarkSubscriberDelete(c.producer.id, c.id)
		c.out.MarkDelete()
		c.transport.negotiating.Lock()
		err = c.transport.pc.RemoveTrack(c.sender)
		c.transport.negotiating.Unlock()
	})
	return err
}
