// Package client drives a peer through the signaling protocol: it loads the
// routing capabilities, negotiates both transports, publishes local media
// and consumes every remote producer it learns about.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrJoinFailed = errors.New("join failed")

// Device is the client-side media engine.
type Device interface {
	Load(capabilities core.Params) error
	RecvCapabilities() core.Params
	// ConnectTransport answers the server's connect params with the
	// handshake for connectSendTransport / connectReceiveTransport.
	ConnectTransport(kind domain.TransportKind, info protocol.TransportInfo) (core.Params, error)
	// TrackParams describes a local track before it is produced.
	TrackParams(kind domain.MediaKind) (core.Params, error)
	// AddConsumer applies a new consumer. A non-nil handshake is sent back
	// with renegotiateReceiveTransport before the consumer is resumed.
	AddConsumer(info protocol.ConsumerInfo) (core.Params, error)
	RemoveConsumer(consumerID string)
}

type Options struct {
	Participant string
	// Publish lists the local kinds produced after the send transport connects.
	Publish []domain.MediaKind
	// OnConsumer fires after a consumer is resumed.
	OnConsumer func(protocol.ConsumerInfo)
	// OnConsumerClosed fires when a consumer goes away on the server.
	OnConsumerClosed func(consumerID string)
}

type Coordinator struct {
	ch   Channel
	dev  Device
	opts Options
	log  zerolog.Logger

	mu        sync.Mutex
	producers map[string]struct{}
	// remote producer id -> consumer id
	consumers map[string]string
}

func New(ch Channel, dev Device, opts Options) *Coordinator {
	return &Coordinator{
		ch:        ch,
		dev:       dev,
		opts:      opts,
		log:       log.With().Str("module", "client").Str("participant", opts.Participant).Logger(),
		producers: make(map[string]struct{}),
		consumers: make(map[string]string),
	}
}

// Run joins, negotiates and then follows notifications until ctx ends or
// the server drops the channel.
func (c *Coordinator) Run(ctx context.Context) error {
	caps, err := c.awaitCapabilities(ctx)
	if err != nil {
		return err
	}
	if err := c.dev.Load(caps.Capabilities); err != nil {
		return fmt.Errorf("load device: %w", err)
	}

	if len(c.opts.Publish) > 0 {
		if err := c.connect(ctx, domain.TransportSend); err != nil {
			return err
		}
		for _, kind := range c.opts.Publish {
			if _, err := c.Produce(ctx, kind); err != nil {
				return err
			}
		}
	}
	if err := c.connect(ctx, domain.TransportReceive); err != nil {
		return err
	}

	for _, p := range caps.Producers {
		c.consume(ctx, p)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-c.ch.Notifications():
			if !ok {
				return ErrChannelClosed
			}
			c.handle(ctx, f)
		}
	}
}

func (c *Coordinator) awaitCapabilities(ctx context.Context) (core.RoutingCapabilitiesData, error) {
	var caps core.RoutingCapabilitiesData
	select {
	case <-ctx.Done():
		return caps, ctx.Err()
	case f, ok := <-c.ch.Notifications():
		if !ok {
			return caps, ErrChannelClosed
		}
		switch f.Type {
		case core.NotifyRoutingCapabilities:
			if err := f.Decode(&caps); err != nil {
				return caps, err
			}
			c.log.Info().Int("producers", len(caps.Producers)).Msg("joined")
			return caps, nil
		case protocol.JoinFailed:
			var d protocol.JoinFailedData
			_ = f.Decode(&d)
			return caps, fmt.Errorf("%w: %s", ErrJoinFailed, d.Error)
		default:
			return caps, fmt.Errorf("unexpected first frame %q", f.Type)
		}
	}
}

func (c *Coordinator) connect(ctx context.Context, kind domain.TransportKind) error {
	createType, connectType := protocol.CreateSendTransport, protocol.ConnectSendTransport
	if kind == domain.TransportReceive {
		createType, connectType = protocol.CreateReceiveTransport, protocol.ConnectReceiveTransport
	}
	var info protocol.TransportInfo
	if err := c.ch.Call(ctx, createType, nil, &info); err != nil {
		return err
	}
	handshake, err := c.dev.ConnectTransport(kind, info)
	if err != nil {
		return fmt.Errorf("device %s transport: %w", kind, err)
	}
	if err := c.ch.Call(ctx, connectType, protocol.Handshake{HandshakeParams: handshake}, nil); err != nil {
		return err
	}
	c.log.Debug().Str("transport", info.TransportID).Str("kind", string(kind)).Msg("transport connected")
	return nil
}

// Produce publishes one local track of kind. The send transport must be
// connected.
func (c *Coordinator) Produce(ctx context.Context, kind domain.MediaKind) (string, error) {
	params, err := c.dev.TrackParams(kind)
	if err != nil {
		return "", err
	}
	var res protocol.ProducerResult
	if err := c.ch.Call(ctx, protocol.Produce, protocol.ProduceRequest{Kind: string(kind), TrackParams: params}, &res); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.producers[res.ProducerID] = struct{}{}
	c.mu.Unlock()
	c.log.Info().Str("producer", res.ProducerID).Str("kind", string(kind)).Msg("producing")
	return res.ProducerID, nil
}

func (c *Coordinator) handle(ctx context.Context, f protocol.Frame) {
	switch f.Type {
	case core.NotifyNewProducer:
		var p core.ProducerInfo
		if err := f.Decode(&p); err != nil {
			c.log.Warn().Err(err).Msg("bad newProducer")
			return
		}
		c.consume(ctx, p)
	case core.NotifyConsumerClosed:
		var d core.ConsumerClosedData
		if err := f.Decode(&d); err != nil {
			c.log.Warn().Err(err).Msg("bad consumerClosed")
			return
		}
		c.dropConsumer(d.ProducerID)
	case core.NotifyProducerClosed:
		var d core.ProducerClosedData
		if err := f.Decode(&d); err != nil {
			c.log.Warn().Err(err).Msg("bad producerClosed")
			return
		}
		c.dropConsumer(d.ProducerID)
	default:
		c.log.Debug().Str("type", f.Type).Msg("ignored notification")
	}
}

// consume subscribes to a remote producer once. Failures are logged; the
// producer may have closed in the meantime.
func (c *Coordinator) consume(ctx context.Context, p core.ProducerInfo) {
	c.mu.Lock()
	_, own := c.producers[p.ProducerID]
	_, seen := c.consumers[p.ProducerID]
	if own || seen {
		c.mu.Unlock()
		return
	}
	c.consumers[p.ProducerID] = ""
	c.mu.Unlock()

	info, err := c.subscribe(ctx, p)
	if err != nil {
		c.mu.Lock()
		delete(c.consumers, p.ProducerID)
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("producer", p.ProducerID).Msg("consume failed")
		return
	}
	c.mu.Lock()
	c.consumers[p.ProducerID] = info.ConsumerID
	c.mu.Unlock()
	c.log.Info().
		Str("producer", p.ProducerID).
		Str("consumer", info.ConsumerID).
		Str("owner", p.OwnerParticipantID).
		Str("kind", info.Kind).
		Msg("consuming")
	if c.opts.OnConsumer != nil {
		c.opts.OnConsumer(info)
	}
}

func (c *Coordinator) subscribe(ctx context.Context, p core.ProducerInfo) (protocol.ConsumerInfo, error) {
	var info protocol.ConsumerInfo
	req := protocol.ConsumeRequest{ProducerID: p.ProducerID, ReceiverCapabilities: c.dev.RecvCapabilities()}
	if err := c.ch.Call(ctx, protocol.Consume, req, &info); err != nil {
		return info, err
	}
	handshake, err := c.dev.AddConsumer(info)
	if err != nil {
		return info, err
	}
	if handshake != nil {
		err := c.ch.Call(ctx, protocol.RenegotiateReceiveTransport, protocol.Handshake{HandshakeParams: handshake}, nil)
		if err != nil {
			return info, err
		}
	}
	return info, c.ch.Call(ctx, protocol.ResumeConsumer, protocol.ResumeConsumerRequest{ConsumerID: info.ConsumerID}, nil)
}

func (c *Coordinator) dropConsumer(producerID string) {
	c.mu.Lock()
	cid, ok := c.consumers[producerID]
	delete(c.consumers, producerID)
	c.mu.Unlock()
	if !ok || cid == "" {
		return
	}
	c.dev.RemoveConsumer(cid)
	c.log.Info().Str("producer", producerID).Str("consumer", cid).Msg("consumer closed")
	if c.opts.OnConsumerClosed != nil {
		c.opts.OnConsumerClosed(cid)
	}
}

// Consumers returns the consumer ids keyed by remote producer.
func (c *Coordinator) Consumers() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.consumers))
	for pid, cid := range c.consumers {
		if cid != "" {
			out[pid] = cid
		}
	}
	return out
}
