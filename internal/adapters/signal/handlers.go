package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

type handlerFunc func(ctx context.Context, o *orch.Orchestrator, sid core.SessionID, f protocol.Frame) (any, error)

var handlers = map[string]handlerFunc{
	protocol.CreateSendTransport:         createTransport(domain.TransportSend),
	protocol.CreateReceiveTransport:      createTransport(domain.TransportReceive),
	protocol.ConnectSendTransport:        connectTransport(domain.TransportSend),
	protocol.ConnectReceiveTransport:     connectTransport(domain.TransportReceive),
	protocol.RenegotiateReceiveTransport: handleRenegotiate,
	protocol.Produce:                     handleProduce,
	protocol.CloseProducer:               handleCloseProducer,
	protocol.Consume:                     handleConsume,
	protocol.ResumeConsumer:              handleResumeConsumer,
	protocol.Ping:                        handlePing,
}

func decode(f protocol.Frame, v any) error {
	if err := f.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	return nil
}

func createTransport(kind domain.TransportKind) handlerFunc {
	return func(ctx context.Context, o *orch.Orchestrator, sid core.SessionID, _ protocol.Frame) (any, error) {
		return o.CreateTransport(ctx, sid, kind)
	}
}

func connectTransport(kind domain.TransportKind) handlerFunc {
	return func(ctx context.Context, o *orch.Orchestrator, sid core.SessionID, f protocol.Frame) (any, error) {
		var p protocol.Handshake
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		if len(p.HandshakeParams) == 0 {
			return nil, domain.ErrBadPayload
		}
		return nil, o.ConnectTransport(ctx, sid, kind, p.HandshakeParams)
	}
}

func handleRenegotiate(ctx context.Context, o *orch.Orchestrator, sid core.SessionID, f protocol.Frame) (any, error) {
	var p protocol.Handshake
	if err := decode(f, &p); err != nil {
		return nil, err
	}
	if len(p.HandshakeParams) == 0 {
		return nil, domain.ErrBadPayload
	}
	return nil, o.RenegotiateReceive(ctx, sid, p.HandshakeParams)
}

func handleProduce(ctx context.Context, o *orch.Orchestrator, sid core.SessionID, f protocol.Frame) (any, error) {
	var p protocol.ProduceRequest
	if err := decode(f, &p); err != nil {
		return nil, err
	}
	return o.Produce(ctx, sid, domain.MediaKind(p.Kind), p.TrackParams)
}

func handleCloseProducer(_ context.Context, o *orch.Orchestrator, sid core.SessionID, f protocol.Frame) (any, error) {
	var p protocol.CloseProducerRequest
	if err := decode(f, &p); err != nil {
		return nil, err
	}
	return nil, o.CloseProducer(sid, domain.ProducerID(p.ProducerID))
}

func handleConsume(ctx context.Context, o *orch.Orchestrator, sid core.SessionID, f protocol.Frame) (any, error) {
	var p protocol.ConsumeRequest
	if err := decode(f, &p); err != nil {
		return nil, err
	}
	return o.Consume(ctx, sid, domain.ProducerID(p.ProducerID), p.ReceiverCapabilities)
}

func handleResumeConsumer(ctx context.Context, o *orch.Orchestrator, sid core.SessionID, f protocol.Frame) (any, error) {
	var p protocol.ResumeConsumerRequest
	if err := decode(f, &p); err != nil {
		return nil, err
	}
	return nil, o.ResumeConsumer(ctx, sid, domain.ConsumerID(p.ConsumerID))
}

func handlePing(context.Context, *orch.Orchestrator, core.SessionID, protocol.Frame) (any, error) {
	return nil, nil
}
