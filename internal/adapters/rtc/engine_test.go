package rtc

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offline() Config {
	return Config{GatherTimeout: 2 * time.Second}
}

func newRouter(t *testing.T) *Router {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rc, err := NewEngine(ctx, offline()).CreateRoutingContext(ctx, "r1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc.(*Router)
}

func TestRouter_Capabilities(t *testing.T) {
	r := newRouter(t)
	var caps capabilities
	require.NoError(t, json.Unmarshal(r.Capabilities(), &caps))
	require.Len(t, caps.Codecs, 2)
	assert.Equal(t, "audio", caps.Codecs[0].Kind)
	assert.Equal(t, webrtc.MimeTypeOpus, caps.Codecs[0].MimeType)
	assert.Equal(t, "video", caps.Codecs[1].Kind)
}

func TestTransport_SendOfferAndConnect(t *testing.T) {
	r := newRouter(t)
	mt, err := r.CreateTransport(context.Background(), domain.TransportSend)
	require.NoError(t, err)
	defer mt.Close()

	var offer webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(mt.ConnectParams(), &offer))
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")

	assert.ErrorIs(t, mt.Connect(context.Background(), []byte(`{"x":1}`)), ErrBadHandshake)

	dev, err := NewDevice(offline())
	require.NoError(t, err)
	defer dev.Close()
	answer, err := dev.ConnectTransport(domain.TransportSend, protocol.TransportInfo{ConnectParams: mt.ConnectParams()})
	require.NoError(t, err)
	require.NoError(t, mt.Connect(context.Background(), answer))

	_, err = mt.Consume(context.Background(), "p", nil)
	assert.Error(t, err, "send transports do not consume")
}

func TestTransport_ConsumeRenegotiates(t *testing.T) {
	r := newRouter(t)
	ctx := context.Background()

	send, err := r.CreateTransport(ctx, domain.TransportSend)
	require.NoError(t, err)
	recv, err := r.CreateTransport(ctx, domain.TransportReceive)
	require.NoError(t, err)

	dev, err := NewDevice(offline())
	require.NoError(t, err)
	defer dev.Close()
	require.NoError(t, dev.Load(r.Capabilities()))

	answer, err := dev.ConnectTransport(domain.TransportReceive, protocol.TransportInfo{ConnectParams: recv.ConnectParams()})
	require.NoError(t, err)
	require.NoError(t, recv.Connect(ctx, answer))

	_, err = recv.Consume(ctx, "missing", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownProducer)

	_, err = recv.Produce(ctx, domain.KindAudio, nil)
	assert.Error(t, err, "receive transports do not produce")

	prod, err := send.Produce(ctx, domain.KindVideo, nil)
	require.NoError(t, err)
	assert.True(t, r.relays.HasRelay(prod.ID()))

	mc, err := recv.Consume(ctx, prod.ID(), dev.RecvCapabilities())
	require.NoError(t, err)
	assert.Equal(t, prod.ID(), mc.ProducerID())
	assert.Equal(t, domain.KindVideo, mc.Kind())

	var params consumerParams
	require.NoError(t, json.Unmarshal(mc.TrackParams(), &params))
	assert.Equal(t, string(mc.ID()), params.TrackID)
	assert.Equal(t, webrtc.SDPTypeOffer, params.Type)
	assert.True(t, strings.Count(params.SDP, "m=video") >= 1)

	handshake, err := dev.AddConsumer(protocol.ConsumerInfo{
		ConsumerID:  string(mc.ID()),
		TrackParams: mc.TrackParams(),
	})
	require.NoError(t, err)
	require.NoError(t, recv.(*Transport).Renegotiate(ctx, handshake))
	require.NoError(t, mc.Resume(ctx))

	ended := make(chan struct{})
	prod.OnTrackEnded(func() { close(ended) })
	require.NoError(t, mc.Close())
	require.NoError(t, prod.Close())
	assert.False(t, r.relays.HasRelay(prod.ID()))

	require.NoError(t, recv.Close())
	require.NoError(t, send.Close())
	select {
	case <-ended:
		t.Fatal("closing a producer is not a track end")
	default:
	}
}

func TestRouter_CloseRejectsTransports(t *testing.T) {
	r := newRouter(t)
	require.NoError(t, r.Close())
	_, err := r.CreateTransport(context.Background(), domain.TransportSend)
	assert.ErrorIs(t, err, ErrClosed)
}
