package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/adapters/memengine"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	*httptest.Server
	engine *memengine.Factory
	orch   *orch.Orchestrator
}

func newServer(t *testing.T, opts Options) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	engine := memengine.New(memengine.Hooks{})
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(engine),
		Policy:   app.SimplePolicy{},
	}
	ctrl := NewSignalWSController(o, opts)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctrl.HandleSignal(ctx, c) })

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &server{Server: srv, engine: engine, orch: o}
}

type client struct {
	t      *testing.T
	ws     *websocket.Conn
	codec  protocol.Codec
	nextID uint64
	// notifications read while waiting for a response
	pending []protocol.Frame
}

func (s *server) dial(t *testing.T, query string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	codec := protocol.JSON
	if strings.Contains(query, "codec=msgpack") {
		codec = protocol.Msgpack
	}
	return &client{t: t, ws: ws, codec: codec}
}

func (c *client) read() protocol.Frame {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := c.ws.ReadMessage()
	require.NoError(c.t, err)
	require.Equal(c.t, c.codec.MessageType(), mt)
	f, err := c.codec.Unmarshal(data)
	require.NoError(c.t, err)
	return f
}

func (c *client) call(typ string, data any) protocol.Frame {
	c.t.Helper()
	c.nextID++
	id := c.nextID
	frame, err := c.codec.Marshal(protocol.Request{ID: id, Type: typ, Data: data})
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(c.codec.MessageType(), frame))
	for {
		f := c.read()
		if f.Type == protocol.TypeResponse && f.ID == id {
			return f
		}
		c.pending = append(c.pending, f)
	}
}

func (c *client) ok(typ string, data any, out any) {
	c.t.Helper()
	f := c.call(typ, data)
	require.True(c.t, f.OK, "%s failed: %s", typ, f.Error)
	if out != nil {
		require.NoError(c.t, f.Decode(out))
	}
}

func (c *client) notification(typ string) protocol.Frame {
	c.t.Helper()
	for i, f := range c.pending {
		if f.Type == typ {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return f
		}
	}
	for {
		f := c.read()
		if f.Type == typ {
			return f
		}
		c.pending = append(c.pending, f)
	}
}

func (c *client) capabilities() core.RoutingCapabilitiesData {
	c.t.Helper()
	f := c.read()
	require.Equal(c.t, core.NotifyRoutingCapabilities, f.Type, "routing capabilities come first")
	var caps core.RoutingCapabilitiesData
	require.NoError(c.t, f.Decode(&caps))
	return caps
}

var handshake = protocol.Handshake{HandshakeParams: []byte(`{"dtlsParameters":{"role":"client"}}`)}

func TestSignal_ProduceReachesOtherPeers(t *testing.T) {
	s := newServer(t, Options{})
	a := s.dial(t, "room=r1&participant=alice")
	b := s.dial(t, "room=r1&participant=bob")
	caps := a.capabilities()
	assert.NotEmpty(t, caps.Capabilities)
	assert.Empty(t, caps.Producers)
	b.capabilities()

	var info protocol.TransportInfo
	a.ok(protocol.CreateSendTransport, nil, &info)
	assert.NotEmpty(t, info.TransportID)
	assert.NotEmpty(t, info.ConnectParams)
	a.ok(protocol.ConnectSendTransport, handshake, nil)

	var res protocol.ProducerResult
	a.ok(protocol.Produce, protocol.ProduceRequest{Kind: "audio"}, &res)
	require.NotEmpty(t, res.ProducerID)

	var np core.ProducerInfo
	require.NoError(t, b.notification(core.NotifyNewProducer).Decode(&np))
	assert.Equal(t, res.ProducerID, np.ProducerID)
	assert.Equal(t, "alice", np.OwnerParticipantID)
	assert.Equal(t, "audio", np.Kind)

	// B consumes through its own receive transport.
	b.ok(protocol.CreateReceiveTransport, nil, nil)
	b.ok(protocol.ConnectReceiveTransport, handshake, nil)
	var ci protocol.ConsumerInfo
	b.ok(protocol.Consume, protocol.ConsumeRequest{ProducerID: res.ProducerID}, &ci)
	assert.Equal(t, res.ProducerID, ci.ProducerID)
	assert.Equal(t, "audio", ci.Kind)

	paused, ok := s.engine.ConsumerPaused(domain.ConsumerID(ci.ConsumerID))
	require.True(t, ok)
	assert.True(t, paused)
	b.ok(protocol.ResumeConsumer, protocol.ResumeConsumerRequest{ConsumerID: ci.ConsumerID}, nil)
	paused, _ = s.engine.ConsumerPaused(domain.ConsumerID(ci.ConsumerID))
	assert.False(t, paused)
}

func TestSignal_LateJoinerSeesProducers(t *testing.T) {
	s := newServer(t, Options{})
	a := s.dial(t, "room=r1&participant=alice")
	a.capabilities()
	a.ok(protocol.CreateSendTransport, nil, nil)
	a.ok(protocol.ConnectSendTransport, handshake, nil)
	var res protocol.ProducerResult
	a.ok(protocol.Produce, protocol.ProduceRequest{Kind: "video"}, &res)

	d := s.dial(t, "room=r1&participant=dave")
	caps := d.capabilities()
	require.Len(t, caps.Producers, 1)
	assert.Equal(t, res.ProducerID, caps.Producers[0].ProducerID)
	assert.Equal(t, "video", caps.Producers[0].Kind)
}

func TestSignal_RejectionsAreInline(t *testing.T) {
	s := newServer(t, Options{})
	a := s.dial(t, "room=r1&participant=alice")
	a.capabilities()

	f := a.call(protocol.Produce, protocol.ProduceRequest{Kind: "audio"})
	assert.False(t, f.OK)
	assert.Equal(t, "TransportNotReady", f.Error)

	a.ok(protocol.CreateSendTransport, nil, nil)
	f = a.call(protocol.CreateSendTransport, nil)
	assert.Equal(t, "DuplicateTransport", f.Error)

	f = a.call(protocol.ConnectSendTransport, nil)
	assert.Equal(t, "BadPayload", f.Error)

	f = a.call(protocol.ConnectReceiveTransport, handshake)
	assert.Equal(t, "UnknownTransport", f.Error)

	f = a.call("whoami", nil)
	assert.Equal(t, "UnknownMessage", f.Error)

	f = a.call(protocol.ResumeConsumer, protocol.ResumeConsumerRequest{ConsumerID: "nope"})
	assert.Equal(t, "UnknownConsumer", f.Error)

	// The connection survives every rejection.
	a.ok(protocol.Ping, nil, nil)
}

func TestSignal_Msgpack(t *testing.T) {
	s := newServer(t, Options{})
	a := s.dial(t, "room=r1&participant=alice&codec=msgpack")
	caps := a.capabilities()
	assert.JSONEq(t, string(s.engineCapabilities(t)), string(caps.Capabilities))

	var info protocol.TransportInfo
	a.ok(protocol.CreateSendTransport, nil, &info)
	assert.NotEmpty(t, info.TransportID)
	a.ok(protocol.ConnectSendTransport, handshake, nil)
	a.ok(protocol.Ping, nil, nil)
}

func TestSignal_DisconnectCleansUp(t *testing.T) {
	s := newServer(t, Options{})
	a := s.dial(t, "room=r1&participant=alice")
	a.capabilities()
	a.ok(protocol.CreateSendTransport, nil, nil)
	a.ok(protocol.ConnectSendTransport, handshake, nil)
	a.ok(protocol.Produce, protocol.ProduceRequest{Kind: "audio"}, nil)

	require.NoError(t, a.ws.Close())
	require.Eventually(t, func() bool {
		_, ok := s.orch.Rooms.Get("r1")
		return !ok && s.engine.Stats() == memengine.Stats{}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignal_RateLimited(t *testing.T) {
	s := newServer(t, Options{Limiter: NewRateLimiter(1, time.Hour)})
	a := s.dial(t, "room=r1&participant=alice")
	a.capabilities()

	a.ok(protocol.Ping, nil, nil)
	f := a.call(protocol.Ping, nil)
	assert.Equal(t, "RateLimited", f.Error)
}

func TestSignal_BadQuery(t *testing.T) {
	s := newServer(t, Options{})
	for _, q := range []string{
		"participant=alice",
		"room=r1&participant=" + strings.Repeat("x", 40),
		"room=r1&codec=xml",
	} {
		resp, err := http.Get(s.URL + "/ws?" + q)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func (s *server) engineCapabilities(t *testing.T) core.Params {
	rc, err := s.engine.CreateRoutingContext(context.Background(), "probe")
	require.NoError(t, err)
	defer rc.Close()
	return rc.Capabilities()
}
