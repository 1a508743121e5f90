package client

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/adapters/memengine"
	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	mu        sync.Mutex
	loaded    core.Params
	connected []domain.TransportKind
	consumers map[string]protocol.ConsumerInfo
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{consumers: make(map[string]protocol.ConsumerInfo)}
}

func (d *fakeDevice) Load(caps core.Params) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded = caps
	return nil
}

func (d *fakeDevice) RecvCapabilities() core.Params { return core.Params(`{"codecs":[]}`) }

func (d *fakeDevice) ConnectTransport(kind domain.TransportKind, _ protocol.TransportInfo) (core.Params, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = append(d.connected, kind)
	return core.Params(`{"dtlsParameters":{"role":"client"}}`), nil
}

func (d *fakeDevice) TrackParams(kind domain.MediaKind) (core.Params, error) {
	return core.Params(`{"kind":"` + string(kind) + `"}`), nil
}

func (d *fakeDevice) AddConsumer(info protocol.ConsumerInfo) (core.Params, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumers[info.ConsumerID] = info
	return core.Params(`{"type":"answer"}`), nil
}

func (d *fakeDevice) RemoveConsumer(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.consumers, id)
}

func (d *fakeDevice) consumerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.consumers)
}

type testServer struct {
	url    string
	engine *memengine.Factory
	orch   *orch.Orchestrator
}

func newTestServer(t *testing.T) *testServer {
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
	ctrl := signal.NewSignalWSController(o, signal.Options{})
	r := gin.New()
	r.GET("/api/ws/signal", func(c *gin.Context) { ctrl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL, engine: engine, orch: o}
}

type peer struct {
	coord  *Coordinator
	dev    *fakeDevice
	ch     *WSChannel
	cancel context.CancelFunc
	done   chan error
}

func (s *testServer) start(t *testing.T, participant string, codec protocol.Codec, publish ...domain.MediaKind) *peer {
	t.Helper()
	u, err := SignalURL(s.url, "room-1", participant, codec)
	require.NoError(t, err)
	ch, err := Dial(context.Background(), u, codec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		dev:    newFakeDevice(),
		ch:     ch,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	p.coord = New(ch, p.dev, Options{Participant: participant, Publish: publish})
	go func() { p.done <- p.coord.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = ch.Close()
	})
	return p
}

func TestCoordinator_PublishAndConsume(t *testing.T) {
	s := newTestServer(t)
	bob := s.start(t, "bob", protocol.JSON)
	alice := s.start(t, "alice", protocol.JSON, domain.KindAudio, domain.KindVideo)

	require.Eventually(t, func() bool { return bob.dev.consumerCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(bob.coord.Consumers()) == 2 }, 2*time.Second, 10*time.Millisecond)
	for _, cid := range bob.coord.Consumers() {
		require.Eventually(t, func() bool {
			paused, ok := s.engine.ConsumerPaused(domain.ConsumerID(cid))
			return ok && !paused
		}, 2*time.Second, 10*time.Millisecond, "consumer resumed")
	}
	assert.Zero(t, alice.dev.consumerCount(), "own producers are never consumed")
	assert.NotEmpty(t, alice.dev.loaded)

	// A late joiner discovers both producers from the join snapshot.
	carol := s.start(t, "carol", protocol.Msgpack)
	require.Eventually(t, func() bool { return len(carol.coord.Consumers()) == 2 }, 2*time.Second, 10*time.Millisecond)

	// Publisher leaves: subscribers drop their consumers.
	alice.cancel()
	require.NoError(t, alice.ch.Close())
	require.Eventually(t, func() bool {
		return bob.dev.consumerCount() == 0 && carol.dev.consumerCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCoordinator_ServerDropEndsRun(t *testing.T) {
	s := newTestServer(t)
	bob := s.start(t, "bob", protocol.JSON)
	require.Eventually(t, func() bool {
		bob.dev.mu.Lock()
		defer bob.dev.mu.Unlock()
		return len(bob.dev.connected) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, s.orch.EvictRoom("room-1"))
	select {
	case err := <-bob.done:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after eviction")
	}
}

func TestSignalURL(t *testing.T) {
	u, err := SignalURL("https://sfu.example.com/", "r 1", "p", protocol.Msgpack)
	require.NoError(t, err)
	assert.Equal(t, "wss://sfu.example.com/api/ws/signal?codec=msgpack&participant=p&room=r+1", u)

	u, err = SignalURL("http://localhost:8080", "r", "", protocol.JSON)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/api/ws/signal?room=r", u)

	_, err = SignalURL("ftp://x", "r", "", protocol.JSON)
	assert.Error(t, err)
}

func TestRequestError(t *testing.T) {
	s := newTestServer(t)
	u, err := SignalURL(s.url, "room-2", "dave", protocol.JSON)
	require.NoError(t, err)
	ch, err := Dial(context.Background(), u, protocol.JSON)
	require.NoError(t, err)
	defer ch.Close()

	<-ch.Notifications()
	err = ch.Call(context.Background(), protocol.Produce, protocol.ProduceRequest{Kind: "audio"}, nil)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "TransportNotReady", reqErr.Reason)
}
