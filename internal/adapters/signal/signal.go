// Package signal is the websocket adapter for the signaling protocol. One
// connection is one peer: joining happens on upgrade, requests are answered
// by id, notifications are queued without blocking.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const writeWait = 5 * time.Second

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	// Limiter caps requests per connection; nil disables limiting.
	Limiter *RateLimiter
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	opts Options
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	return &SignalWSController{Orch: o, opts: opts}
}

// WsSignalConn is the core.SignalConnection of one websocket. Frames are
// encoded on the caller's goroutine and written by the write pump.
type WsSignalConn struct {
	conn  *websocket.Conn
	codec protocol.Codec
	send  chan []byte

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, codec protocol.Codec, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn:  ws,
		codec: codec,
		send:  make(chan []byte, buffer),
	}
}

func (c *WsSignalConn) TrySend(n core.Notification) error {
	return c.enqueue(n)
}

func (c *WsSignalConn) enqueue(v any) error {
	frame, err := c.codec.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- frame:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and joins the peer to the room named by
// the query. The participant id falls back to the client token.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	roomID, err := domain.ParseRoomID(c.Query("room"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rawParticipant := c.Query("participant")
	if rawParticipant == "" {
		rawParticipant = c.GetString("client_token")
	}
	participant, err := domain.NewParticipant(rawParticipant)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	codec, err := protocol.CodecByName(c.Query("codec"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	sid := core.SessionID(uuid.NewString())
	log.Info().
		Str("module", "signal").
		Str("sid", string(sid)).
		Str("room", string(roomID)).
		Str("participant", string(participant.ID)).
		Str("codec", codec.Name()).
		Msg("new WS connection")

	conn := newWsSignalConn(ws, codec, ctl.opts.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, participant.ID, cancel)

	caps, err := ctl.Orch.Join(ctx, sid, roomID, participant, conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join failed")
		ctl.rejectJoin(conn, err)
		cancel()
		ctl.Orch.OnDisconnect(sid)
		return
	}

	first, err := codec.Marshal(core.Notification{Type: core.NotifyRoutingCapabilities, Data: caps})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("encode capabilities")
		conn.Close()
		cancel()
		ctl.Orch.OnDisconnect(sid)
		return
	}

	go ctl.writePump(ctx, conn, first)
	go ctl.readPump(ctx, cancel, sid, conn)
}

// rejectJoin writes the failure directly; no pump is running yet.
func (ctl *SignalWSController) rejectJoin(conn *WsSignalConn, err error) {
	frame, mErr := conn.codec.Marshal(core.Notification{
		Type: protocol.JoinFailed,
		Data: protocol.JoinFailedData{Error: domain.Reason(err)},
	})
	if mErr == nil {
		_ = conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.conn.WriteMessage(conn.codec.MessageType(), frame)
	}
	conn.Close()
}
