package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// writePump is the only writer of the websocket. first goes out before any
// queued frame.
func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn, first []byte) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	if err := ctl.write(c, c.codec.MessageType(), first); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("writePump first frame")
		return
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := ctl.write(c, c.codec.MessageType(), data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := ctl.write(c, websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) write(c *WsSignalConn, messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// readPump owns the connection lifetime: when it returns the peer is
// disconnected and cleaned up.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		if ctl.opts.Limiter != nil {
			ctl.opts.Limiter.Forget(sid)
		}
		ctl.Orch.OnDisconnect(sid)
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleFrame(ctx, sid, c, data)
	}
}

func (ctl *SignalWSController) handleFrame(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	frame, err := c.codec.Unmarshal(data)
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad frame")
		ctl.respond(sid, c, "", protocol.Fail(0, domain.ErrBadPayload.Error()))
		return
	}
	if ctl.opts.Limiter != nil && !ctl.opts.Limiter.Allow(sid) {
		ctl.respond(sid, c, frame.Type, protocol.Fail(frame.ID, domain.ErrRateLimited.Error()))
		return
	}
	h, ok := handlers[frame.Type]
	if !ok {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("type", frame.Type).Msg("unknown signal")
		ctl.respond(sid, c, "", protocol.Fail(frame.ID, domain.ErrUnknownMessage.Error()))
		return
	}

	// Requests run concurrently; disconnect cancels ctx and with it any
	// engine call still in flight.
	go func() {
		result, err := h(ctx, ctl.Orch, sid, frame)
		if err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", frame.Type).Msg("request rejected")
			ctl.respond(sid, c, frame.Type, protocol.Fail(frame.ID, domain.Reason(err)))
			return
		}
		ctl.respond(sid, c, frame.Type, protocol.OK(frame.ID, result))
	}()
}

func (ctl *SignalWSController) respond(sid core.SessionID, c *WsSignalConn, typ string, resp protocol.Response) {
	result := "ok"
	if !resp.OK {
		result = resp.Error
	}
	if typ == "" {
		typ = "unknown"
	}
	metrics.Requests.WithLabelValues(typ, result).Inc()

	// A peer that misses a response cannot recover; drop it.
	if err := c.enqueue(resp); err != nil && !errors.Is(err, ErrConnClosed) {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("response dropped")
		ctl.Orch.Registry.Cancel(sid)
	}
}
