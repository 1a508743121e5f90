package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrChannelClosed = errors.New("signal channel closed")

// RequestError is a rejection returned inline by the server.
type RequestError struct {
	Type   string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Type, e.Reason)
}

// Channel is the client end of the signaling protocol.
type Channel interface {
	// Call sends a request and decodes the response data into resp.
	Call(ctx context.Context, typ string, req, resp any) error
	// Notifications yields server-initiated frames in arrival order and is
	// closed when the channel goes down.
	Notifications() <-chan protocol.Frame
	Close() error
}

type WSChannel struct {
	ws    *websocket.Conn
	codec protocol.Codec

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan protocol.Frame

	// Notifications queue without bound so a burst never holds up the
	// responses read behind it.
	noteMu   sync.Mutex
	backlog  []protocol.Frame
	wake     chan struct{}
	readDone chan struct{}
	notes    chan protocol.Frame

	done     chan struct{}
	once     sync.Once
	stop     chan struct{}
	stopOnce sync.Once
}

// SignalURL builds the websocket URL of the signaling endpoint from an
// http(s) server address.
func SignalURL(server, room, participant string, codec protocol.Codec) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws/signal"
	q := url.Values{}
	q.Set("room", room)
	if participant != "" {
		q.Set("participant", participant)
	}
	if codec != protocol.JSON {
		q.Set("codec", codec.Name())
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func Dial(ctx context.Context, rawURL string, codec protocol.Codec) (*WSChannel, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	c := &WSChannel{
		ws:       ws,
		codec:    codec,
		pending:  make(map[uint64]chan protocol.Frame),
		wake:     make(chan struct{}, 1),
		readDone: make(chan struct{}),
		notes:    make(chan protocol.Frame),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	go c.readLoop()
	go c.deliverLoop()
	return c, nil
}

func (c *WSChannel) readLoop() {
	defer func() {
		close(c.readDone)
		_ = c.shutdown()
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Debug().Err(err).Str("module", "client").Msg("read loop stopped")
			}
			return
		}
		f, err := c.codec.Unmarshal(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}
		if f.Type == protocol.TypeResponse {
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
			continue
		}
		c.noteMu.Lock()
		c.backlog = append(c.backlog, f)
		c.noteMu.Unlock()
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

// deliverLoop hands queued notifications to Notifications in arrival order
// and closes it once the read side is gone and the queue is drained.
func (c *WSChannel) deliverLoop() {
	defer close(c.notes)
	for {
		c.noteMu.Lock()
		batch := c.backlog
		c.backlog = nil
		c.noteMu.Unlock()

		if len(batch) == 0 {
			select {
			case <-c.wake:
				continue
			case <-c.readDone:
				c.noteMu.Lock()
				left := len(c.backlog)
				c.noteMu.Unlock()
				if left == 0 {
					return
				}
				continue
			}
		}
		for _, f := range batch {
			select {
			case c.notes <- f:
			case <-c.stop:
				return
			}
		}
	}
}

func (c *WSChannel) Call(ctx context.Context, typ string, req, resp any) error {
	id := c.nextID.Add(1)
	ch := make(chan protocol.Frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame, err := c.codec.Marshal(protocol.Request{ID: id, Type: typ, Data: req})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err = c.ws.WriteMessage(c.codec.MessageType(), frame)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %w", typ, err)
	}

	select {
	case f := <-ch:
		if !f.OK {
			return &RequestError{Type: typ, Reason: f.Error}
		}
		if resp == nil {
			return nil
		}
		return f.Decode(resp)
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WSChannel) Notifications() <-chan protocol.Frame { return c.notes }

// Close tears the connection down and discards notifications not yet
// received. A connection dropped by the server keeps them readable.
func (c *WSChannel) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return c.shutdown()
}

func (c *WSChannel) shutdown() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
