package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// burstServer answers every request after pushing n notifications ahead of
// the response, then hangs up once the response is written.
func burstServer(t *testing.T, n int) *httptest.Server {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		req, err := protocol.JSON.Unmarshal(data)
		if err != nil {
			return
		}
		for i := range n {
			note, _ := protocol.JSON.Marshal(core.Notification{
				Type: core.NotifyProducerClosed,
				Data: core.ProducerClosedData{ProducerID: strings.Repeat("p", i%7+1)},
			})
			if err := ws.WriteMessage(websocket.TextMessage, note); err != nil {
				return
			}
		}
		resp, _ := protocol.JSON.Marshal(protocol.OK(req.ID, nil))
		_ = ws.WriteMessage(websocket.TextMessage, resp)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWSChannel_NotificationBurstDoesNotStallResponses(t *testing.T) {
	const burst = 1000
	srv := burstServer(t, burst)
	url, err := SignalURL(srv.URL, "standup", "", protocol.JSON)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := Dial(ctx, url, protocol.JSON)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Call(ctx, protocol.Ping, nil, nil))

	got := 0
	for f := range ch.Notifications() {
		assert.Equal(t, core.NotifyProducerClosed, f.Type)
		var data core.ProducerClosedData
		require.NoError(t, f.Decode(&data))
		assert.Equal(t, strings.Repeat("p", got%7+1), data.ProducerID)
		got++
	}
	assert.Equal(t, burst, got, "a server hangup keeps queued notifications readable")
}
