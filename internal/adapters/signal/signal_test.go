package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/deskrelay/internal/app"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	srv    *httptest.Server
	broker *app.Broker
	reg    *app.Registry
}

func newHarness(t *testing.T, limit int) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := app.NewRegistry()
	broker, err := app.NewBroker(registry)
	require.NoError(t, err)
	ctl := NewSignalWSController(broker, registry, NewRegisterRateLimiter(limit, time.Minute), Options{
		ReadLimit:  1 << 20,
		PingPeriod: time.Second,
		PongWait:   2 * time.Second,
		WriteWait:  time.Second,
		SendBuffer: 16,
	})

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &harness{srv: srv, broker: broker, reg: registry}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(v))
}

func recv(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, c.ReadJSON(&m))
	return m
}

func TestRelayEndToEnd(t *testing.T) {
	h := newHarness(t, 100)
	host := h.dial(t)
	viewer := h.dial(t)

	send(t, host, map[string]any{"type": "register_host", "session_id": "abc"})
	got := recv(t, host)
	assert.Equal(t, "host_registered", got["type"])
	assert.Equal(t, "abc", got["session_id"])
	assert.Equal(t, "Host registered successfully", got["message"])

	send(t, viewer, map[string]any{"type": "register_viewer"})
	got = recv(t, viewer)
	assert.Equal(t, "viewer_registered", got["type"])
	assert.Equal(t, "abc", got["session_id"])
	assert.Equal(t, "viewer_connected", recv(t, host)["type"])

	send(t, host, map[string]any{"type": "screen_frame", "data": map[string]any{"image": "AAAA", "w": 800}})
	got = recv(t, viewer)
	assert.Equal(t, "screen_frame", got["type"])
	assert.Equal(t, map[string]any{"image": "AAAA", "w": float64(800)}, got["data"])

	send(t, viewer, map[string]any{"type": "control_event", "data": map[string]any{"kind": "click", "x": 1}})
	got = recv(t, host)
	assert.Equal(t, "control_event", got["type"])
	assert.Equal(t, map[string]any{"kind": "click", "x": float64(1)}, got["data"])

	send(t, viewer, map[string]any{"type": "get_sessions"})
	got = recv(t, viewer)
	assert.Equal(t, "sessions_list", got["type"])
	assert.Equal(t, []any{map[string]any{"session_id": "abc", "has_host": true, "has_viewer": true}}, got["sessions"])

	require.NoError(t, host.Close())
	assert.Equal(t, "host_disconnected", recv(t, viewer)["type"])
	require.Eventually(t, func() bool {
		return h.broker.Stats() == app.Stats{} && h.reg.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFramePayloadBytesArePreserved(t *testing.T) {
	h := newHarness(t, 100)
	host := h.dial(t)
	viewer := h.dial(t)

	send(t, host, map[string]any{"type": "register_host", "session_id": "abc"})
	recv(t, host)
	send(t, viewer, map[string]any{"type": "register_viewer", "session_id": "abc"})
	recv(t, viewer)
	recv(t, host)

	payload := `{ "html": "<b>&amp;</b>",  "w": 800 }`
	require.NoError(t, host.WriteMessage(websocket.TextMessage, []byte(`{"type":"screen_frame","data":`+payload+`}`)))

	require.NoError(t, viewer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := viewer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"screen_frame","data":`+payload+`}`, string(raw))
}

func TestViewerLeavesAndAnotherAttaches(t *testing.T) {
	h := newHarness(t, 100)
	host := h.dial(t)
	first := h.dial(t)

	send(t, host, map[string]any{"type": "register_host"})
	sid := recv(t, host)["session_id"]
	require.NotEmpty(t, sid)

	send(t, first, map[string]any{"type": "register_viewer", "session_id": sid})
	assert.Equal(t, sid, recv(t, first)["session_id"])
	assert.Equal(t, "viewer_connected", recv(t, host)["type"])

	require.NoError(t, first.Close())
	assert.Equal(t, "viewer_disconnected", recv(t, host)["type"])

	second := h.dial(t)
	send(t, second, map[string]any{"type": "register_viewer"})
	assert.Equal(t, sid, recv(t, second)["session_id"])
	assert.Equal(t, "viewer_connected", recv(t, host)["type"])
}

func TestMalformedAndUnknownMessages(t *testing.T) {
	h := newHarness(t, 100)
	c := h.dial(t)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("not json")))
	got := recv(t, c)
	assert.Equal(t, "error", got["type"])
	assert.Equal(t, "invalid message format", got["message"])

	send(t, c, map[string]any{"type": "self_destruct"})
	assert.Equal(t, "unknown message type", recv(t, c)["message"])

	// Frames before registration are dropped silently; the ping proves the
	// connection is still served and nothing was queued ahead of the pong.
	send(t, c, map[string]any{"type": "screen_frame", "data": "x"})
	send(t, c, map[string]any{"type": "control_event", "data": "x"})
	send(t, c, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", recv(t, c)["type"])

	send(t, c, map[string]any{"type": "register_viewer", "session_id": "nope"})
	got = recv(t, c)
	assert.Equal(t, "error", got["type"])
	assert.Equal(t, "No available hosts to connect to", got["message"])

	send(t, c, map[string]any{"type": "register_host", "session_id": strings.Repeat("x", 200)})
	assert.Equal(t, "invalid session_id", recv(t, c)["message"])
}

func TestRegistrationRateLimit(t *testing.T) {
	h := newHarness(t, 1)
	c := h.dial(t)

	send(t, c, map[string]any{"type": "register_host", "session_id": "a"})
	assert.Equal(t, "host_registered", recv(t, c)["type"])

	send(t, c, map[string]any{"type": "register_host", "session_id": "b"})
	got := recv(t, c)
	assert.Equal(t, "error", got["type"])
	assert.Equal(t, "too many registration attempts", got["message"])
	assert.Equal(t, 1, h.broker.Stats().Sessions)
}
