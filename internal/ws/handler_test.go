package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerBroadcastsInboundFramesToAllConnections(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	// Echo every inbound frame to the whole hub.
	h := NewHandler(hub, MessageHandlerFunc(func(_ context.Context, raw []byte) {
		hub.Publish(raw)
	}))
	srv := httptest.NewServer(h)
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitClients(t, hub, 2)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"list_sessions"}`)))

	assert.JSONEq(t, `{"type":"list_sessions"}`, readFrame(t, a))
	assert.JSONEq(t, `{"type":"list_sessions"}`, readFrame(t, b))
}

func TestHandlerSendsEachMessageInItsOwnFrame(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	srv := httptest.NewServer(NewHandler(hub, MessageHandlerFunc(func(context.Context, []byte) {})))
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, hub, 1)

	for _, frame := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		hub.Publish([]byte(frame))
	}

	assert.Equal(t, `{"n":1}`, readFrame(t, conn))
	assert.Equal(t, `{"n":2}`, readFrame(t, conn))
	assert.Equal(t, `{"n":3}`, readFrame(t, conn))
}

func TestHandlerUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	srv := httptest.NewServer(NewHandler(hub, MessageHandlerFunc(func(context.Context, []byte) {})))
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, hub, 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	waitClients(t, hub, 0)
}

func TestHandlerRejectsPlainHTTP(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewHandler(hub, MessageHandlerFunc(func(context.Context, []byte) {})))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestLocalOrigin(t *testing.T) {
	cases := []struct {
		name   string
		host   string
		origin string
		want   bool
	}{
		{"no origin", "127.0.0.1:3111", "", true},
		{"same origin", "box.lan:3111", "http://box.lan:3111", true},
		{"same origin other case", "Box.lan:3111", "http://box.LAN:3111", true},
		{"localhost dev server", "127.0.0.1:3111", "http://localhost:5173", true},
		{"loopback ip", "127.0.0.1:3111", "http://127.0.0.1:5173", true},
		{"loopback ipv6", "[::1]:3111", "http://[::1]:5173", true},
		{"foreign site", "127.0.0.1:3111", "https://evil.example", false},
		{"foreign site on same port", "127.0.0.1:3111", "http://evil.example:3111", false},
		{"opaque origin", "127.0.0.1:3111", "null", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tc.host
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.want, LocalOrigin(r))
		})
	}
}

func TestHandlerRefusesForeignOrigin(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewHandler(hub, MessageHandlerFunc(func(context.Context, []byte) {})))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.ClientCount())

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost:5173"}})
	require.NoError(t, err)
	defer conn.Close()
	waitClients(t, hub, 1)
}
