package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/aisrelay/internal/adapter/metrics"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *metrics.WebSocketMetrics {
	return metrics.NewWebSocketMetrics(prometheus.NewRegistry())
}

func newTestConnPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(func() { srv.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}

// newTestSession returns a running session and the client end of its connection.
// A fake clock keeps keepalive pings out of the way.
func newTestSession(t *testing.T, wsMetrics *metrics.WebSocketMetrics) (*Session, *websocket.Conn) {
	t.Helper()
	server, client := newTestConnPair(t)
	s := NewSession(server, "127.0.0.1", clockwork.NewFakeClock(), wsMetrics)
	t.Cleanup(s.Close)
	return s, client
}
