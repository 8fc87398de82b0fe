package upstream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/aisrelay/internal/adapter/metrics"
	"github.com/stretchr/testify/require"
)

// fakeFeed is a minimal stand-in for the aisstream endpoint. Each accepted
// connection reads the subscription frame and is handed to the test.
type fakeFeed struct {
	server        *httptest.Server
	connections   chan *feedConn
	accepted      atomic.Int32
	concurrent    atomic.Int32
	maxConcurrent atomic.Int32
}

type feedConn struct {
	conn         *websocket.Conn
	subscription []byte
	closed       chan struct{}
	writeMu      sync.Mutex
}

func newFakeFeed(t *testing.T) *fakeFeed {
	t.Helper()
	f := &fakeFeed{connections: make(chan *feedConn, 16)}
	upgrader := websocket.Upgrader{}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.accepted.Add(1)
		n := f.concurrent.Add(1)
		for {
			prev := f.maxConcurrent.Load()
			if n <= prev || f.maxConcurrent.CompareAndSwap(prev, n) {
				break
			}
		}

		_, sub, err := conn.ReadMessage()
		if err != nil {
			f.concurrent.Add(-1)
			conn.Close()
			return
		}

		fc := &feedConn{conn: conn, subscription: sub, closed: make(chan struct{})}
		f.connections <- fc

		// Drain until the relay goes away so close frames are processed.
		go func() {
			defer close(fc.closed)
			defer f.concurrent.Add(-1)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeFeed) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeFeed) next(t *testing.T) *feedConn {
	t.Helper()
	select {
	case fc := <-f.connections:
		return fc
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not connect to the feed")
		return nil
	}
}

func (fc *feedConn) send(t *testing.T, payload string) {
	t.Helper()
	fc.writeMu.Lock()
	defer fc.writeMu.Unlock()
	require.NoError(t, fc.conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

// hangUp closes the connection from the feed side with a close frame.
func (fc *feedConn) hangUp() {
	fc.writeMu.Lock()
	defer fc.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance")
	_ = fc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = fc.conn.Close()
}

func newTestUpstreamMetrics() *metrics.UpstreamMetrics {
	return metrics.NewUpstreamMetrics(prometheus.NewRegistry())
}

// collector records handled payloads in arrival order.
type collector struct {
	mu       sync.Mutex
	payloads []string
}

func (c *collector) handle(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, string(payload))
}

func (c *collector) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.payloads...)
}
