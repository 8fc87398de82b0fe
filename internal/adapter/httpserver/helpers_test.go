package httpserver

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/aisrelay/internal/adapter/metrics"
	"github.com/pscheid92/aisrelay/internal/broadcast"
	"github.com/pscheid92/aisrelay/internal/platform/config"
	"github.com/pscheid92/aisrelay/internal/relay"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 3, 14, 9, 26, 53, 589_793_238, time.UTC)

// stubRelay backs the server with a real registry but no upstream feed.
type stubRelay struct {
	registry  *broadcast.Registry
	clock     *clockwork.FakeClock
	startedAt time.Time

	mu          sync.Mutex
	messages    uint64
	connected   bool
	lastMessage time.Time
}

func newStubRelay(wsMetrics *metrics.WebSocketMetrics) *stubRelay {
	clock := clockwork.NewFakeClockAt(testStart)
	return &stubRelay{
		registry:    broadcast.NewRegistry(wsMetrics),
		clock:       clock,
		startedAt:   clock.Now(),
		lastMessage: clock.Now(),
	}
}

func (r *stubRelay) Subscribe(s *broadcast.Session) int {
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	return r.registry.Add(s)
}

func (r *stubRelay) Unsubscribe(s *broadcast.Session) (int, bool) {
	return r.registry.Remove(s)
}

func (r *stubRelay) Stats() relay.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return relay.Stats{
		Clients:     r.registry.Size(),
		Messages:    r.messages,
		Connected:   r.connected,
		LastMessage: r.lastMessage,
	}
}

func (r *stubRelay) StartedAt() time.Time   { return r.startedAt }
func (r *stubRelay) Clock() clockwork.Clock { return r.clock }

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     100,
		ConnectionRate:          1000,
		ConnectionBurst:         1000,
	}
}

type testEnv struct {
	server    *Server
	relay     *stubRelay
	wsMetrics *metrics.WebSocketMetrics
	http      *httptest.Server
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	stub := newStubRelay(wsMetrics)

	srv := NewServer(cfg, stub, reg, wsMetrics)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testEnv{server: srv, relay: stub, wsMetrics: wsMetrics, http: ts}
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + path
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) waitForClients(t *testing.T, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.relay.Stats().Clients == want },
		2*time.Second, 5*time.Millisecond, "expected %d clients", want)
}
