package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/aisrelay/internal/adapter/metrics"
	"github.com/pscheid92/aisrelay/internal/platform/retry"
)

const (
	DefaultURL            = "wss://stream.aisstream.io/v0/stream"
	DefaultReconnectDelay = 5 * time.Second

	handshakeTimeout = 10 * time.Second
	writeDeadline    = 5 * time.Second
)

var errClosedByPeer = errors.New("upstream closed the connection")

// Handler receives every inbound frame. The payload is owned by the handler.
type Handler func(payload []byte)

type Config struct {
	URL            string
	APIKey         string
	ReconnectDelay time.Duration
}

// Connector owns the single outbound feed connection. The first call to
// EnsureConnected starts a loop that dials, subscribes, reads until the
// connection ends, waits ReconnectDelay and dials again, until Stop.
type Connector struct {
	url            string
	apiKey         string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	clock          clockwork.Clock
	onMessage      Handler
	metrics        *metrics.UpstreamMetrics

	state atomic.Int32

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConnector(cfg Config, onMessage Handler, clock clockwork.Clock, upstreamMetrics *metrics.UpstreamMetrics) *Connector {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Connector{
		url:            cfg.URL,
		apiKey:         cfg.APIKey,
		reconnectDelay: cfg.ReconnectDelay,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		clock:     clock,
		onMessage: onMessage,
		metrics:   upstreamMetrics,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// EnsureConnected starts the connection loop if it is not already running.
// Later calls, including those made while a reconnect is pending, are no-ops.
func (c *Connector) EnsureConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started || c.stopped {
		return
	}
	c.started = true

	c.wg.Add(1)
	go c.run()
}

func (c *Connector) State() State {
	return State(c.state.Load())
}

func (c *Connector) Connected() bool {
	return c.State() == StateConnected
}

// Stop cancels any pending reconnect, closes the open connection and waits
// for the loop to exit. The connector cannot be restarted.
func (c *Connector) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.cancel()
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "relay shutting down")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
		_ = c.conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Connector) run() {
	defer c.wg.Done()

	policy := retry.Policy{
		Delay: c.reconnectDelay,
		Clock: c.clock,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			slog.Warn("Disconnected from upstream, reconnecting", "attempt", attempt, "delay", delay, "error", err)
		},
	}

	err := retry.Forever(c.ctx, policy, c.connectAndRead)
	slog.Info("Upstream connector stopped", "reason", err)
}

// connectAndRead runs one connection from dial to disconnect. It always
// returns a non-nil error describing why the connection ended.
func (c *Connector) connectAndRead(ctx context.Context) error {
	c.setState(StateConnecting)
	defer c.setState(StateDisconnected)

	slog.Info("Connecting to upstream", "url", c.url)
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.metrics.ConnectAttempts.WithLabelValues("failure").Inc()
		return fmt.Errorf("dial upstream: %w", err)
	}

	if !c.attach(conn) {
		_ = conn.Close()
		return ctx.Err()
	}
	defer c.detach()

	if err := c.subscribe(conn); err != nil {
		c.metrics.ConnectAttempts.WithLabelValues("failure").Inc()
		return err
	}

	c.metrics.ConnectAttempts.WithLabelValues("success").Inc()
	c.setState(StateConnected)
	slog.Info("Connected to upstream", "url", c.url)

	err = c.readLoop(conn)
	c.metrics.Disconnects.Inc()
	return err
}

func (c *Connector) subscribe(conn *websocket.Conn) error {
	data, err := NewSubscriptionRequest(c.apiKey).Marshal()
	if err != nil {
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}
	return nil
}

func (c *Connector) readLoop(conn *websocket.Conn) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("%w: %w", errClosedByPeer, err)
			}
			return fmt.Errorf("read upstream: %w", err)
		}

		c.metrics.MessagesReceived.Inc()
		c.onMessage(payload)
	}
}

// attach publishes conn so Stop can close it. It refuses once stopped.
func (c *Connector) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return false
	}
	c.conn = conn
	return true
}

func (c *Connector) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Connector) setState(s State) {
	c.state.Store(int32(s))
	if s == StateConnected {
		c.metrics.Connected.Set(1)
	} else {
		c.metrics.Connected.Set(0)
	}
}
