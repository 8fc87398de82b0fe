package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/aisrelay/internal/adapter/metrics"
	"github.com/pscheid92/aisrelay/internal/broadcast"
	"github.com/pscheid92/aisrelay/internal/upstream"
)

const (
	progressInterval = 1000
	shutdownReason   = "Server shutting down"
)

// Feed is the upstream connection as seen by the service.
type Feed interface {
	EnsureConnected()
	Connected() bool
	Stop()
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	Clients     int
	Messages    uint64
	Connected   bool
	LastMessage time.Time
}

type Options struct {
	Feed upstream.Config
	// ConnectOnStart dials the feed from Start instead of on the first subscription.
	ConnectOnStart bool
}

type Service struct {
	registry       *broadcast.Registry
	broadcaster    *broadcast.Broadcaster
	feed           Feed
	clock          clockwork.Clock
	connectOnStart bool
	startedAt      time.Time

	messages    atomic.Uint64
	lastMessage atomic.Int64

	stopOnce sync.Once
}

// NewService creates a relay wired to the feed described by opts.
// Unless opts.ConnectOnStart is set, nothing is dialled until the first Subscribe.
func NewService(opts Options, clock clockwork.Clock, wsMetrics *metrics.WebSocketMetrics, upstreamMetrics *metrics.UpstreamMetrics) *Service {
	s := newService(clock, wsMetrics)
	s.connectOnStart = opts.ConnectOnStart
	s.feed = upstream.NewConnector(opts.Feed, s.HandleMessage, clock, upstreamMetrics)
	return s
}

func newService(clock clockwork.Clock, wsMetrics *metrics.WebSocketMetrics) *Service {
	registry := broadcast.NewRegistry(wsMetrics)
	s := &Service{
		registry:    registry,
		broadcaster: broadcast.NewBroadcaster(registry, wsMetrics),
		clock:       clock,
	}
	s.markStarted()
	return s
}

func (s *Service) markStarted() {
	s.startedAt = s.clock.Now()
	s.lastMessage.Store(s.startedAt.UnixNano())
}

// Start resets the start time reported before the first message and, when
// configured, opens the feed without waiting for a subscriber.
func (s *Service) Start() {
	s.markStarted()
	slog.Info("Relay started", "connect_on_start", s.connectOnStart)
	if s.connectOnStart {
		s.feed.EnsureConnected()
	}
}

func (s *Service) Clock() clockwork.Clock {
	return s.clock
}

// Subscribe registers session and makes sure the feed is being consumed.
func (s *Service) Subscribe(session *broadcast.Session) int {
	clients := s.registry.Add(session)
	s.feed.EnsureConnected()
	return clients
}

// Unsubscribe removes session. It is safe to call more than once; only the
// first call reports removed=true.
func (s *Service) Unsubscribe(session *broadcast.Session) (remaining int, removed bool) {
	return s.registry.Remove(session)
}

// HandleMessage counts one inbound frame and fans it out to all current
// subscribers. It runs on the feed's read goroutine, so frames reach each
// session in arrival order.
func (s *Service) HandleMessage(payload []byte) {
	count := s.messages.Add(1)
	s.lastMessage.Store(s.clock.Now().UnixNano())

	res := s.broadcaster.Broadcast(payload)

	if count%progressInterval == 0 {
		slog.Info("Relay progress", "messages", count, "clients", s.registry.Size(), "delivered", res.Delivered)
	}
}

// Stats never blocks on the network.
func (s *Service) Stats() Stats {
	return Stats{
		Clients:     s.registry.Size(),
		Messages:    s.messages.Load(),
		Connected:   s.feed.Connected(),
		LastMessage: time.Unix(0, s.lastMessage.Load()),
	}
}

func (s *Service) StartedAt() time.Time {
	return s.startedAt
}

// Stop sends a close frame to every subscriber and then closes the feed.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		closed := s.broadcaster.CloseAll(shutdownReason)
		slog.Info("Closed subscriber sessions", "count", closed)
		s.feed.Stop()
	})
}
