package broadcast

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pscheid92/aisrelay/internal/adapter/metrics"
)

// Result summarises one fan-out.
type Result struct {
	Delivered int
	Skipped   int
	Evicted   int
}

// Broadcaster pushes upstream frames to every session in a Registry.
type Broadcaster struct {
	registry *Registry
	metrics  *metrics.WebSocketMetrics
}

func NewBroadcaster(registry *Registry, wsMetrics *metrics.WebSocketMetrics) *Broadcaster {
	return &Broadcaster{registry: registry, metrics: wsMetrics}
}

// Broadcast enqueues payload on every open session. payload is shared by all
// recipients and must not be modified afterwards. Closed sessions are skipped;
// sessions with a full queue are evicted and left for their reader to remove.
func (b *Broadcaster) Broadcast(payload []byte) Result {
	var res Result

	b.registry.ForEach(func(s *Session) {
		err := s.Enqueue(payload)
		switch {
		case err == nil:
			res.Delivered++
		case errors.Is(err, ErrQueueFull):
			slog.Warn("Disconnecting slow client", "session_id", s.ID.String(), "remote_addr", s.RemoteAddr)
			b.metrics.FramesDropped.WithLabelValues("queue_full").Inc()
			b.metrics.SlowClientsEvicted.Inc()
			s.Evict()
			res.Evicted++
		default:
			b.metrics.FramesDropped.WithLabelValues("closed").Inc()
			res.Skipped++
		}
	})

	return res
}

// CloseAll sends a close frame with reason to every registered session.
// Sessions stay in the registry until their readers observe the close.
func (b *Broadcaster) CloseAll(reason string) int {
	sessions := b.registry.Snapshot()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.CloseGraceful(reason)
		}()
	}
	wg.Wait()

	return len(sessions)
}
