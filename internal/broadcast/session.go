package broadcast

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/aisrelay/internal/adapter/metrics"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second
	sendQueueSize = 256
	readLimit     = 4096
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrQueueFull     = errors.New("send queue full")
)

// Session is one downstream subscriber connection.
type Session struct {
	ID         uuid.UUID
	RemoteAddr string

	connection  *websocket.Conn
	clock       clockwork.Clock
	metrics     *metrics.WebSocketMetrics
	sendChannel chan []byte
	doneChannel chan struct{}
	doneOnce    sync.Once
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// NewSession wraps an upgraded connection and starts its writer goroutine.
func NewSession(connection *websocket.Conn, remoteAddr string, clock clockwork.Clock, wsMetrics *metrics.WebSocketMetrics) *Session {
	s := &Session{
		ID:          uuid.New(),
		RemoteAddr:  remoteAddr,
		connection:  connection,
		clock:       clock,
		metrics:     wsMetrics,
		sendChannel: make(chan []byte, sendQueueSize),
		doneChannel: make(chan struct{}),
	}
	s.configureReader()
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue queues msg for delivery without blocking.
func (s *Session) Enqueue(msg []byte) error {
	select {
	case <-s.doneChannel:
		return ErrSessionClosed
	default:
	}

	select {
	case s.sendChannel <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Done is closed once the session stops accepting messages.
func (s *Session) Done() <-chan struct{} {
	return s.doneChannel
}

// Listen reads and discards client frames until the connection fails or is
// closed. Pong frames refresh the read deadline. The returned error is never nil.
func (s *Session) Listen() error {
	for {
		if _, _, err := s.connection.ReadMessage(); err != nil {
			return err
		}
	}
}

// Evict stops the session and closes the connection without waiting for the
// writer. The pending Listen call returns an error as a consequence.
func (s *Session) Evict() {
	s.signalDone()
	_ = s.connection.Close()
}

// Close stops the writer and closes the connection.
func (s *Session) Close() {
	s.signalDone()
	s.wg.Wait()
	s.closeOnce.Do(func() {
		_ = s.connection.Close()
	})
}

// CloseGraceful sends a close frame with reason before closing.
func (s *Session) CloseGraceful(reason string) {
	s.signalDone()

	// The writer must have exited before the close frame is written.
	s.wg.Wait()

	s.closeOnce.Do(func() {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = s.connection.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeDeadline))
		_ = s.connection.Close()
	})
}

func (s *Session) signalDone() {
	s.doneOnce.Do(func() {
		close(s.doneChannel)
	})
}

func (s *Session) run() {
	ticker := s.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.wg.Done()

	for {
		select {
		case msg := <-s.sendChannel:
			start := s.clock.Now()
			s.updateWriteDeadline()
			if err := s.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("Subscriber write failed", "session_id", s.ID.String(), "error", err)
				s.Evict()
				return
			}
			s.metrics.FramesSent.Inc()
			s.metrics.SendDuration.Observe(s.clock.Since(start).Seconds())
		case <-ticker.Chan():
			if err := s.connection.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				s.metrics.PingFailures.Inc()
				s.Evict()
				return
			}
		case <-s.doneChannel:
			return
		}
	}
}

func (s *Session) configureReader() {
	s.connection.SetReadLimit(readLimit)
	s.updateReadDeadline()
	s.connection.SetPongHandler(func(string) error {
		s.updateReadDeadline()
		return nil
	})
}

// Socket deadlines are wall-clock; the injected clock only drives the ping ticker.
func (s *Session) updateWriteDeadline() {
	_ = s.connection.SetWriteDeadline(time.Now().Add(writeDeadline))
}

func (s *Session) updateReadDeadline() {
	_ = s.connection.SetReadDeadline(time.Now().Add(pongDeadline))
}
