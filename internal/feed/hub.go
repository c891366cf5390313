// Package feed broadcasts outcome events to dashboard websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"control-tower/internal/domain"
	"control-tower/internal/observability"
	"control-tower/internal/outcome"
)

// Event types.
const (
	EventOutcomeRecorded   = "outcome_recorded"
	EventFollowupScheduled = "followup_scheduled"
	EventFollowupDue       = "followup_due"
)

// ErrClosed is returned when publishing to a closed hub.
var ErrClosed = errors.New("feed closed")

// Event is a single feed message.
type Event struct {
	Type   string             `json:"type"`
	At     time.Time          `json:"at"`
	Record outcome.RecordView `json:"record"`
}

// Config configures hub behavior.
type Config struct {
	// BufferSize is the per-subscriber queue length. A subscriber whose
	// queue is full is disconnected.
	BufferSize int
	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration
	// PingInterval is the keepalive ping period.
	PingInterval time.Duration
	// PongTimeout is how long to wait for a pong before dropping.
	PongTimeout time.Duration
}

// DefaultConfig returns default hub configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:   64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
	}
}

type subscriber struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
	once   sync.Once
	done   chan struct{}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Hub fans events out to connected subscribers.
type Hub struct {
	config   Config
	logger   zerolog.Logger
	now      func() time.Time
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates a hub. A nil config uses DefaultConfig.
func NewHub(config *Config, logger zerolog.Logger) *Hub {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &Hub{
		config: cfg,
		logger: logger.With().Str("component", "feed").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// Publish implements submission.Publisher.
func (h *Hub) Publish(_ context.Context, r *domain.OutcomeRecord) error {
	typ := EventOutcomeRecorded
	if r.Pending() {
		typ = EventFollowupScheduled
	}
	return h.Broadcast(typ, r)
}

// PublishDue announces an overdue follow-up.
func (h *Hub) PublishDue(_ context.Context, r *domain.OutcomeRecord) error {
	return h.Broadcast(EventFollowupDue, r)
}

// Broadcast sends an event to every subscriber without blocking.
func (h *Hub) Broadcast(typ string, r *domain.OutcomeRecord) error {
	payload, err := json.Marshal(Event{Type: typ, At: h.now(), Record: outcome.NewRecordView(r)})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}

	for s := range h.subs {
		select {
		case s.send <- payload:
		default:
			h.logger.Warn().Str("remote", s.remote).Msg("dropping slow subscriber")
			observability.RecordFeedDropped()
			h.removeLocked(s)
		}
	}
	return nil
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and registers the subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	s := &subscriber{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan []byte, h.config.BufferSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.config.WriteTimeout))
		conn.Close()
		return
	}
	h.subs[s] = struct{}{}
	observability.SetFeedSubscribers(len(h.subs))
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.Debug().Str("remote", s.remote).Msg("subscriber connected")

	go h.writeLoop(s)
	go h.readLoop(s)
}

// writeLoop drains the subscriber queue and sends pings.
func (h *Hub) writeLoop(s *subscriber) {
	defer h.wg.Done()
	defer s.conn.Close()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(h.config.WriteTimeout))
			return
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(s)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				h.remove(s)
				return
			}
		}
	}
}

// readLoop discards client frames; it exists to process pongs and detect
// disconnects.
func (h *Hub) readLoop(s *subscriber) {
	defer h.wg.Done()
	defer h.remove(s)

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *subscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	s.stop()
	observability.SetFeedSubscribers(len(h.subs))
}

// Close disconnects every subscriber and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for s := range h.subs {
		h.removeLocked(s)
	}
	h.mu.Unlock()

	h.wg.Wait()
}
