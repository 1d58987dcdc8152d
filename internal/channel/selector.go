package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// ErrNoCandidates is returned when the selector is built without any
// endpoint to try.
var ErrNoCandidates = errors.New("no candidate endpoints")

// Config tunes the selector. Zero values are filled with defaults.
type Config struct {
	// Candidates are websocket endpoints in fixed preference order.
	Candidates []string
	// MaxAttempts bounds the dial attempts per candidate.
	MaxAttempts int
	// Backoff is the fixed delay between dial attempts.
	Backoff time.Duration
	// HandshakeTimeout bounds a single dial.
	HandshakeTimeout time.Duration
}

func (c *Config) defaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff == 0 {
		c.Backoff = 2 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
}

// Handler consumes the payload of a named push event.
type Handler func(data json.RawMessage)

// Selector owns the single active push channel connection. It walks the
// candidate endpoints in order, retries with a fixed backoff, and
// settles into degraded when every candidate is exhausted. It holds no
// conversation semantics; subscribers re-join their rooms on connect.
type Selector struct {
	config Config
	dialer *websocket.Dialer

	mu               sync.Mutex
	conn             *websocket.Conn
	status           models.ChannelStatus
	intentionalClose bool
	cancel           context.CancelFunc
	degradedNotified bool

	handlerMu    sync.RWMutex
	handlers     map[string][]Handler
	onConnect    []func()
	onDisconnect []func(reason string)
	onError      []func(err error)
	onDegraded   []func()
}

// NewSelector builds a selector over the given candidates.
func NewSelector(config Config) *Selector {
	config.defaults()
	return &Selector{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		status:   models.StatusDisconnected,
		handlers: make(map[string][]Handler),
	}
}

// Status returns the current channel state.
func (s *Selector) Status() models.ChannelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// On registers a handler for a named push event. Handlers run on the
// read loop, so events within one connection are processed in order.
func (s *Selector) On(event string, h Handler) {
	s.handlerMu.Lock()
	s.handlers[event] = append(s.handlers[event], h)
	s.handlerMu.Unlock()
}

// OnConnect registers a handler for the connect meta-event.
func (s *Selector) OnConnect(h func()) {
	s.handlerMu.Lock()
	s.onConnect = append(s.onConnect, h)
	s.handlerMu.Unlock()
}

// OnDisconnect registers a handler for the disconnect meta-event.
func (s *Selector) OnDisconnect(h func(reason string)) {
	s.handlerMu.Lock()
	s.onDisconnect = append(s.onDisconnect, h)
	s.handlerMu.Unlock()
}

// OnError registers a handler for transport errors.
func (s *Selector) OnError(h func(err error)) {
	s.handlerMu.Lock()
	s.onError = append(s.onError, h)
	s.handlerMu.Unlock()
}

// OnDegraded registers a handler invoked exactly once per degradation
// episode, when every candidate is exhausted.
func (s *Selector) OnDegraded(h func()) {
	s.handlerMu.Lock()
	s.onDegraded = append(s.onDegraded, h)
	s.handlerMu.Unlock()
}

// Connect walks the candidates in order with bounded fixed-backoff
// retries. On success it starts the read loop; on exhaustion it settles
// into degraded and notifies once for this episode.
func (s *Selector) Connect(ctx context.Context) error {
	if len(s.config.Candidates) == 0 {
		return ErrNoCandidates
	}

	s.mu.Lock()
	if s.status == models.StatusConnected || s.status == models.StatusConnecting {
		s.mu.Unlock()
		return nil
	}
	s.status = models.StatusConnecting
	s.intentionalClose = false
	s.mu.Unlock()

	var lastErr error
	for _, endpoint := range s.config.Candidates {
		for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					s.setStatus(models.StatusDisconnected)
					return ctx.Err()
				case <-time.After(s.config.Backoff):
				}
			}
			observability.IncChannelReconnect()

			conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
			if err != nil {
				lastErr = fmt.Errorf("dial %s: %w", endpoint, err)
				s.emitError(lastErr)
				continue
			}

			connCtx, cancel := context.WithCancel(context.Background())
			s.mu.Lock()
			s.conn = conn
			s.status = models.StatusConnected
			s.degradedNotified = false
			s.cancel = cancel
			s.mu.Unlock()

			s.emitConnect()
			go s.readLoop(connCtx, conn)
			return nil
		}
	}

	s.mu.Lock()
	s.status = models.StatusDegraded
	notify := !s.degradedNotified
	s.degradedNotified = true
	s.mu.Unlock()

	if notify {
		s.emitDegraded()
	}
	if lastErr == nil {
		lastErr = errors.New("all candidates exhausted")
	}
	return lastErr
}

// Emit sends a named event over the channel. A disconnected emit is a
// silent no-op: callers must never crash because the channel is down.
func (s *Selector) Emit(event string, payload interface{}) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.status == models.StatusConnected
	s.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.WriteJSON(models.Envelope{Event: event, Data: data})
}

// Close tears the connection down without triggering reconnects.
func (s *Selector) Close() error {
	s.mu.Lock()
	s.intentionalClose = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	conn := s.conn
	s.conn = nil
	s.status = models.StatusDisconnected
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *Selector) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			s.mu.Lock()
			intentional := s.intentionalClose
			if s.conn == conn {
				s.conn = nil
				s.status = models.StatusDisconnected
			}
			s.mu.Unlock()

			if intentional || ctx.Err() != nil {
				return
			}

			conn.Close()
			s.emitDisconnect(err.Error())

			// Bounded auto-retry, then hand off to degraded.
			if err := s.Connect(context.Background()); err != nil {
				log.Printf("channel reconnect failed: %v", err)
			}
			return
		}

		if env.Event == "" {
			continue
		}
		s.dispatch(env)
	}
}

func (s *Selector) dispatch(env models.Envelope) {
	s.handlerMu.RLock()
	handlers := append([]Handler(nil), s.handlers[env.Event]...)
	s.handlerMu.RUnlock()

	for _, h := range handlers {
		h(env.Data)
	}
}

func (s *Selector) emitConnect() {
	s.handlerMu.RLock()
	handlers := append([]func(){}, s.onConnect...)
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (s *Selector) emitDisconnect(reason string) {
	s.handlerMu.RLock()
	handlers := append([]func(string){}, s.onDisconnect...)
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (s *Selector) emitError(err error) {
	s.handlerMu.RLock()
	handlers := append([]func(error){}, s.onError...)
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}

func (s *Selector) emitDegraded() {
	s.handlerMu.RLock()
	handlers := append([]func(){}, s.onDegraded...)
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (s *Selector) setStatus(status models.ChannelStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}
