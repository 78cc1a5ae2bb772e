// Package relay owns the websocket connection to a relay: the reconnect
// state machine, the standing subscription and ad-hoc subscriptions
// demultiplexed by id.
package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/okian/askbot/internal/domain/model"
	"github.com/okian/askbot/pkg/logger"
	"github.com/okian/askbot/pkg/metrics"
)

// Default connection configuration constants.
const (
	defaultGrace        = 5 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 30 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultBufferSize   = 256
	defaultReadLimit    = 1 << 20
	closeWriteTimeout   = time.Second
)

// Handler receives standing-subscription events newer than the cutover.
// It runs on the reader goroutine and must not block.
type Handler func(ctx context.Context, ev model.Event)

// Status is a point-in-time view of the manager.
type Status struct {
	State     string    `json:"state"`
	Attempt   int       `json:"reconnectAttempt"`
	Listeners int       `json:"listeners"`
	Cutover   time.Time `json:"cutover"`
}

// Manager keeps one connection to a relay alive until its context ends.
type Manager struct {
	url     string
	handler Handler
	logger  logger.Logger

	backoff      Backoff
	grace        time.Duration
	limiter      *rate.Limiter
	dialer       *websocket.Dialer
	now          func() time.Time
	kinds        []int
	pingInterval time.Duration
	pongTimeout  time.Duration
	bufferSize   int

	standingID string
	state      atomic.Int32
	attempt    atomic.Int64
	cutover    atomic.Int64

	// connMu serializes writes and guards conn.
	connMu sync.Mutex
	conn   *websocket.Conn

	subsMu sync.Mutex
	subs   map[string]*Subscription
}

// NewManager creates a manager for url. handler must be non-nil.
func NewManager(url string, handler Handler, opts ...Option) *Manager {
	m := &Manager{
		url:          url,
		handler:      handler,
		logger:       logger.Get().Named("relay"),
		backoff:      Backoff{Base: DefaultBackoffBase, Cap: DefaultBackoffCap},
		grace:        defaultGrace,
		dialer:       websocket.DefaultDialer,
		now:          time.Now,
		kinds:        []int{model.KindTextNote, model.KindEncryptedDM},
		pingInterval: defaultPingInterval,
		pongTimeout:  defaultPongTimeout,
		bufferSize:   defaultBufferSize,
		standingID:   "askbot-" + uuid.NewString(),
		subs:         make(map[string]*Subscription),
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	metrics.UpdateConnectionState(int(StateDisconnected))
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Attempt returns the current reconnect attempt counter.
func (m *Manager) Attempt() int { return int(m.attempt.Load()) }

// Cutover returns the lower bound applied to standing-subscription events.
func (m *Manager) Cutover() time.Time { return time.Unix(m.cutover.Load(), 0) }

// Listeners returns the number of open ad-hoc subscriptions.
func (m *Manager) Listeners() int {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	return len(m.subs)
}

// Status snapshots the manager for the ops surface.
func (m *Manager) Status() Status {
	return Status{
		State:     m.State().String(),
		Attempt:   m.Attempt(),
		Listeners: m.Listeners(),
		Cutover:   m.Cutover(),
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	metrics.UpdateConnectionState(int(s))
}

// Run connects and reconnects with capped exponential backoff until ctx is
// done. Connection errors are never fatal; Run returns nil on shutdown.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(StateDisconnected)

	for {
		m.setState(StateConnecting)
		err := m.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		m.setState(StateDisconnected)

		attempt := m.Attempt()
		delay := m.backoff.Delay(attempt)
		m.attempt.Add(1)
		metrics.RecordReconnect()
		metrics.UpdateReconnectAttempt(attempt + 1)
		m.logger.Warn(ctx, "relay disconnected",
			logger.Error(err),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection from dial to teardown.
func (m *Manager) session(ctx context.Context) error {
	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, m.url, err)
	}
	conn.SetReadLimit(defaultReadLimit)

	cutover := m.now().Add(-m.grace).Unix()
	m.cutover.Store(cutover)

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	standing := model.Filter{Kinds: m.kinds, Since: &cutover}
	if err := m.writeJSON([]any{frameReq, m.standingID, standing}); err != nil {
		_ = conn.Close()
		m.teardown()
		return err
	}
	m.attempt.Store(0)
	metrics.UpdateReconnectAttempt(0)
	m.setState(StateConnected)
	m.logger.Info(ctx, "relay connected",
		logger.String("url", m.url),
		logger.Int64("cutover", cutover),
	)

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.pingLoop(sessCtx, conn)
	}()
	go func() {
		defer wg.Done()
		<-sessCtx.Done()
		if ctx.Err() != nil {
			m.setState(StateClosing)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		}
		_ = conn.Close()
	}()

	err = m.readLoop(ctx, conn)
	cancel()
	wg.Wait()
	m.teardown()
	return err
}

// teardown forgets the connection and closes every ad-hoc subscription.
func (m *Manager) teardown() {
	m.connMu.Lock()
	m.conn = nil
	m.connMu.Unlock()

	if m.State() == StateConnected {
		m.setState(StateDisconnected)
	}

	m.subsMu.Lock()
	open := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		open = append(open, s)
	}
	m.subsMu.Unlock()

	for _, s := range open {
		m.release(s, false)
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	extend := func() {
		_ = conn.SetReadDeadline(time.Now().Add(m.pingInterval + m.pongTimeout))
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: read: %v", ErrConnection, err)
		}
		extend()
		if err := m.dispatch(ctx, data); err != nil {
			return err
		}
	}
}

func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteTimeout)); err != nil {
				m.logger.Debug(ctx, "ping failed", logger.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

// dispatch routes one inbound frame. A non-nil error ends the session.
func (m *Manager) dispatch(ctx context.Context, data []byte) error {
	f, err := decodeFrame(data)
	if err != nil {
		metrics.RecordFrameDropped("malformed")
		m.logger.Warn(ctx, "dropping malformed frame", logger.Error(err))
		return nil
	}
	metrics.RecordFrameReceived(f.Type)

	switch f.Type {
	case frameEvent:
		if f.SubID == m.standingID {
			if f.Event.CreatedAt < m.cutover.Load() {
				metrics.RecordFrameDropped("stale")
				m.logger.Debug(ctx, "dropping event older than cutover",
					logger.String("event_id", f.Event.ID),
					logger.Int64("created_at", f.Event.CreatedAt),
				)
				return nil
			}
			m.handler(ctx, f.Event)
			return nil
		}
		m.deliver(f.SubID, f.Event)
	case frameEOSE:
		if s := m.lookup(f.SubID); s != nil {
			s.markEOSE()
		}
	case frameNotice:
		m.logger.Info(ctx, "relay notice", logger.String("message", f.Message))
	case frameOK:
		if !f.Accepted {
			m.logger.Warn(ctx, "relay rejected event",
				logger.String("event_id", f.EventID),
				logger.String("message", f.Message),
			)
		}
	case frameClosed:
		if f.SubID == m.standingID {
			return fmt.Errorf("%w: standing subscription closed by relay: %s", ErrConnection, f.Message)
		}
		if s := m.lookup(f.SubID); s != nil {
			m.release(s, false)
		}
		m.logger.Debug(ctx, "relay closed subscription",
			logger.String("sub_id", f.SubID),
			logger.String("message", f.Message),
		)
	}
	return nil
}

func (m *Manager) lookup(id string) *Subscription {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	return m.subs[id]
}

// deliver hands ev to its subscription without blocking the reader.
func (m *Manager) deliver(id string, ev model.Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		metrics.RecordFrameDropped("unknown_subscription")
		return
	}
	select {
	case s.events <- ev:
	default:
		metrics.RecordFrameDropped("slow_consumer")
	}
}

// Subscribe opens an ad-hoc subscription. It is released when the caller
// closes it, when ctx ends, or when the connection drops.
func (m *Manager) Subscribe(ctx context.Context, filter model.Filter) (*Subscription, error) {
	if m.State() != StateConnected {
		return nil, ErrNotConnected
	}
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	s := &Subscription{
		ID:     uuid.NewString(),
		Filter: filter,
		events: make(chan model.Event, m.bufferSize),
		eose:   make(chan struct{}),
		m:      m,
	}

	m.subsMu.Lock()
	m.subs[s.ID] = s
	n := len(m.subs)
	s.stop = context.AfterFunc(ctx, s.Close)
	m.subsMu.Unlock()

	metrics.UpdateActiveListeners(n)
	metrics.RecordSubscription("opened")

	if err := m.writeJSON([]any{frameReq, s.ID, filter}); err != nil {
		m.release(s, false)
		return nil, err
	}
	return s, nil
}

func (m *Manager) release(s *Subscription, notify bool) {
	s.closeOnce.Do(func() {
		m.subsMu.Lock()
		stop := s.stop
		delete(m.subs, s.ID)
		close(s.events)
		n := len(m.subs)
		m.subsMu.Unlock()

		if stop != nil {
			stop()
		}
		metrics.UpdateActiveListeners(n)
		metrics.RecordSubscription("closed")

		if notify && m.State() == StateConnected {
			if err := m.writeJSON([]any{frameClose, s.ID}); err != nil {
				m.logger.Debug(context.Background(), "close subscription", logger.String("sub_id", s.ID), logger.Error(err))
			}
		}
	})
}

// Send writes an arbitrary frame. It fails fast when not connected.
func (m *Manager) Send(_ context.Context, msg any) error {
	if m.State() != StateConnected {
		return ErrNotConnected
	}
	return m.writeJSON(msg)
}

// Publish transmits a signed event.
func (m *Manager) Publish(ctx context.Context, ev model.Event) error {
	return m.Send(ctx, []any{frameEvent, ev})
}

func (m *Manager) writeJSON(v any) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn == nil {
		return ErrNotConnected
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := m.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: write: %v", ErrConnection, err)
	}
	return nil
}
