// Package connection owns the websocket channel of one participant: it
// opens the channel for a session, reconnects with exponential backoff
// after unexpected closes, and routes inbound envelopes.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livesync/internal/router"
	"livesync/pkg/types"
)

// State is the channel lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Manager is one participant's channel. The zero value is not usable;
// construct with New.
//
// Router dispatches and event callbacks all run on one internal goroutine,
// in arrival order and never concurrently. They may call back into the
// Manager.
type Manager struct {
	cfg       Config
	dialer    Dialer
	scheduler Scheduler
	logger    zerolog.Logger
	router    *router.Router
	loop      *eventLoop

	mu          sync.Mutex
	state       State
	sessionID   string
	identity    types.UserIdentity
	conn        *websocket.Conn
	gen         uint64 // bumped whenever the current channel is abandoned
	attempts    int
	intentional bool
	backoff     *backoff.ExponentialBackOff
	closed      bool

	writeMu sync.Mutex

	hmu      sync.RWMutex
	handlers map[EventType]func(Event)
}

// Option customizes a Manager.
type Option func(*Manager)

func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// New creates a disconnected Manager.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}

	m := &Manager{
		cfg:       cfg,
		scheduler: systemScheduler{},
		logger:    zerolog.Nop(),
		router:    router.New(),
		handlers:  make(map[EventType]func(Event)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	m.logger = m.logger.With().Str("component", "connection").Logger()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = cfg.BaseDelay << 20
	b.MaxElapsedTime = 0
	b.Reset()
	m.backoff = b

	m.loop = newEventLoop()
	return m, nil
}

// Endpoint builds the channel URL for a session and participant.
func (m *Manager) Endpoint(sessionID string, identity types.UserIdentity) string {
	q := url.Values{}
	q.Set("user_name", identity.Name)
	q.Set("user_role", string(identity.Role))
	return fmt.Sprintf("%s/api/ws/%s?%s",
		strings.TrimRight(m.cfg.WSBaseURL, "/"), url.PathEscape(sessionID), q.Encode())
}

// On registers the handler for an inbound envelope type, replacing any
// previous one.
func (m *Manager) On(msgType string, h router.Handler) {
	m.router.On(msgType, h)
}

func (m *Manager) Off(msgType string) {
	m.router.Off(msgType)
}

// OnEvent registers the observer for a lifecycle event type, replacing
// any previous one. Observers survive Disconnect.
func (m *Manager) OnEvent(t EventType, fn func(Event)) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	if fn == nil {
		delete(m.handlers, t)
		return
	}
	m.handlers[t] = fn
}

func (m *Manager) emit(ev Event) {
	m.loop.post(func() {
		m.hmu.RLock()
		fn := m.handlers[ev.Type]
		m.hmu.RUnlock()
		if fn != nil {
			fn(ev)
		}
	})
}

// Connect opens the channel for sessionID. It returns immediately; the
// outcome is reported through EventConnected or EventError. Connecting to
// the session that is already open or opening does nothing.
func (m *Manager) Connect(sessionID string, identity types.UserIdentity) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.sessionID == sessionID && m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	old := m.conn
	m.conn = nil
	m.sessionID = sessionID
	m.identity = identity
	m.intentional = false
	m.attempts = 0
	m.backoff.Reset()
	gen := m.beginConnectingLocked()
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	m.logger.Info().Str("session_id", sessionID).Str("user", identity.Name).Msg("connecting")
	go m.dial(gen, sessionID, identity)
	return nil
}

func (m *Manager) beginConnectingLocked() uint64 {
	m.gen++
	m.state = Connecting
	return m.gen
}

func (m *Manager) dial(gen uint64, sessionID string, identity types.UserIdentity) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	conn, resp, err := m.dialer.DialContext(ctx, m.Endpoint(sessionID, identity), nil)
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to open channel")
		m.emit(Event{Type: EventError, SessionID: sessionID, Err: err})
		m.handleClose(gen, sessionID)
		return
	}
	m.conn = conn
	m.state = Connected
	m.attempts = 0
	m.backoff.Reset()
	m.mu.Unlock()

	m.logger.Info().Str("session_id", sessionID).Msg("channel open")
	m.emit(Event{Type: EventConnected, SessionID: sessionID})
	go m.readLoop(gen, conn, sessionID)
}

func (m *Manager) readLoop(gen uint64, conn *websocket.Conn, sessionID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if m.generation() != gen {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.emit(Event{Type: EventError, SessionID: sessionID, Err: err})
			}
			m.logger.Info().Err(err).Str("session_id", sessionID).Msg("channel closed")
			m.handleClose(gen, sessionID)
			return
		}

		env, err := types.ParseEnvelope(data)
		if err != nil {
			m.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
			continue
		}
		m.loop.post(func() {
			m.router.Dispatch(env)
			m.hmu.RLock()
			fn := m.handlers[EventMessage]
			m.hmu.RUnlock()
			if fn != nil {
				fn(Event{Type: EventMessage, SessionID: sessionID, Envelope: env})
			}
		})
	}
}

func (m *Manager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// handleClose moves to Disconnected and schedules a retry when the close
// was not requested and attempts remain.
func (m *Manager) handleClose(gen uint64, sessionID string) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.conn = nil
	m.state = Disconnected
	m.gen++
	next := m.gen
	retry := !m.intentional && !m.closed && m.attempts < m.cfg.MaxReconnectAttempts
	exhausted := !m.intentional && !retry
	m.mu.Unlock()

	m.emit(Event{Type: EventDisconnected, SessionID: sessionID})

	switch {
	case retry:
		m.scheduleReconnect(next, sessionID)
	case exhausted:
		m.logger.Error().
			Str("session_id", sessionID).
			Int("max_attempts", m.cfg.MaxReconnectAttempts).
			Msg("reconnect attempts exhausted")
	}
}

// scheduleReconnect arms a timer for the next attempt. The callback gives
// up if the session was cleared or changed, or anything else touched the
// channel, while it was pending.
func (m *Manager) scheduleReconnect(gen uint64, sessionID string) {
	m.mu.Lock()
	m.attempts++
	attempt := m.attempts
	delay := m.backoff.NextBackOff()
	m.mu.Unlock()

	m.logger.Info().
		Str("session_id", sessionID).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("scheduling reconnect")
	m.emit(Event{Type: EventReconnecting, SessionID: sessionID, Attempt: attempt, Delay: delay})

	m.scheduler.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.sessionID == "" || m.sessionID != sessionID || m.gen != gen || m.closed {
			m.mu.Unlock()
			m.logger.Debug().Str("session_id", sessionID).Msg("stale reconnect timer ignored")
			return
		}
		g := m.beginConnectingLocked()
		identity := m.identity
		m.mu.Unlock()

		m.dial(g, sessionID, identity)
	})
}

// Reconnect reopens the last session after retries were exhausted. A nil
// identity keeps the previous one.
func (m *Manager) Reconnect(identity *types.UserIdentity) error {
	m.mu.Lock()
	sessionID := m.sessionID
	id := m.identity
	m.mu.Unlock()

	if sessionID == "" {
		return ErrNoSession
	}
	if identity != nil {
		id = *identity
	}
	return m.Connect(sessionID, id)
}

// Disconnect closes the channel on purpose. No reconnect follows, pending
// timers become no-ops and every envelope handler is removed.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	sessionID := m.sessionID
	wasOpen := m.state != Disconnected
	m.intentional = true
	m.sessionID = ""
	m.state = Disconnected
	m.conn = nil
	m.gen++
	m.mu.Unlock()

	m.router.Clear()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(m.cfg.WriteTimeout))
		_ = conn.Close()
	}
	if wasOpen {
		m.logger.Info().Str("session_id", sessionID).Msg("disconnected")
		m.emit(Event{Type: EventDisconnected, SessionID: sessionID})
	}
}

// Send writes v as a JSON frame. When the channel is not open the message
// is dropped, a warning is logged and EventSendDropped is emitted; nothing
// is queued.
func (m *Manager) Send(v any) bool {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	sessionID := m.sessionID
	m.mu.Unlock()

	if state != Connected || conn == nil {
		m.logger.Warn().Str("state", state.String()).Msg("channel not open, message dropped")
		m.emit(Event{Type: EventSendDropped, SessionID: sessionID, Err: ErrNotConnected})
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to encode outbound message")
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout)); err != nil {
		m.logger.Warn().Err(err).Msg("failed to set write deadline")
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			m.logger.Warn().Err(err).Msg("failed to write frame")
		}
		return false
	}
	return true
}

func (m *Manager) SendCodeUpdate(code string, problemID, problemIndex int) bool {
	return m.Send(types.CodeUpdate{
		Type:         types.TypeCodeUpdate,
		Code:         code,
		ProblemID:    problemID,
		ProblemIndex: problemIndex,
	})
}

func (m *Manager) SendProblemChange(problemIndex, problemID int) bool {
	return m.Send(types.ProblemChange{
		Type:         types.TypeProblemChange,
		ProblemIndex: problemIndex,
		ProblemID:    problemID,
	})
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Attempts is the number of reconnects since the channel last opened.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Close disconnects and stops the event loop. Events already emitted,
// including the final disconnected, are still delivered. The Manager cannot
// be reused.
func (m *Manager) Close() {
	m.Disconnect()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.loop.stop()
}
