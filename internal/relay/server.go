// Package relay is a small development relay for the session channel.
// It fans code and problem changes out to the other participants of a
// session and announces joins, departures and session end.
package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livesync/pkg/types"
)

const (
	codeUnknownType    = "UNKNOWN_MESSAGE_TYPE"
	codeInvalidMessage = "INVALID_MESSAGE"
	codeRateLimited    = "RATE_LIMITED"
)

// Server is an http.Handler serving the channel endpoint, health and
// metrics.
type Server struct {
	cfg      Config
	registry *registry
	limiter  *rateLimiter
	metrics  *metrics
	upgrader websocket.Upgrader
	router   chi.Router
	logger   zerolog.Logger

	mu    sync.RWMutex
	ended map[string]time.Time
}

// NewServer builds a relay with its routes.
func NewServer(cfg Config, logger zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}
	s := &Server{
		cfg:      cfg,
		registry: newRegistry(),
		limiter:  newRateLimiter(cfg.RateLimit, cfg.RateWindow),
		metrics:  newMetrics(),
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(*http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "relay").Logger(),
		ended:  make(map[string]time.Time),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/api/ws/{sessionID}", s.handleWebSocket)
	r.Post("/api/sessions/{sessionID}/end", s.handleEndSession)
	r.Get("/health", s.healthCheck)
	r.Handle("/metrics", s.metrics.handler())
	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	identity := types.UserIdentity{
		Name: r.URL.Query().Get("user_name"),
		Role: types.Role(r.URL.Query().Get("user_role")),
	}

	if !types.IsValidSessionID(sessionID) {
		sendError(w, "Invalid session id", http.StatusBadRequest)
		return
	}
	if err := identity.Validate(); err != nil {
		sendError(w, fmt.Sprintf("Invalid participant: %v", err), http.StatusBadRequest)
		return
	}
	if s.isEnded(sessionID) {
		sendError(w, "Session has ended", http.StatusGone)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	p := newPeer(conn, sessionID, identity, s.cfg.WriteTimeout)
	active, err := s.registry.register(p)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to register peer")
		_ = p.Close()
		return
	}
	s.metrics.peers.Inc()

	log := s.logger.With().Str("session_id", sessionID).Str("user", identity.Name).Str("role", string(identity.Role)).Logger()
	log.Info().Int("active_users", active).Msg("participant joined")

	if err := p.WriteJSON(types.ConnectionStatus{
		Type:        types.TypeConnectionStatus,
		Status:      "connected",
		SessionID:   sessionID,
		ActiveUsers: active,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to confirm connection")
	}
	s.broadcast(sessionID, p.id, types.Presence{Type: types.TypeUserJoined, UserName: identity.Name, Role: identity.Role})

	s.serve(p, log)
}

// serve runs the read loop with ping/pong liveness until the peer leaves.
func (s *Server) serve(p *peer, log zerolog.Logger) {
	defer func() {
		removed := s.registry.unregister(p)
		s.limiter.Forget(p.id)
		_ = p.Close()
		if removed {
			s.metrics.peers.Dec()
			s.broadcast(p.sessionID, p.id, types.Presence{Type: types.TypeUserLeft, UserName: p.identity.Name, Role: p.identity.Role})
			log.Info().Msg("participant left")
		}
	}()

	if err := p.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait)); err != nil {
		return
	}
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-p.Done():
				return
			}
		}
	}()

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleFrame(p, data, log)
	}
}

func (s *Server) handleFrame(p *peer, data []byte, log zerolog.Logger) {
	if !s.limiter.Allow(p.id) {
		s.metrics.rejected.WithLabelValues("rate_limited").Inc()
		s.reply(p, types.ErrorMessage{Type: types.TypeError, Message: "Rate limit exceeded", Code: codeRateLimited})
		return
	}

	env, err := types.ParseEnvelope(data)
	if err != nil {
		s.metrics.rejected.WithLabelValues("malformed").Inc()
		log.Warn().Err(err).Msg("malformed frame")
		s.reply(p, types.ErrorMessage{Type: types.TypeError, Message: "Invalid message format", Code: codeInvalidMessage})
		return
	}

	switch env.Type {
	case types.TypeCodeUpdate, types.TypeProblemChange:
		s.metrics.relayed.WithLabelValues(env.Type).Inc()
		s.broadcast(p.sessionID, p.id, env)

	case types.TypeRunCode:
		s.metrics.relayed.WithLabelValues(env.Type).Inc()
		var req types.RunCode
		_ = env.Decode(&req)
		s.reply(p, types.CodeResult{
			Type:      types.TypeCodeResult,
			ProblemID: req.ProblemID,
			Success:   false,
			Error:     "Code execution not yet implemented",
		})

	default:
		s.metrics.rejected.WithLabelValues("unknown_type").Inc()
		s.reply(p, types.ErrorMessage{
			Type:    types.TypeError,
			Message: fmt.Sprintf("Unknown message type: %s", env.Type),
			Code:    codeUnknownType,
		})
	}
}

func (s *Server) reply(p *peer, v any) {
	if err := p.WriteJSON(v); err != nil {
		s.logger.Debug().Err(err).Str("peer", p.id).Msg("reply dropped")
	}
}

// broadcast sends v to every peer of sessionID except exclude.
func (s *Server) broadcast(sessionID, exclude string, v any) int {
	sent := 0
	for _, other := range s.registry.peers(sessionID, exclude) {
		if err := other.WriteJSON(v); err != nil {
			s.logger.Debug().Err(err).Str("peer", other.id).Msg("broadcast to peer failed")
			continue
		}
		sent++
	}
	return sent
}

// EndSession pushes session_ended to everyone in the room and refuses
// later joins. It returns the number of participants notified.
func (s *Server) EndSession(sessionID string) (int, error) {
	if !types.IsValidSessionID(sessionID) {
		return 0, ErrInvalidSessionID
	}
	s.mu.Lock()
	if _, done := s.ended[sessionID]; done {
		s.mu.Unlock()
		return 0, ErrSessionEnded
	}
	s.ended[sessionID] = time.Now()
	s.mu.Unlock()

	n := s.broadcast(sessionID, "", types.SessionEnded{Type: types.TypeSessionEnded, SessionID: sessionID})
	s.logger.Info().Str("session_id", sessionID).Int("notified", n).Msg("session ended")
	return n, nil
}

func (s *Server) isEnded(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ended[sessionID]
	return ok
}

// ActivePeers returns the number of participants connected to sessionID.
func (s *Server) ActivePeers(sessionID string) int {
	return s.registry.roomSize(sessionID)
}

// Sweep drops idle rate limiter windows; call it periodically.
func (s *Server) Sweep() {
	s.limiter.Cleanup()
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	n, err := s.EndSession(chi.URLParam(r, "sessionID"))
	switch err {
	case nil:
	case ErrInvalidSessionID:
		sendError(w, "Invalid session id", http.StatusBadRequest)
		return
	case ErrSessionEnded:
		sendError(w, "Session has already ended", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "notified": n})
}

type healthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Connections map[string]int `json:"connections"`
}

func (s *Server) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Connections: s.registry.stats(),
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
