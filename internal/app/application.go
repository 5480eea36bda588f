package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"livesync/internal/config"
	"livesync/internal/relay"
)

// RelayApplication serves the development relay over HTTP.
type RelayApplication struct {
	config     *config.Config
	relay      *relay.Server
	httpServer *http.Server
	listener   net.Listener
	stopSweep  context.CancelFunc
	logger     zerolog.Logger
}

// NewRelayApplication builds the relay from cfg. A nil cfg uses defaults.
func NewRelayApplication(cfg *config.Config, logger zerolog.Logger) (*RelayApplication, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	srv, err := relay.NewServer(RelayConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &RelayApplication{
		config:     cfg,
		relay:      srv,
		httpServer: httpServer,
		logger:     logger.With().Str("component", "relay_app").Logger(),
	}, nil
}

// Start binds the listener and serves in the background. It returns once
// the server is accepting connections.
func (a *RelayApplication) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}
	a.listener = ln
	a.logger.Info().Str("addr", ln.Addr().String()).Msg("starting relay")

	sweepCtx, cancel := context.WithCancel(context.Background())
	a.stopSweep = cancel
	go a.sweep(sweepCtx)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		cancel()
		return err
	case <-time.After(100 * time.Millisecond):
		a.logger.Info().Msg("relay started")
		return nil
	case <-ctx.Done():
		cancel()
		_ = a.httpServer.Close()
		return ctx.Err()
	}
}

func (a *RelayApplication) sweep(ctx context.Context) {
	ticker := time.NewTicker(a.config.Relay.RateWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.relay.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Stop shuts the HTTP server down. Open sockets are hijacked and are not
// waited for.
func (a *RelayApplication) Stop(ctx context.Context) error {
	a.logger.Info().Msg("shutting down relay")
	if a.stopSweep != nil {
		a.stopSweep()
	}
	if err := a.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	a.logger.Info().Msg("relay shutdown complete")
	return nil
}

// Relay exposes the relay server, for ending sessions from the host.
func (a *RelayApplication) Relay() *relay.Server { return a.relay }

// GetAddr returns the bound address once started, else the configured one.
func (a *RelayApplication) GetAddr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.httpServer.Addr
}

// RelayConfig maps the relay section onto relay.Config.
func RelayConfig(cfg *config.Config) relay.Config {
	return relay.Config{
		Host:         cfg.Relay.Host,
		Port:         cfg.Relay.Port,
		WriteTimeout: cfg.Relay.WriteTimeout,
		PingInterval: cfg.Relay.PingInterval,
		PongWait:     cfg.Relay.PongWait,
		RateLimit:    cfg.Relay.RateLimit,
		RateWindow:   cfg.Relay.RateWindow,
	}
}
