package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"livesync/internal/api"
	"livesync/internal/config"
	"livesync/internal/connection"
	"livesync/internal/session"
	"livesync/internal/state"
	"livesync/internal/storage"
)

// Participant is one execution context's stack: storage, persisted state,
// the session channel and the coordinator that binds them.
type Participant struct {
	// Backend is nil when the backend was shared in via WithBackend.
	Backend     storage.Backend
	Persistence *storage.Persistence
	Store       *state.Store
	Channel     *connection.Manager
	Coordinator *session.Coordinator
	API         *api.Client

	logger zerolog.Logger
}

// ParticipantOption adjusts how a Participant is assembled.
type ParticipantOption func(*participantOptions)

type participantOptions struct {
	backend     storage.Backend
	connOptions []connection.Option
}

// WithBackend shares an already open backend instead of opening one from
// the storage config. The Participant does not close it.
func WithBackend(b storage.Backend) ParticipantOption {
	return func(o *participantOptions) { o.backend = b }
}

// WithConnectionOptions passes options through to the connection manager.
func WithConnectionOptions(opts ...connection.Option) ParticipantOption {
	return func(o *participantOptions) { o.connOptions = append(o.connOptions, opts...) }
}

// NewParticipant wires storage, state, channel and coordinator in that
// order.
func NewParticipant(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...ParticipantOption) (*Participant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	var o participantOptions
	for _, opt := range opts {
		opt(&o)
	}

	p := &Participant{logger: logger.With().Str("component", "participant").Logger()}

	backend := o.backend
	if backend == nil {
		var err error
		backend, err = OpenBackend(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, err
		}
		p.Backend = backend
	}

	p.Persistence = storage.New(backend,
		storage.WithKey(cfg.Storage.Key),
		storage.WithLogger(logger),
	)
	p.Store = state.NewStore(ctx, p.Persistence, logger)

	connOpts := append([]connection.Option{connection.WithLogger(logger)}, o.connOptions...)
	ch, err := connection.New(ConnectionConfig(cfg), connOpts...)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	p.Channel = ch
	p.Coordinator = session.NewCoordinator(ch, p.Store, logger)

	client, err := api.NewClient(cfg.Server.APIBaseURL,
		api.WithTimeout(cfg.Server.RequestTimeout),
		api.WithRetries(uint64(cfg.Server.Retries), 200*time.Millisecond),
		api.WithLogger(logger),
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	p.API = client

	return p, nil
}

// Close tears down in reverse order. It is safe on a partly built
// Participant.
func (p *Participant) Close() {
	if p.Channel != nil {
		p.Channel.Close()
	}
	if p.Store != nil {
		p.Store.Close()
	}
	if p.Backend != nil {
		if err := p.Backend.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("closing storage backend")
		}
	}
}

// OpenBackend opens the shared medium named by cfg.Driver.
func OpenBackend(ctx context.Context, cfg *config.StorageConfig, logger zerolog.Logger) (storage.Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemoryBackend(), nil
	case config.DriverSQLite:
		sc := storage.DefaultSQLiteConfig(cfg.Path)
		if cfg.WriteTimeout > 0 {
			sc.WriteTimeout = cfg.WriteTimeout
		}
		sc.PollInterval = cfg.PollInterval
		b, err := storage.NewSQLiteBackend(sc, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return b, nil
	case config.DriverRedis:
		b, err := storage.NewRedisBackend(ctx, storage.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis storage: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// ConnectionConfig maps the server and reconnect sections onto
// connection.Config.
func ConnectionConfig(cfg *config.Config) connection.Config {
	return connection.Config{
		WSBaseURL:            cfg.Server.WSBaseURL,
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		BaseDelay:            cfg.Reconnect.BaseDelay,
		HandshakeTimeout:     cfg.Reconnect.HandshakeTimeout,
		WriteTimeout:         cfg.Reconnect.WriteTimeout,
	}
}
