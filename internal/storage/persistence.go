package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultKey is the slot every context of one participant shares.
const DefaultKey = "livesync_session"

// Notification reports a snapshot written by a sibling context.
type Notification struct {
	Key      string
	NewValue []byte
	Origin   string
	Snapshot Snapshot
}

// Persistence saves and loads snapshots under one key and relays sibling
// writes. Failures are logged and never surface to callers.
type Persistence struct {
	backend Backend
	key     string
	origin  string
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Persistence.
type Option func(*Persistence)

// WithKey overrides DefaultKey.
func WithKey(key string) Option {
	return func(p *Persistence) { p.key = key }
}

// WithOrigin fixes the origin id instead of generating one.
func WithOrigin(origin string) Option {
	return func(p *Persistence) { p.origin = origin }
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Persistence) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Persistence) { p.logger = logger }
}

// New creates a Persistence for one execution context.
func New(backend Backend, opts ...Option) *Persistence {
	p := &Persistence{
		backend: backend,
		key:     DefaultKey,
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.origin == "" {
		p.origin = uuid.NewString()
	}
	p.logger = p.logger.With().Str("component", "persistence").Str("origin", p.origin).Logger()
	return p
}

// Origin identifies this context's writes.
func (p *Persistence) Origin() string { return p.origin }

// Key returns the storage slot name.
func (p *Persistence) Key() string { return p.key }

// Save stamps snap with the current time and writes it.
func (p *Persistence) Save(ctx context.Context, snap Snapshot) {
	snap.Timestamp = p.now().UnixMilli()
	data, err := json.Marshal(snap)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to encode snapshot")
		return
	}
	if err := p.backend.Put(ctx, p.key, data, p.origin); err != nil {
		p.logger.Error().Err(err).Msg("failed to save snapshot")
	}
}

// Load reads the stored snapshot. ok is false when nothing usable is stored.
func (p *Persistence) Load(ctx context.Context) (Snapshot, bool) {
	data, err := p.backend.Get(ctx, p.key)
	if errors.Is(err, ErrNotFound) {
		return Snapshot{}, false
	}
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to load snapshot")
		return Snapshot{}, false
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		p.logger.Warn().Err(err).Msg("stored snapshot is malformed")
		return Snapshot{}, false
	}
	return snap, true
}

// Subscribe calls fn for every snapshot a sibling context writes. Deletions
// and undecodable values are skipped.
func (p *Persistence) Subscribe(fn func(Notification)) func() {
	return p.backend.Watch(p.key, p.origin, func(c Change) {
		if c.Deleted || c.Value == nil {
			return
		}
		snap, err := DecodeSnapshot(c.Value)
		if err != nil {
			p.logger.Warn().Err(err).Str("from", c.Origin).Msg("ignoring malformed sibling snapshot")
			return
		}
		fn(Notification{Key: c.Key, NewValue: c.Value, Origin: c.Origin, Snapshot: snap})
	})
}

// Clear deletes the stored snapshot.
func (p *Persistence) Clear(ctx context.Context) {
	if err := p.backend.Delete(ctx, p.key, p.origin); err != nil {
		p.logger.Error().Err(err).Msg("failed to clear snapshot")
	}
}
