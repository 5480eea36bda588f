package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteConfig configures a SQLiteBackend.
type SQLiteConfig struct {
	Path           string
	MaxConnections int
	WriteTimeout   time.Duration
	// RetryDelay is the pause before a failed write is retried once.
	RetryDelay time.Duration
	// PollInterval enables periodic change checks. When zero, polling is
	// only used if the file watcher cannot be started.
	PollInterval time.Duration
}

// DefaultSQLiteConfig returns settings suited to a handful of local
// processes sharing one file.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:           path,
		MaxConnections: 4,
		WriteTimeout:   5 * time.Second,
		RetryDelay:     100 * time.Millisecond,
	}
}

const sqlitePragmas = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA temp_store = MEMORY;
	PRAGMA busy_timeout = 5000;
`

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS storage_slots (
		key        TEXT PRIMARY KEY,
		value      TEXT,
		origin     TEXT NOT NULL,
		writer     TEXT NOT NULL,
		version    INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL
	);
`

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

type sqliteWatch struct {
	key         string
	origin      string
	fn          func(Change)
	lastVersion int64
}

// SQLiteBackend stores slots in a SQLite file. Several processes may open
// the same file; each sees the others' writes through a directory watcher.
// Deletions are kept as tombstones so that other handles can observe them.
type SQLiteBackend struct {
	db     *sql.DB
	cfg    SQLiteConfig
	id     string
	bus    *bus
	logger zerolog.Logger

	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup

	watchMu   sync.Mutex
	watches   map[int]*sqliteWatch
	nextWatch int
	fsWatcher *fsnotify.Watcher

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteBackend opens (creating if needed) the database at cfg.Path.
func NewSQLiteBackend(cfg SQLiteConfig, logger zerolog.Logger) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)

	if _, err := db.Exec(sqlitePragmas); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply sqlite pragmas: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create storage schema: %w", err)
	}

	b := &SQLiteBackend{
		db:           db,
		cfg:          cfg,
		id:           uuid.NewString(),
		bus:          newBus(),
		logger:       logger.With().Str("component", "sqlite_backend").Logger(),
		writeChannel: make(chan writeOperation, 64),
		shutdown:     make(chan struct{}),
		watches:      make(map[int]*sqliteWatch),
	}

	b.wg.Add(1)
	go b.writeLoop()

	pollInterval := cfg.PollInterval
	if err := b.startFileWatcher(); err != nil {
		b.logger.Warn().Err(err).Msg("file watcher unavailable, falling back to polling")
		if pollInterval <= 0 {
			pollInterval = time.Second
		}
	}
	if pollInterval > 0 {
		b.wg.Add(1)
		go b.pollLoop(pollInterval)
	}

	return b, nil
}

// writeLoop serializes every write through one goroutine.
func (b *SQLiteBackend) writeLoop() {
	defer b.wg.Done()

	for {
		select {
		case op := <-b.writeChannel:
			err := op.operation(b.db)
			if err != nil && b.cfg.RetryDelay > 0 {
				b.logger.Warn().Err(err).Dur("retry_in", b.cfg.RetryDelay).Msg("write failed, retrying")
				time.Sleep(b.cfg.RetryDelay)
				err = op.operation(b.db)
			}
			if err != nil {
				b.logger.Error().Err(err).Msg("write failed")
			}
			op.result <- err

		case <-b.shutdown:
			return
		}
	}
}

func (b *SQLiteBackend) executeWrite(operation func(*sql.DB) error) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBackendClosed
	}
	b.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(b.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case b.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-b.shutdown:
		return ErrBackendClosed
	}

	select {
	case err := <-result:
		return err
	case <-b.shutdown:
		return ErrBackendClosed
	}
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrBackendClosed
	}

	var value sql.NullString
	err := b.db.QueryRowContext(ctx, `SELECT value FROM storage_slots WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot %q: %w", key, err)
	}
	if !value.Valid {
		return nil, ErrNotFound
	}
	return []byte(value.String), nil
}

func (b *SQLiteBackend) Put(ctx context.Context, key string, value []byte, origin string) error {
	if key == "" {
		return ErrEmptyKey
	}
	err := b.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO storage_slots (key, value, origin, writer, version, updated_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				origin = excluded.origin,
				writer = excluded.writer,
				version = storage_slots.version + 1,
				updated_at = excluded.updated_at
		`, key, string(value), origin, b.id, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write slot %q: %w", key, err)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	b.bus.publish(Change{Key: key, Value: stored, Origin: origin})
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key, origin string) error {
	err := b.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE storage_slots
			SET value = NULL, origin = ?, writer = ?, version = version + 1, updated_at = ?
			WHERE key = ? AND value IS NOT NULL
		`, origin, b.id, time.Now().UnixMilli(), key)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete slot %q: %w", key, err)
	}

	b.bus.publish(Change{Key: key, Deleted: true, Origin: origin})
	return nil
}

// Watch registers fn for changes to key from origins other than origin.
func (b *SQLiteBackend) Watch(key, origin string, fn func(Change)) func() {
	w := &sqliteWatch{key: key, origin: origin, fn: fn}
	if row, err := b.readVersion(context.Background(), key); err == nil {
		w.lastVersion = row.version
	}

	b.watchMu.Lock()
	id := b.nextWatch
	b.nextWatch++
	b.watches[id] = w
	b.watchMu.Unlock()

	cancelBus := b.bus.add(key, origin, fn)
	return func() {
		cancelBus()
		b.watchMu.Lock()
		delete(b.watches, id)
		b.watchMu.Unlock()
	}
}

type slotRow struct {
	value   sql.NullString
	origin  string
	writer  string
	version int64
}

func (b *SQLiteBackend) readVersion(ctx context.Context, key string) (slotRow, error) {
	var row slotRow
	err := b.db.QueryRowContext(ctx,
		`SELECT value, origin, writer, version FROM storage_slots WHERE key = ?`, key,
	).Scan(&row.value, &row.origin, &row.writer, &row.version)
	return row, err
}

// Sync compares every watched key against its last seen version and
// reports changes written through other handles.
func (b *SQLiteBackend) Sync(ctx context.Context) {
	b.watchMu.Lock()
	keys := make(map[string]struct{}, len(b.watches))
	for _, w := range b.watches {
		keys[w.key] = struct{}{}
	}
	b.watchMu.Unlock()

	rows := make(map[string]slotRow, len(keys))
	for key := range keys {
		row, err := b.readVersion(ctx, key)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			b.logger.Warn().Err(err).Str("key", key).Msg("failed to check slot version")
			continue
		}
		rows[key] = row
	}

	type delivery struct {
		fn     func(Change)
		change Change
	}
	var deliveries []delivery

	b.watchMu.Lock()
	for _, w := range b.watches {
		row, ok := rows[w.key]
		if !ok || row.version <= w.lastVersion {
			continue
		}
		w.lastVersion = row.version
		if row.writer == b.id || row.origin == w.origin {
			continue
		}
		c := Change{Key: w.key, Origin: row.origin}
		if row.value.Valid {
			c.Value = []byte(row.value.String)
		} else {
			c.Deleted = true
		}
		deliveries = append(deliveries, delivery{fn: w.fn, change: c})
	}
	b.watchMu.Unlock()

	for _, d := range deliveries {
		d.fn(d.change)
	}
}

func (b *SQLiteBackend) startFileWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(b.cfg.Path)); err != nil {
		_ = w.Close()
		return err
	}
	b.fsWatcher = w

	b.wg.Add(1)
	go b.watchLoop(w)
	return nil
}

func (b *SQLiteBackend) isDatabaseFile(name string) bool {
	return strings.HasPrefix(filepath.Base(name), filepath.Base(b.cfg.Path))
}

func (b *SQLiteBackend) watchLoop(w *fsnotify.Watcher) {
	defer b.wg.Done()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if b.isDatabaseFile(ev.Name) {
				b.Sync(context.Background())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			b.logger.Warn().Err(err).Msg("file watcher error")
		case <-b.shutdown:
			return
		}
	}
}

func (b *SQLiteBackend) pollLoop(interval time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Sync(context.Background())
		case <-b.shutdown:
			return
		}
	}
}

// Close stops the background goroutines and closes the database.
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.shutdown)
	b.wg.Wait()

	if b.fsWatcher != nil {
		_ = b.fsWatcher.Close()
	}
	b.bus.clear()
	return b.db.Close()
}
