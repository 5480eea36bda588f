package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisDataPrefix    = "livesync:data:"
	redisChannelPrefix = "livesync:slot:"
)

// RedisConfig configures a RedisBackend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// slotNotice is published after every write so other handles can follow.
type slotNotice struct {
	Origin  string  `json:"origin"`
	Writer  string  `json:"writer"`
	Value   *string `json:"value"`
	Deleted bool    `json:"deleted"`
}

type redisWatch struct {
	key    string
	origin string
	fn     func(Change)
}

// RedisBackend stores slots in Redis and announces writes on a pub/sub
// channel per key.
type RedisBackend struct {
	rdb    *redis.Client
	sub    *redis.PubSub
	id     string
	bus    *bus
	logger zerolog.Logger

	watchMu   sync.RWMutex
	watches   map[int]redisWatch
	nextWatch int

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRedisBackend connects to Redis and subscribes to slot notifications.
func NewRedisBackend(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}

	sub := rdb.PSubscribe(ctx, redisChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to subscribe to slot notifications: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &RedisBackend{
		rdb:     rdb,
		sub:     sub,
		id:      uuid.NewString(),
		bus:     newBus(),
		logger:  logger.With().Str("component", "redis_backend").Logger(),
		watches: make(map[int]redisWatch),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go b.listen(loopCtx)
	return b, nil
}

func (b *RedisBackend) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if b.isClosed() {
		return nil, ErrBackendClosed
	}
	v, err := b.rdb.Get(ctx, redisDataPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot %q: %w", key, err)
	}
	return v, nil
}

func (b *RedisBackend) Put(ctx context.Context, key string, value []byte, origin string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if b.isClosed() {
		return ErrBackendClosed
	}
	s := string(value)
	notice, err := json.Marshal(slotNotice{Origin: origin, Writer: b.id, Value: &s})
	if err != nil {
		return err
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisDataPrefix+key, value, 0)
		pipe.Publish(ctx, redisChannelPrefix+key, notice)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write slot %q: %w", key, err)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	b.bus.publish(Change{Key: key, Value: stored, Origin: origin})
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key, origin string) error {
	if b.isClosed() {
		return ErrBackendClosed
	}
	notice, err := json.Marshal(slotNotice{Origin: origin, Writer: b.id, Deleted: true})
	if err != nil {
		return err
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisDataPrefix+key)
		pipe.Publish(ctx, redisChannelPrefix+key, notice)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete slot %q: %w", key, err)
	}

	b.bus.publish(Change{Key: key, Deleted: true, Origin: origin})
	return nil
}

func (b *RedisBackend) Watch(key, origin string, fn func(Change)) func() {
	b.watchMu.Lock()
	id := b.nextWatch
	b.nextWatch++
	b.watches[id] = redisWatch{key: key, origin: origin, fn: fn}
	b.watchMu.Unlock()

	cancelBus := b.bus.add(key, origin, fn)
	return func() {
		cancelBus()
		b.watchMu.Lock()
		delete(b.watches, id)
		b.watchMu.Unlock()
	}
}

func (b *RedisBackend) listen(ctx context.Context) {
	defer close(b.done)

	ch := b.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleNotice(msg)
		}
	}
}

func (b *RedisBackend) handleNotice(msg *redis.Message) {
	key := strings.TrimPrefix(msg.Channel, redisChannelPrefix)

	var notice slotNotice
	if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
		b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("malformed slot notice")
		return
	}
	if notice.Writer == b.id {
		return
	}

	c := Change{Key: key, Origin: notice.Origin, Deleted: notice.Deleted}
	if !notice.Deleted && notice.Value != nil {
		c.Value = []byte(*notice.Value)
	}

	b.watchMu.RLock()
	var targets []func(Change)
	for _, w := range b.watches {
		if w.key == key && w.origin != notice.Origin {
			targets = append(targets, w.fn)
		}
	}
	b.watchMu.RUnlock()

	for _, fn := range targets {
		fn(c)
	}
}

// Close unsubscribes and closes the client.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	_ = b.sub.Close()
	<-b.done
	b.bus.clear()
	return b.rdb.Close()
}
