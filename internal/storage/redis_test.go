package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr
}

func openRedis(t *testing.T, addr string) *RedisBackend {
	t.Helper()
	b, err := NewRedisBackend(context.Background(), RedisConfig{Addr: addr}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBackend_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	mr := setupTestRedis(t)
	b := openRedis(t, mr.Addr())

	_, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Put(ctx, "k", []byte("v1"), "o"))
	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
	assert.True(t, mr.Exists(redisDataPrefix+"k"))

	require.NoError(t, b.Delete(ctx, "k", "o"))
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisBackend_CrossHandleNotification(t *testing.T) {
	ctx := context.Background()
	mr := setupTestRedis(t)
	writer := openRedis(t, mr.Addr())
	reader := openRedis(t, mr.Addr())

	var seen, self changeLog
	defer reader.Watch("k", "reader", seen.add)()
	defer writer.Watch("k", "writer", self.add)()

	require.NoError(t, writer.Put(ctx, "k", []byte("hello"), "writer"))

	require.Eventually(t, func() bool {
		changes := seen.snapshot()
		return len(changes) == 1 && string(changes[0].Value) == "hello"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, writer.Delete(ctx, "k", "writer"))
	require.Eventually(t, func() bool {
		changes := seen.snapshot()
		return len(changes) == 2 && changes[1].Deleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, self.snapshot())
}

func TestRedisBackend_SameHandleUsesBus(t *testing.T) {
	ctx := context.Background()
	mr := setupTestRedis(t)
	b := openRedis(t, mr.Addr())

	var sibling changeLog
	defer b.Watch("k", "o2", sibling.add)()

	require.NoError(t, b.Put(ctx, "k", []byte("v"), "o1"))

	// delivered synchronously, and the pub/sub echo is filtered by writer id
	require.Len(t, sibling.snapshot(), 1)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sibling.snapshot(), 1)
}

func TestNewRedisBackend_Unreachable(t *testing.T) {
	mr := setupTestRedis(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisBackend(context.Background(), RedisConfig{Addr: addr}, zerolog.Nop())
	assert.Error(t, err)
}
