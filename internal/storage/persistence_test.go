package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livesync/pkg/types"
)

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestPersistence_SaveLoad(t *testing.T) {
	ctx := context.Background()
	p := New(NewMemoryBackend(), WithClock(fixedClock(1234)))

	_, ok := p.Load(ctx)
	assert.False(t, ok)

	p.Save(ctx, Snapshot{
		CurrentUser:         &types.UserIdentity{Name: "Ivan", Role: types.RoleInterviewer},
		CurrentProblemIndex: Set(2),
		CandidateCode:       Set("code"),
		SessionEnded:        Set(true),
	})

	snap, ok := p.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(1234), snap.Timestamp)
	assert.Equal(t, "Ivan", snap.CurrentUser.Name)
	assert.Equal(t, Set(2), snap.CurrentProblemIndex)
	assert.Equal(t, Set("code"), snap.CandidateCode)
	assert.Equal(t, Set(true), snap.SessionEnded)
}

func TestPersistence_LoadMalformed(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Put(ctx, DefaultKey, []byte("{broken"), "someone"))

	_, ok := New(backend).Load(ctx)
	assert.False(t, ok)
}

func TestPersistence_SubscribeSeesSiblingsOnly(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a := New(backend, WithOrigin("tab-a"))
	b := New(backend, WithOrigin("tab-b"))

	var seenByA, seenByB []Notification
	cancelA := a.Subscribe(func(n Notification) { seenByA = append(seenByA, n) })
	defer cancelA()
	cancelB := b.Subscribe(func(n Notification) { seenByB = append(seenByB, n) })
	defer cancelB()

	a.Save(ctx, Snapshot{CandidateCode: Set("from a")})

	assert.Empty(t, seenByA)
	require.Len(t, seenByB, 1)
	assert.Equal(t, DefaultKey, seenByB[0].Key)
	assert.Equal(t, "tab-a", seenByB[0].Origin)
	assert.Equal(t, "from a", seenByB[0].Snapshot.CandidateCode.Value)
	assert.NotEmpty(t, seenByB[0].NewValue)
}

func TestPersistence_SubscribeSkipsDeletesAndGarbage(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a := New(backend, WithOrigin("tab-a"))
	b := New(backend, WithOrigin("tab-b"))

	calls := 0
	cancel := b.Subscribe(func(Notification) { calls++ })
	defer cancel()

	a.Clear(ctx)
	require.NoError(t, backend.Put(ctx, DefaultKey, []byte("garbage"), "tab-a"))
	assert.Zero(t, calls)
}

func TestPersistence_SubscribeIgnoresOtherKeys(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a := New(backend, WithOrigin("tab-a"), WithKey("other"))
	b := New(backend, WithOrigin("tab-b"))

	calls := 0
	cancel := b.Subscribe(func(Notification) { calls++ })
	defer cancel()

	a.Save(ctx, Snapshot{})
	assert.Zero(t, calls)
}

func TestPersistence_Clear(t *testing.T) {
	ctx := context.Background()
	p := New(NewMemoryBackend())
	p.Save(ctx, Snapshot{CandidateCode: Set("x")})
	p.Clear(ctx)

	_, ok := p.Load(ctx)
	assert.False(t, ok)
}

func TestPersistence_UnsubscribeStopsNotifications(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a := New(backend)
	b := New(backend)

	calls := 0
	cancel := b.Subscribe(func(Notification) { calls++ })
	cancel()
	cancel()

	a.Save(ctx, Snapshot{})
	assert.Zero(t, calls)
	assert.NotEqual(t, a.Origin(), b.Origin())
}

func TestPersistence_ClosedBackendDegrades(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	p := New(backend)
	require.NoError(t, backend.Close())

	p.Save(ctx, Snapshot{})
	p.Clear(ctx)
	_, ok := p.Load(ctx)
	assert.False(t, ok)
}
