package state

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livesync/internal/storage"
	"livesync/pkg/types"
)

func newContext(t *testing.T, backend storage.Backend) *Store {
	t.Helper()
	p := storage.New(backend)
	s := NewStore(context.Background(), p, zerolog.Nop())
	t.Cleanup(s.Close)
	return s
}

func TestStore_ResetLeavesNoSnapshot(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()

	s := newContext(t, backend)
	s.SetUser(ctx, &types.UserIdentity{Name: "Ivan", Role: types.RoleInterviewer})
	s.SetSession(ctx, sessionWithProblems(1, 2))
	s.Reset(ctx)

	assert.Equal(t, State{}, s.State())

	_, err := backend.Get(ctx, storage.DefaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	fresh := newContext(t, backend)
	assert.Equal(t, State{}, fresh.State())
}

func TestStore_RoundTripInFreshContext(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()

	s := newContext(t, backend)
	s.SetUser(ctx, &types.UserIdentity{Name: "Cara", Role: types.RoleCandidate})
	s.SetSession(ctx, sessionWithProblems(1, 2, 3))
	s.SetSessionLink("https://example.test/join/abc")
	require.True(t, s.NextProblem(ctx))
	s.UpdateCode(ctx, "def solve(): pass")
	s.SetExecutionResult(ctx, &types.ExecutionResult{Success: false, Output: "", Error: "boom"})
	s.EndSession(ctx)

	// the fresh context hydrates before s is closed, so compare field by field
	fresh := newContext(t, backend).State()
	want := s.State()
	want.SessionLink = ""
	assert.Equal(t, want, fresh)
}

func TestStore_SiblingMergeKeepsOwnUser(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()

	interviewer := newContext(t, backend)
	interviewer.SetUser(ctx, &types.UserIdentity{Name: "Ivan", Role: types.RoleInterviewer})

	candidate := newContext(t, backend)
	// hydration does take the stored user
	require.NotNil(t, candidate.State().CurrentUser)
	candidate.SetUser(ctx, &types.UserIdentity{Name: "Cara", Role: types.RoleCandidate})

	interviewer.SetSession(ctx, sessionWithProblems(1, 2))
	interviewer.UpdateCode(ctx, "shared")

	got := candidate.State()
	assert.Equal(t, "Cara", got.CurrentUser.Name)
	assert.Equal(t, "shared", got.CandidateCode)
	assert.Equal(t, 2, got.TotalProblems())

	// and the interviewer kept its own identity when the candidate saved
	assert.Equal(t, "Ivan", interviewer.State().CurrentUser.Name)
}

func TestStore_SiblingDeletionIsNotMerged(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()

	a := newContext(t, backend)
	a.SetSession(ctx, sessionWithProblems(1))
	b := newContext(t, backend)
	require.NotNil(t, b.State().CurrentSession)

	a.Reset(ctx)
	assert.NotNil(t, b.State().CurrentSession)
}

func TestStore_NextProblemAtEndDoesNotSave(t *testing.T) {
	ctx := context.Background()
	p := &recordingPersister{}
	s := NewStore(ctx, p, zerolog.Nop())
	defer s.Close()

	s.SetSession(ctx, sessionWithProblems(1))
	saves := p.saveCount()

	assert.False(t, s.NextProblem(ctx))
	assert.Equal(t, saves, p.saveCount())
}

func TestStore_SessionLinkIsNotPersisted(t *testing.T) {
	p := &recordingPersister{}
	s := NewStore(context.Background(), p, zerolog.Nop())
	defer s.Close()

	s.SetSessionLink("link")
	assert.Zero(t, p.saveCount())
	assert.Equal(t, "link", s.State().SessionLink)
}

func TestStore_OnChange(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	a := newContext(t, backend)
	b := newContext(t, backend)

	var mu sync.Mutex
	var seen []string
	cancel := b.OnChange(func(st State) {
		mu.Lock()
		seen = append(seen, st.CandidateCode)
		mu.Unlock()
	})

	b.UpdateCode(ctx, "local")
	a.UpdateCode(ctx, "sibling")
	cancel()
	b.UpdateCode(ctx, "unobserved")

	assert.Equal(t, []string{"local", "sibling"}, seen)
}

func TestStore_CloseStopsMerging(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	a := newContext(t, backend)
	b := newContext(t, backend)

	b.Close()
	a.UpdateCode(ctx, "after close")
	assert.Empty(t, b.State().CandidateCode)
}

func TestStore_ConcurrentMutationsSaveInOrder(t *testing.T) {
	ctx := context.Background()
	p := &recordingPersister{}
	s := NewStore(ctx, p, zerolog.Nop())
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.UpdateCode(ctx, strconv.Itoa(i))
		}(i)
	}
	wg.Wait()

	count := p.saveCount()
	assert.GreaterOrEqual(t, count, 1)
	assert.LessOrEqual(t, count, 50)
	assert.Equal(t, s.State().CandidateCode, p.last().CandidateCode.Value, "the last save is the latest mutation")
}

func TestStore_ConcurrentSiblingMutationsDoNotDeadlock(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	a := newContext(t, backend)
	b := newContext(t, backend)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i, s := range []*Store{a, b, a, b} {
			wg.Add(1)
			go func(i int, s *Store) {
				defer wg.Done()
				for n := 0; n < 2000; n++ {
					s.UpdateCode(ctx, fmt.Sprintf("%d-%d", i, n))
				}
			}(i, s)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent mutations on sibling stores did not complete")
	}

	stored := newContext(t, backend).State().CandidateCode
	assert.NotEmpty(t, stored)
}

type recordingPersister struct {
	mu    sync.Mutex
	saves []storage.Snapshot
}

func (r *recordingPersister) Save(_ context.Context, snap storage.Snapshot) {
	r.mu.Lock()
	r.saves = append(r.saves, snap)
	r.mu.Unlock()
}

func (r *recordingPersister) Load(context.Context) (storage.Snapshot, bool) {
	return storage.Snapshot{}, false
}

func (r *recordingPersister) Subscribe(func(storage.Notification)) func() { return func() {} }

func (r *recordingPersister) Clear(context.Context) {}

func (r *recordingPersister) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func (r *recordingPersister) last() storage.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves[len(r.saves)-1]
}
