package state

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"livesync/internal/storage"
	"livesync/pkg/types"
)

// Persister is the durable side of a Store. *storage.Persistence
// satisfies it.
type Persister interface {
	Save(ctx context.Context, snap storage.Snapshot)
	Load(ctx context.Context) (storage.Snapshot, bool)
	Subscribe(fn func(storage.Notification)) (cancel func())
	Clear(ctx context.Context)
}

// Store is the thread-safe, persisted holder of one context's State.
type Store struct {
	mu    sync.RWMutex
	state State

	// seq numbers mutations under mu. Saves run under persistMu only, never
	// under mu, because a save delivers sibling merges synchronously; a
	// snapshot older than the last one written is skipped.
	seq       uint64
	persistMu sync.Mutex
	saved     uint64
	persist   Persister

	obsMu     sync.RWMutex
	observers map[int]func(State)
	nextObs   int

	unsubscribe func()
	closeOnce   sync.Once
	logger      zerolog.Logger
}

// NewStore hydrates from the stored snapshot, user included, and starts
// following sibling writes, which never carry the user over.
func NewStore(ctx context.Context, p Persister, logger zerolog.Logger) *Store {
	s := &Store{
		persist:   p,
		observers: make(map[int]func(State)),
		logger:    logger.With().Str("component", "state_store").Logger(),
	}

	if snap, ok := p.Load(ctx); ok {
		s.state = s.state.Merge(snap, true)
		s.logger.Debug().
			Int("problem_index", s.state.CurrentProblemIndex).
			Bool("has_session", s.state.CurrentSession != nil).
			Msg("hydrated from stored snapshot")
	}

	s.unsubscribe = p.Subscribe(s.mergeSibling)
	return s
}

func (s *Store) mergeSibling(n storage.Notification) {
	s.mu.Lock()
	s.state = s.state.Merge(n.Snapshot, false)
	current := s.state
	s.mu.Unlock()

	s.logger.Debug().Str("from", n.Origin).Msg("merged sibling snapshot")
	s.notify(current)
}

// apply runs a transition and, when persist is set, saves the result.
func (s *Store) apply(ctx context.Context, persist bool, transition func(State) (State, bool)) bool {
	s.mu.Lock()
	next, changed := transition(s.state)
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.seq++
	seq := s.seq
	snap := next.Snapshot()
	s.mu.Unlock()

	if persist {
		s.write(seq, func() { s.persist.Save(ctx, snap) })
	}
	s.notify(next)
	return true
}

// write runs op unless a later mutation has already reached the backend.
func (s *Store) write(seq uint64, op func()) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if seq <= s.saved {
		return
	}
	op()
	s.saved = seq
}

func always(f func(State) State) func(State) (State, bool) {
	return func(st State) (State, bool) { return f(st), true }
}

func (s *Store) SetUser(ctx context.Context, identity *types.UserIdentity) {
	s.apply(ctx, true, always(func(st State) State { return st.SetUser(identity) }))
}

// SetSession replaces the session and resets progress in one save.
func (s *Store) SetSession(ctx context.Context, session *types.Session) {
	s.apply(ctx, true, always(func(st State) State { return st.SetSession(session) }))
}

// SetSessionLink is kept in memory only.
func (s *Store) SetSessionLink(link string) {
	s.apply(context.Background(), false, always(func(st State) State { return st.SetSessionLink(link) }))
}

func (s *Store) UpdateCode(ctx context.Context, code string) {
	s.apply(ctx, true, always(func(st State) State { return st.UpdateCode(code) }))
}

func (s *Store) SetExecutionResult(ctx context.Context, result *types.ExecutionResult) {
	s.apply(ctx, true, always(func(st State) State { return st.SetExecutionResult(result) }))
}

// NextProblem reports whether the index advanced. Nothing is saved at the
// last problem.
func (s *Store) NextProblem(ctx context.Context) bool {
	return s.apply(ctx, true, State.NextProblem)
}

func (s *Store) EndSession(ctx context.Context) {
	s.apply(ctx, true, always(State.EndSession))
}

// Reset clears every field and deletes the stored snapshot.
func (s *Store) Reset(ctx context.Context) {
	s.mu.Lock()
	s.state = State{}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.write(seq, func() { s.persist.Clear(ctx) })
	s.notify(State{})
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnChange registers fn to receive the state after every local mutation
// or sibling merge. fn runs on the mutating goroutine.
func (s *Store) OnChange(fn func(State)) (cancel func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Store) notify(st State) {
	s.obsMu.RLock()
	fns := make([]func(State), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.RUnlock()

	for _, fn := range fns {
		fn(st)
	}
}

// Close stops following sibling writes.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}
