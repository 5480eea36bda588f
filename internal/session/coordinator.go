// Package session binds the channel protocol to a participant's state.
//
// A Coordinator owns one channel and one state store. Local actions update
// the store and are announced on the channel; envelopes from the other
// participant are applied to the store.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"livesync/internal/router"
	"livesync/internal/state"
	"livesync/pkg/types"
)

// Channel is the part of *connection.Manager the coordinator drives.
type Channel interface {
	Connect(sessionID string, identity types.UserIdentity) error
	Disconnect()
	On(msgType string, h router.Handler)
	Send(v any) bool
	SendCodeUpdate(code string, problemID, problemIndex int) bool
	SendProblemChange(problemIndex, problemID int) bool
}

// Coordinator keeps a participant's state and channel in step.
type Coordinator struct {
	ch     Channel
	store  *state.Store
	logger zerolog.Logger

	mu       sync.RWMutex
	onNotice func(types.Envelope)
}

// NewCoordinator takes ownership of ch and store.
func NewCoordinator(ch Channel, store *state.Store, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		ch:     ch,
		store:  store,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// OnNotice registers the observer for presence, status and relay error
// envelopes. It runs on the channel's event goroutine.
func (c *Coordinator) OnNotice(fn func(types.Envelope)) {
	c.mu.Lock()
	c.onNotice = fn
	c.mu.Unlock()
}

// Store exposes the underlying state store for reads and observers.
func (c *Coordinator) Store() *state.Store { return c.store }

// Open starts a fresh view of session as user and joins its channel.
func (c *Coordinator) Open(ctx context.Context, session *types.Session, user types.UserIdentity) error {
	if session == nil {
		return ErrNoSession
	}
	if !types.IsValidSessionID(session.ID) {
		return types.ErrInvalidSessionID
	}
	if err := user.Validate(); err != nil {
		return err
	}

	c.store.SetUser(ctx, &user)
	c.store.SetSession(ctx, session)
	return c.join(session.ID, user)
}

// Resume rejoins the session held in the hydrated state, as after a
// restart. It reports false when there is nothing to resume.
func (c *Coordinator) Resume() (bool, error) {
	st := c.store.State()
	switch {
	case st.CurrentSession == nil:
		return false, nil
	case st.CurrentUser == nil:
		return false, nil
	case st.SessionEnded:
		return false, nil
	}
	if err := c.join(st.CurrentSession.ID, *st.CurrentUser); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Coordinator) join(sessionID string, user types.UserIdentity) error {
	c.bind()
	if err := c.ch.Connect(sessionID, user); err != nil {
		return fmt.Errorf("failed to join session %s: %w", sessionID, err)
	}
	c.logger.Info().
		Str("session_id", sessionID).
		Str("user", user.Name).
		Str("role", string(user.Role)).
		Msg("joined session")
	return nil
}

// bind registers the inbound handlers. Disconnect clears them, so every
// join binds again.
func (c *Coordinator) bind() {
	c.ch.On(types.TypeCodeUpdate, c.handleCodeUpdate)
	c.ch.On(types.TypeProblemChange, c.handleProblemChange)
	c.ch.On(types.TypeCodeResult, c.handleCodeResult)
	c.ch.On(types.TypeSessionEnded, c.handleSessionEnded)
	for _, t := range []string{types.TypeUserJoined, types.TypeUserLeft, types.TypeConnectionStatus, types.TypeError} {
		c.ch.On(t, c.forwardNotice)
	}
}

func (c *Coordinator) handleCodeUpdate(env types.Envelope) {
	var msg types.CodeUpdate
	if err := env.Decode(&msg); err != nil {
		c.logger.Warn().Err(err).Msg("bad code_update")
		return
	}
	// Edits for a problem this side has already left are stale.
	if msg.ProblemIndex != c.store.State().CurrentProblemIndex {
		c.logger.Debug().Int("problem_index", msg.ProblemIndex).Msg("ignoring code for another problem")
		return
	}
	c.store.UpdateCode(context.Background(), msg.Code)
}

func (c *Coordinator) handleProblemChange(env types.Envelope) {
	var msg types.ProblemChange
	if err := env.Decode(&msg); err != nil {
		c.logger.Warn().Err(err).Msg("bad problem_change")
		return
	}
	ctx := context.Background()
	for c.store.State().CurrentProblemIndex < msg.ProblemIndex {
		if !c.store.NextProblem(ctx) {
			break
		}
	}
}

func (c *Coordinator) handleCodeResult(env types.Envelope) {
	var msg types.CodeResult
	if err := env.Decode(&msg); err != nil {
		c.logger.Warn().Err(err).Msg("bad code_result")
		return
	}
	if p := c.store.State().CurrentProblem(); p != nil && msg.ProblemID != 0 && p.ID != msg.ProblemID {
		c.logger.Debug().Int("problem_id", msg.ProblemID).Msg("ignoring result for another problem")
		return
	}
	c.store.SetExecutionResult(context.Background(), &types.ExecutionResult{
		Success: msg.Success,
		Output:  msg.Output,
		Error:   msg.Error,
	})
}

func (c *Coordinator) handleSessionEnded(env types.Envelope) {
	c.logger.Info().Msg("session ended by the relay")
	c.store.EndSession(context.Background())
	c.ch.Disconnect()
	c.forwardNotice(env)
}

func (c *Coordinator) forwardNotice(env types.Envelope) {
	c.mu.RLock()
	fn := c.onNotice
	c.mu.RUnlock()
	if fn != nil {
		fn(env)
	}
}

// EditCode records the candidate's editor contents and shares them.
func (c *Coordinator) EditCode(ctx context.Context, code string) error {
	st := c.store.State()
	if err := writable(st); err != nil {
		return err
	}
	c.store.UpdateCode(ctx, code)
	c.ch.SendCodeUpdate(code, problemID(st), st.CurrentProblemIndex)
	return nil
}

// NextProblem advances both sides to the next problem. It reports false at
// the last problem.
func (c *Coordinator) NextProblem(ctx context.Context) bool {
	if c.store.State().SessionEnded {
		return false
	}
	if !c.store.NextProblem(ctx) {
		return false
	}
	st := c.store.State()
	c.ch.SendProblemChange(st.CurrentProblemIndex, problemID(st))
	return true
}

// RunCode asks the relay to execute the current code. The answer arrives
// as a code_result envelope.
func (c *Coordinator) RunCode(ctx context.Context) error {
	st := c.store.State()
	if err := writable(st); err != nil {
		return err
	}
	c.ch.Send(types.RunCode{
		Type:      types.TypeRunCode,
		ProblemID: problemID(st),
		Code:      st.CandidateCode,
	})
	return nil
}

// RecordResult stores a result obtained outside the channel.
func (c *Coordinator) RecordResult(ctx context.Context, result *types.ExecutionResult) {
	c.store.SetExecutionResult(ctx, result)
}

// End marks the session ended locally and closes the channel.
func (c *Coordinator) End(ctx context.Context) {
	c.store.EndSession(ctx)
	c.ch.Disconnect()
}

// Leave closes the channel and keeps the state for a later Resume.
func (c *Coordinator) Leave() {
	c.ch.Disconnect()
}

func writable(st state.State) error {
	switch {
	case st.CurrentSession == nil:
		return ErrNoSession
	case st.SessionEnded:
		return ErrSessionEnded
	}
	return nil
}

func problemID(st state.State) int {
	if p := st.CurrentProblem(); p != nil {
		return p.ID
	}
	return 0
}
