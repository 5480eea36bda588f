// Package state holds a participant's view of an interview session.
//
// State is a plain value with pure transitions. Store wraps it with
// locking and persistence so that every execution context sharing a
// storage slot converges on the last write.
package state

import (
	"fmt"

	"livesync/internal/storage"
	"livesync/pkg/types"
)

// State is the client-local session aggregate. Sessions and results are
// shared by pointer and must not be modified after they are handed in.
type State struct {
	CurrentUser    *types.UserIdentity
	CurrentSession *types.Session
	// SessionLink is ephemeral and never persisted.
	SessionLink         string
	CurrentProblemIndex int
	CandidateCode       string
	ExecutionResult     *types.ExecutionResult
	SessionEnded        bool
}

func (s State) SetUser(identity *types.UserIdentity) State {
	s.CurrentUser = identity
	return s
}

// SetSession replaces the session and resets all per-session progress.
func (s State) SetSession(session *types.Session) State {
	s.CurrentSession = session
	s.CurrentProblemIndex = 0
	s.CandidateCode = ""
	s.ExecutionResult = nil
	s.SessionEnded = false
	return s
}

func (s State) SetSessionLink(link string) State {
	s.SessionLink = link
	return s
}

func (s State) UpdateCode(code string) State {
	s.CandidateCode = code
	return s
}

func (s State) SetExecutionResult(result *types.ExecutionResult) State {
	s.ExecutionResult = result
	return s
}

// NextProblem advances to the next problem, clearing the code and result.
// At the last problem it returns s unchanged and false.
func (s State) NextProblem() (State, bool) {
	if s.CurrentProblemIndex >= s.TotalProblems()-1 {
		return s, false
	}
	s.CurrentProblemIndex++
	s.CandidateCode = ""
	s.ExecutionResult = nil
	return s, true
}

func (s State) EndSession() State {
	s.SessionEnded = true
	return s
}

// Reset returns the zero state.
func (s State) Reset() State {
	return State{}
}

// Merge applies the members carried by snap. The session and user are
// only taken when non-nil, and the user only when includeUser is set.
// The problem index is clamped to the resulting session's range.
func (s State) Merge(snap storage.Snapshot, includeUser bool) State {
	if snap.CurrentSession != nil {
		s.CurrentSession = snap.CurrentSession
	}
	if includeUser && snap.CurrentUser != nil {
		s.CurrentUser = snap.CurrentUser
	}
	if snap.CurrentProblemIndex.Present {
		s.CurrentProblemIndex = snap.CurrentProblemIndex.Value
	}
	if snap.CandidateCode.Present {
		s.CandidateCode = snap.CandidateCode.Value
	}
	if snap.ExecutionResult.Present {
		s.ExecutionResult = snap.ExecutionResult.Value
	}
	if snap.SessionEnded.Present {
		s.SessionEnded = snap.SessionEnded.Value
	}
	s.CurrentProblemIndex = s.clampIndex(s.CurrentProblemIndex)
	return s
}

func (s State) clampIndex(i int) int {
	if i < 0 {
		return 0
	}
	if last := s.TotalProblems() - 1; i > last {
		return max(last, 0)
	}
	return i
}

// Snapshot projects the persisted members of s. Timestamp is left for the
// persistence layer to stamp.
func (s State) Snapshot() storage.Snapshot {
	return storage.Snapshot{
		CurrentSession:      s.CurrentSession,
		CurrentUser:         s.CurrentUser,
		CurrentProblemIndex: storage.Set(s.CurrentProblemIndex),
		CandidateCode:       storage.Set(s.CandidateCode),
		ExecutionResult:     storage.Set(s.ExecutionResult),
		SessionEnded:        storage.Set(s.SessionEnded),
	}
}

func (s State) IsInterviewer() bool {
	return s.CurrentUser != nil && s.CurrentUser.Role == types.RoleInterviewer
}

func (s State) IsCandidate() bool {
	return s.CurrentUser != nil && s.CurrentUser.Role == types.RoleCandidate
}

// CurrentProblem returns nil when there is no session or the index is out
// of range.
func (s State) CurrentProblem() *types.Problem {
	if s.CurrentSession == nil {
		return nil
	}
	if s.CurrentProblemIndex < 0 || s.CurrentProblemIndex >= len(s.CurrentSession.Problems) {
		return nil
	}
	p := s.CurrentSession.Problems[s.CurrentProblemIndex]
	return &p
}

func (s State) TotalProblems() int {
	if s.CurrentSession == nil {
		return 0
	}
	return len(s.CurrentSession.Problems)
}

// ProgressText renders "Task i of n", or "" without a session.
func (s State) ProgressText() string {
	if s.CurrentSession == nil {
		return ""
	}
	return fmt.Sprintf("Task %d of %d", s.CurrentProblemIndex+1, s.TotalProblems())
}
