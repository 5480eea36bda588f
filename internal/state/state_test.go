package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"livesync/internal/storage"
	"livesync/pkg/types"
)

func sessionWithProblems(ids ...int) *types.Session {
	s := &types.Session{ID: "s1", Status: types.StatusActive, NumberOfProblems: len(ids)}
	for _, id := range ids {
		s.Problems = append(s.Problems, types.Problem{ID: id, Title: "p"})
	}
	return s
}

func TestState_NextProblemNeverPassesLast(t *testing.T) {
	for n := 0; n <= 4; n++ {
		ids := make([]int, n)
		for i := range ids {
			ids[i] = i + 1
		}
		for k := 0; k <= 6; k++ {
			st := State{}.SetSession(sessionWithProblems(ids...))
			for i := 0; i < k; i++ {
				st, _ = st.NextProblem()
			}
			want := min(k, max(n-1, 0))
			assert.Equal(t, want, st.CurrentProblemIndex, "n=%d k=%d", n, k)
		}
	}
}

func TestState_SetSessionResetsProgress(t *testing.T) {
	st := State{}.SetSession(sessionWithProblems(1, 2, 3))
	st, _ = st.NextProblem()
	st = st.UpdateCode("x").
		SetExecutionResult(&types.ExecutionResult{Success: true}).
		EndSession().
		SetSessionLink("http://link")

	next := st.SetSession(sessionWithProblems(9))

	assert.Equal(t, 0, next.CurrentProblemIndex)
	assert.Empty(t, next.CandidateCode)
	assert.Nil(t, next.ExecutionResult)
	assert.False(t, next.SessionEnded)
	assert.Equal(t, 9, next.CurrentProblem().ID)
	assert.Equal(t, "http://link", next.SessionLink)
}

func TestState_ProgressScenario(t *testing.T) {
	st := State{}.SetSession(sessionWithProblems(1, 2, 3))
	assert.Equal(t, "Task 1 of 3", st.ProgressText())

	var ok bool
	st, ok = st.NextProblem()
	assert.True(t, ok)
	st, ok = st.NextProblem()
	assert.True(t, ok)
	assert.Equal(t, "Task 3 of 3", st.ProgressText())

	st, ok = st.NextProblem()
	assert.False(t, ok)
	assert.Equal(t, 2, st.CurrentProblemIndex)
	assert.Equal(t, "Task 3 of 3", st.ProgressText())
}

func TestState_NextProblemClearsWork(t *testing.T) {
	st := State{}.SetSession(sessionWithProblems(1, 2)).
		UpdateCode("code").
		SetExecutionResult(&types.ExecutionResult{Output: "ok"})

	st, _ = st.NextProblem()
	assert.Empty(t, st.CandidateCode)
	assert.Nil(t, st.ExecutionResult)
}

func TestState_Derived(t *testing.T) {
	var st State
	assert.Equal(t, "", st.ProgressText())
	assert.Zero(t, st.TotalProblems())
	assert.Nil(t, st.CurrentProblem())
	assert.False(t, st.IsInterviewer())
	assert.False(t, st.IsCandidate())

	st = st.SetUser(&types.UserIdentity{Name: "Ivan", Role: types.RoleInterviewer})
	assert.True(t, st.IsInterviewer())
	assert.False(t, st.IsCandidate())

	st = st.SetUser(&types.UserIdentity{Name: "Cara", Role: types.RoleCandidate})
	assert.True(t, st.IsCandidate())

	st = st.SetSession(sessionWithProblems())
	assert.Nil(t, st.CurrentProblem())
	assert.Equal(t, "Task 1 of 0", st.ProgressText())
}

func TestState_MergeAppliesPresentMembers(t *testing.T) {
	base := State{}.
		SetUser(&types.UserIdentity{Name: "me", Role: types.RoleCandidate}).
		SetSession(sessionWithProblems(1, 2, 3)).
		UpdateCode("mine").
		SetExecutionResult(&types.ExecutionResult{Output: "old"})

	merged := base.Merge(storage.Snapshot{
		CurrentUser:         &types.UserIdentity{Name: "other", Role: types.RoleInterviewer},
		CurrentProblemIndex: storage.Set(1),
		ExecutionResult:     storage.Set[*types.ExecutionResult](nil),
	}, false)

	assert.Equal(t, "me", merged.CurrentUser.Name)
	assert.Equal(t, base.CurrentSession, merged.CurrentSession)
	assert.Equal(t, 1, merged.CurrentProblemIndex)
	assert.Equal(t, "mine", merged.CandidateCode)
	assert.Nil(t, merged.ExecutionResult)

	withUser := base.Merge(storage.Snapshot{
		CurrentUser: &types.UserIdentity{Name: "other", Role: types.RoleInterviewer},
	}, true)
	assert.Equal(t, "other", withUser.CurrentUser.Name)
}

func TestState_MergeClampsIndex(t *testing.T) {
	st := State{}.Merge(storage.Snapshot{
		CurrentSession:      sessionWithProblems(1, 2),
		CurrentProblemIndex: storage.Set(7),
	}, true)
	assert.Equal(t, 1, st.CurrentProblemIndex)

	st = State{}.Merge(storage.Snapshot{CurrentProblemIndex: storage.Set(-3)}, true)
	assert.Equal(t, 0, st.CurrentProblemIndex)
}

func TestState_SnapshotExcludesLink(t *testing.T) {
	st := State{}.SetSession(sessionWithProblems(1)).SetSessionLink("secret").UpdateCode("c")
	snap := st.Snapshot()

	restored := State{}.Merge(snap, true)
	assert.Empty(t, restored.SessionLink)
	assert.Equal(t, "c", restored.CandidateCode)
}
