package integration

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livesync/internal/app"
	"livesync/internal/config"
	"livesync/internal/connection"
	"livesync/internal/relay"
	"livesync/internal/session"
	"livesync/internal/storage"
	"livesync/pkg/types"
)

const waitFor = 3 * time.Second

func interviewSession() *types.Session {
	return &types.Session{
		ID:               "interview_1",
		Status:           types.StatusActive,
		Interviewer:      types.UserIdentity{Name: "Ada", Role: types.RoleInterviewer},
		Difficulty:       types.DifficultyMiddle,
		Language:         "python",
		NumberOfProblems: 3,
		Problems: []types.Problem{
			{ID: 11, Title: "Two Sum"},
			{ID: 12, Title: "Valid Parentheses"},
			{ID: 13, Title: "Merge Intervals"},
		},
	}
}

type harness struct {
	relay *relay.Server
	cfg   *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv, err := relay.NewServer(relay.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	cfg := config.DefaultConfig()
	cfg.Server.APIBaseURL = ts.URL
	cfg.Server.WSBaseURL = "ws" + strings.TrimPrefix(ts.URL, "http")
	cfg.Storage.Driver = config.DriverMemory
	cfg.Reconnect.BaseDelay = 20 * time.Millisecond
	return &harness{relay: srv, cfg: cfg}
}

func (h *harness) participant(t *testing.T, opts ...app.ParticipantOption) *app.Participant {
	t.Helper()
	p, err := app.NewParticipant(context.Background(), h.cfg, zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func connected(p *app.Participant) func() bool {
	return func() bool { return p.Channel.State() == connection.Connected }
}

type noticeLog struct {
	mu    sync.Mutex
	kinds []string
}

func (n *noticeLog) record(env types.Envelope) {
	n.mu.Lock()
	n.kinds = append(n.kinds, env.Type)
	n.mu.Unlock()
}

func (n *noticeLog) has(kind string) func() bool {
	return func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		for _, k := range n.kinds {
			if k == kind {
				return true
			}
		}
		return false
	}
}

func TestInterview_TwoParticipantsStayInSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	interviewer := h.participant(t)
	candidateStorage := storage.NewMemoryBackend()
	defer candidateStorage.Close()
	candidate := h.participant(t, app.WithBackend(candidateStorage))
	// a second context on the candidate's machine, sharing its storage
	sibling := h.participant(t, app.WithBackend(candidateStorage))

	var notices noticeLog
	interviewer.Coordinator.OnNotice(notices.record)

	require.NoError(t, interviewer.Coordinator.Open(ctx, interviewSession(), types.UserIdentity{Name: "Ada", Role: types.RoleInterviewer}))
	require.Eventually(t, connected(interviewer), waitFor, 10*time.Millisecond)
	require.NoError(t, candidate.Coordinator.Open(ctx, interviewSession(), types.UserIdentity{Name: "Bob", Role: types.RoleCandidate}))
	require.Eventually(t, connected(candidate), waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.relay.ActivePeers("interview_1") == 2 }, waitFor, 10*time.Millisecond)
	require.Eventually(t, notices.has(types.TypeUserJoined), waitFor, 10*time.Millisecond)

	// candidate types; the interviewer sees it over the channel, the
	// sibling through storage
	require.NoError(t, candidate.Coordinator.EditCode(ctx, "def two_sum(nums, target):"))
	assert.Eventually(t, func() bool {
		return interviewer.Store.State().CandidateCode == "def two_sum(nums, target):"
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "def two_sum(nums, target):", sibling.Store.State().CandidateCode)
	assert.Nil(t, sibling.Store.State().CurrentUser, "sibling merges never carry the user")

	// interviewer moves on
	require.True(t, interviewer.Coordinator.NextProblem(ctx))
	assert.Eventually(t, func() bool {
		return candidate.Store.State().CurrentProblemIndex == 1
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "Task 2 of 3", candidate.Store.State().ProgressText())
	assert.Empty(t, candidate.Store.State().CandidateCode)
	assert.Eventually(t, func() bool {
		return sibling.Store.State().CurrentProblemIndex == 1
	}, waitFor, 10*time.Millisecond)

	// the relay answers run requests without executing
	require.NoError(t, candidate.Coordinator.RunCode(ctx))
	assert.Eventually(t, func() bool {
		r := candidate.Store.State().ExecutionResult
		return r != nil && !r.Success && r.Error != ""
	}, waitFor, 10*time.Millisecond)

	// interviewer ends the session through the API endpoint
	require.NoError(t, interviewer.API.EndSession(ctx, "interview_1"))
	assert.Eventually(t, func() bool {
		return candidate.Store.State().SessionEnded
	}, waitFor, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return candidate.Channel.State() == connection.Disconnected
	}, waitFor, 10*time.Millisecond)
	assert.ErrorIs(t, candidate.Coordinator.EditCode(ctx, "too late"), session.ErrSessionEnded)
}

func TestInterview_LeaveAndResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	shared := storage.NewMemoryBackend()
	defer shared.Close()

	var notices noticeLog
	interviewer := h.participant(t)
	interviewer.Coordinator.OnNotice(notices.record)
	require.NoError(t, interviewer.Coordinator.Open(ctx, interviewSession(), types.UserIdentity{Name: "Ada", Role: types.RoleInterviewer}))
	require.Eventually(t, connected(interviewer), waitFor, 10*time.Millisecond)

	first := h.participant(t, app.WithBackend(shared))
	require.NoError(t, first.Coordinator.Open(ctx, interviewSession(), types.UserIdentity{Name: "Bob", Role: types.RoleCandidate}))
	require.Eventually(t, connected(first), waitFor, 10*time.Millisecond)
	require.NoError(t, first.Coordinator.EditCode(ctx, "print('draft')"))

	first.Coordinator.Leave()
	require.Eventually(t, notices.has(types.TypeUserLeft), waitFor, 10*time.Millisecond)

	// a restarted process hydrates from storage and rejoins
	restarted := h.participant(t, app.WithBackend(shared))
	st := restarted.Store.State()
	require.NotNil(t, st.CurrentUser)
	assert.Equal(t, "Bob", st.CurrentUser.Name)
	assert.Equal(t, "print('draft')", st.CandidateCode)

	ok, err := restarted.Coordinator.Resume()
	require.NoError(t, err)
	require.True(t, ok)
	require.Eventually(t, connected(restarted), waitFor, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.relay.ActivePeers("interview_1") == 2 }, waitFor, 10*time.Millisecond)
}
