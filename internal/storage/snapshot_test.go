package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livesync/pkg/types"
)

func TestSnapshot_MarshalWritesEveryMember(t *testing.T) {
	data, err := json.Marshal(Snapshot{Timestamp: 42})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"currentSession": null,
		"currentUser": null,
		"currentProblemIndex": 0,
		"candidateCode": "",
		"executionResult": null,
		"sessionEnded": false,
		"timestamp": 42
	}`, string(data))
}

func TestDecodeSnapshot_TracksPresence(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"candidateCode":"x = 1","executionResult":null}`))
	require.NoError(t, err)

	assert.Nil(t, snap.CurrentSession)
	assert.Nil(t, snap.CurrentUser)
	assert.False(t, snap.CurrentProblemIndex.Present)
	assert.False(t, snap.SessionEnded.Present)
	assert.Equal(t, Set("x = 1"), snap.CandidateCode)
	assert.True(t, snap.ExecutionResult.Present)
	assert.Nil(t, snap.ExecutionResult.Value)
}

func TestDecodeSnapshot_FullDocument(t *testing.T) {
	in := Snapshot{
		CurrentSession: &types.Session{
			ID:         "abc",
			Status:     types.StatusActive,
			Difficulty: types.DifficultyMiddle,
			Problems:   []types.Problem{{ID: 1, Title: "Two Sum"}},
		},
		CurrentUser:         &types.UserIdentity{Name: "Ana", Role: types.RoleCandidate},
		CurrentProblemIndex: Set(0),
		CandidateCode:       Set("print(1)"),
		ExecutionResult:     Set(&types.ExecutionResult{Success: true, Output: "1"}),
		SessionEnded:        Set(false),
		Timestamp:           1700000000000,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeSnapshot_Malformed(t *testing.T) {
	for _, doc := range []string{`not json`, `null`, `[]`, `{"currentProblemIndex":"two"}`} {
		_, err := DecodeSnapshot([]byte(doc))
		assert.Error(t, err, doc)
	}
}
