package storage

import (
	"encoding/json"
	"fmt"

	"livesync/pkg/types"
)

// Field is a snapshot member that may be missing from a stored document.
// Present distinguishes "absent" from the zero value (or an explicit null).
type Field[T any] struct {
	Value   T
	Present bool
}

// Set returns a present field holding v.
func Set[T any](v T) Field[T] {
	return Field[T]{Value: v, Present: true}
}

// Snapshot is the durable projection of the session state. The session
// link is never part of it.
//
// CurrentSession and CurrentUser are applied only when non-nil; the other
// members are applied whenever they are present, null included.
type Snapshot struct {
	CurrentSession      *types.Session
	CurrentUser         *types.UserIdentity
	CurrentProblemIndex Field[int]
	CandidateCode       Field[string]
	ExecutionResult     Field[*types.ExecutionResult]
	SessionEnded        Field[bool]
	// Timestamp is milliseconds since the Unix epoch of the save.
	Timestamp int64
}

type snapshotDocument struct {
	CurrentSession      *types.Session         `json:"currentSession"`
	CurrentUser         *types.UserIdentity    `json:"currentUser"`
	CurrentProblemIndex int                    `json:"currentProblemIndex"`
	CandidateCode       string                 `json:"candidateCode"`
	ExecutionResult     *types.ExecutionResult `json:"executionResult"`
	SessionEnded        bool                   `json:"sessionEnded"`
	Timestamp           int64                  `json:"timestamp"`
}

// MarshalJSON always writes every member; absent fields are written with
// their zero value.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotDocument{
		CurrentSession:      s.CurrentSession,
		CurrentUser:         s.CurrentUser,
		CurrentProblemIndex: s.CurrentProblemIndex.Value,
		CandidateCode:       s.CandidateCode.Value,
		ExecutionResult:     s.ExecutionResult.Value,
		SessionEnded:        s.SessionEnded.Value,
		Timestamp:           s.Timestamp,
	})
}

// UnmarshalJSON records which members the document actually carried.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	if members == nil {
		return fmt.Errorf("snapshot document is null")
	}

	var out Snapshot
	if err := decodeMember(members, "currentSession", &out.CurrentSession); err != nil {
		return err
	}
	if err := decodeMember(members, "currentUser", &out.CurrentUser); err != nil {
		return err
	}
	if err := decodeField(members, "currentProblemIndex", &out.CurrentProblemIndex); err != nil {
		return err
	}
	if err := decodeField(members, "candidateCode", &out.CandidateCode); err != nil {
		return err
	}
	if err := decodeField(members, "executionResult", &out.ExecutionResult); err != nil {
		return err
	}
	if err := decodeField(members, "sessionEnded", &out.SessionEnded); err != nil {
		return err
	}
	if err := decodeMember(members, "timestamp", &out.Timestamp); err != nil {
		return err
	}
	*s = out
	return nil
}

func decodeMember[T any](members map[string]json.RawMessage, name string, dst *T) error {
	raw, ok := members[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("snapshot member %s: %w", name, err)
	}
	return nil
}

func decodeField[T any](members map[string]json.RawMessage, name string, dst *Field[T]) error {
	raw, ok := members[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, &dst.Value); err != nil {
		return fmt.Errorf("snapshot member %s: %w", name, err)
	}
	dst.Present = true
	return nil
}

// DecodeSnapshot parses a stored document.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
