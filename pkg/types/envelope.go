package types

import (
	"encoding/json"
	"fmt"
)

// Envelope types carried over the session channel.
const (
	TypeCodeUpdate       = "code_update"
	TypeProblemChange    = "problem_change"
	TypeRunCode          = "run_code"
	TypeCodeResult       = "code_result"
	TypeUserJoined       = "user_joined"
	TypeUserLeft         = "user_left"
	TypeConnectionStatus = "connection_status"
	TypeSessionEnded     = "session_ended"
	TypeError            = "error"
)

// Envelope is a type-discriminated message: a JSON object with a string
// "type" member and arbitrary other members. The original bytes are kept so
// handlers can decode into whichever payload struct they expect.
type Envelope struct {
	Type string
	raw  json.RawMessage
}

// ParseEnvelope decodes a channel frame. The frame must be a JSON object
// with a non-empty string "type".
func ParseEnvelope(data []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Envelope{}, ErrInvalidEnvelope
	}
	rawType, ok := fields["type"]
	if !ok {
		return Envelope{}, ErrMissingType
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil || typ == "" {
		return Envelope{}, ErrMissingType
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Envelope{Type: typ, raw: raw}, nil
}

// NewEnvelope marshals a payload struct into an envelope.
func NewEnvelope(payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return ParseEnvelope(data)
}

// Decode unmarshals the full envelope into v.
func (e Envelope) Decode(v any) error {
	if len(e.raw) == 0 {
		return ErrInvalidEnvelope
	}
	return json.Unmarshal(e.raw, v)
}

// Fields returns every member of the envelope, including "type".
func (e Envelope) Fields() (map[string]any, error) {
	fields := map[string]any{}
	if err := e.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Raw returns the frame bytes the envelope was parsed from.
func (e Envelope) Raw() json.RawMessage {
	return e.raw
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if len(e.raw) == 0 {
		return json.Marshal(map[string]string{"type": e.Type})
	}
	return e.raw, nil
}

// CodeUpdate carries the candidate's editor contents.
type CodeUpdate struct {
	Type         string `json:"type"`
	Code         string `json:"code"`
	ProblemID    int    `json:"problemId"`
	ProblemIndex int    `json:"problemIndex"`
}

// ProblemChange announces that the session moved to another problem.
type ProblemChange struct {
	Type         string `json:"type"`
	ProblemIndex int    `json:"problemIndex"`
	ProblemID    int    `json:"problemId"`
}

// RunCode asks the relay to execute code for a problem.
type RunCode struct {
	Type      string `json:"type"`
	ProblemID int    `json:"problemId"`
	Code      string `json:"code"`
}

// CodeResult is the relay's answer to RunCode.
type CodeResult struct {
	Type        string `json:"type"`
	ProblemID   int    `json:"problemId"`
	Success     bool   `json:"success"`
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	TestResults []any  `json:"testResults,omitempty"`
}

// Presence is used for both user_joined and user_left.
type Presence struct {
	Type     string `json:"type"`
	UserName string `json:"userName"`
	Role     Role   `json:"role"`
}

// ConnectionStatus is sent to a participant right after it joins.
type ConnectionStatus struct {
	Type        string `json:"type"`
	Status      string `json:"status"`
	SessionID   string `json:"sessionId"`
	ActiveUsers int    `json:"activeUsers"`
}

// SessionEnded is pushed when the interviewer ends the session.
type SessionEnded struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ErrorMessage reports a relay-side problem with a frame we sent.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
