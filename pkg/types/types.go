package types

// Role identifies which side of the interview a participant is on.
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// SessionStatus is the server-side lifecycle of an interview session.
type SessionStatus string

const (
	StatusWaiting SessionStatus = "waiting"
	StatusActive  SessionStatus = "active"
	StatusEnded   SessionStatus = "ended"
)

// Difficulty selects the problem pool a session draws from.
type Difficulty string

const (
	DifficultyJunior Difficulty = "junior"
	DifficultyMiddle Difficulty = "middle"
	DifficultySenior Difficulty = "senior"
)

// UserIdentity is the participant's display name and role.
type UserIdentity struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Problem is a coding task. The sync layer treats it as opaque apart from ID.
type Problem struct {
	ID          int              `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Difficulty  Difficulty       `json:"difficulty,omitempty"`
	Language    string           `json:"language,omitempty"`
	StarterCode string           `json:"starterCode,omitempty"`
	TestCases   []map[string]any `json:"testCases,omitempty"`
}

// Session represents one interview between an interviewer and a candidate.
// Values handed to the state store are treated as immutable.
type Session struct {
	ID               string        `json:"id"`
	Status           SessionStatus `json:"status"`
	Interviewer      UserIdentity  `json:"interviewer"`
	Candidate        *UserIdentity `json:"candidate,omitempty"`
	Difficulty       Difficulty    `json:"difficulty"`
	Language         string        `json:"language"`
	NumberOfProblems int           `json:"numberOfProblems"`
	Problems         []Problem     `json:"problems"`
	LinkCode         string        `json:"linkCode,omitempty"`
	CreatedAt        Timestamp     `json:"createdAt"`
	EndedAt          *Timestamp    `json:"endedAt,omitempty"`
}

// ExecutionResult is the outcome of running the candidate's code.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// Evaluation is the interviewer's verdict on one problem.
type Evaluation struct {
	ProblemID     int    `json:"problemId"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment,omitempty"`
	CandidateCode string `json:"candidateCode,omitempty"`
}
