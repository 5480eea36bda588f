// Package api is a client for the session and problem CRUD service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"livesync/pkg/types"
)

// Client calls the CRUD service. GET requests are retried on transport
// errors and 5xx answers; writes are sent once.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
	retryDelay time.Duration
	logger     zerolog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetries sets how many times a failed read is retried and the first
// delay between tries.
func WithRetries(n uint64, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
		c.retryDelay = delay
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 2,
		retryDelay: 200 * time.Millisecond,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "api_client").Logger()
	return c, nil
}

// CreateSessionRequest is the interviewer's setup form.
type CreateSessionRequest struct {
	InterviewerName  string           `json:"interviewerName"`
	Difficulty       types.Difficulty `json:"difficulty"`
	Language         string           `json:"language"`
	NumberOfProblems int              `json:"numberOfProblems"`
}

func (r CreateSessionRequest) Validate() error {
	if n := len([]rune(strings.TrimSpace(r.InterviewerName))); n < 3 {
		return fmt.Errorf("%w: interviewer name must be at least 3 characters", ErrInvalidRequest)
	}
	if !r.Difficulty.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, types.ErrInvalidDifficulty)
	}
	if r.NumberOfProblems < 1 || r.NumberOfProblems > 5 {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, types.ErrInvalidProblemCount)
	}
	if r.Language == "" {
		return fmt.Errorf("%w: language is required", ErrInvalidRequest)
	}
	return nil
}

// CreatedSession is the new session and the code candidates join with.
type CreatedSession struct {
	Session  types.Session `json:"session"`
	LinkCode string        `json:"linkCode"`
}

// SessionInfo is the limited view shown on the candidate join page.
type SessionInfo struct {
	ID               string           `json:"id"`
	Difficulty       types.Difficulty `json:"difficulty"`
	Language         string           `json:"language"`
	NumberOfProblems int              `json:"numberOfProblems"`
	Interviewer      struct {
		Name string `json:"name"`
	} `json:"interviewer"`
}

// ProblemQuery filters ListProblems. Zero members are omitted.
type ProblemQuery struct {
	Difficulty types.Difficulty
	Language   string
	Count      int
}

type sessionEnvelope struct {
	Session types.Session `json:"session"`
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreatedSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var out CreatedSession
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &out); err != nil {
		return nil, err
	}
	out.Session.LinkCode = out.LinkCode
	return &out, nil
}

func (c *Client) GetSessionByLink(ctx context.Context, linkCode string) (*SessionInfo, error) {
	var out struct {
		Session SessionInfo `json:"session"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions/by-link/"+url.PathEscape(linkCode), nil, &out); err != nil {
		return nil, err
	}
	return &out.Session, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var out sessionEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Session, nil
}

// JoinSession registers the candidate and returns the full session.
func (c *Client) JoinSession(ctx context.Context, sessionID, candidateName string) (*types.Session, error) {
	if len([]rune(strings.TrimSpace(candidateName))) < 3 {
		return nil, fmt.Errorf("%w: candidate name must be at least 3 characters", ErrInvalidRequest)
	}
	body := map[string]string{"candidateName": candidateName}
	var out sessionEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/join", body, &out); err != nil {
		return nil, err
	}
	return &out.Session, nil
}

func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/end", nil, nil)
}

func (c *Client) ListProblems(ctx context.Context, q ProblemQuery) ([]types.Problem, error) {
	params := url.Values{}
	if q.Difficulty != "" {
		params.Set("difficulty", string(q.Difficulty))
	}
	if q.Language != "" {
		params.Set("language", q.Language)
	}
	if q.Count > 0 {
		params.Set("count", strconv.Itoa(q.Count))
	}
	path := "/api/problems"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out struct {
		Problems []types.Problem `json:"problems"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Problems, nil
}

// SubmitEvaluations stores the interviewer's ratings and returns the
// evaluation id.
func (c *Client) SubmitEvaluations(ctx context.Context, sessionID string, evaluations []types.Evaluation) (string, error) {
	if len(evaluations) == 0 {
		return "", fmt.Errorf("%w: no evaluations", ErrInvalidRequest)
	}
	for _, e := range evaluations {
		if e.Rating < 1 || e.Rating > 5 {
			return "", fmt.Errorf("%w: rating for problem %d must be 1-5", ErrInvalidRequest, e.ProblemID)
		}
	}
	body := map[string][]types.Evaluation{"evaluations": evaluations}
	var out struct {
		Success      bool   `json:"success"`
		EvaluationID string `json:"evaluationId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/evaluate", body, &out); err != nil {
		return "", err
	}
	return out.EvaluationID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	attempt := func() error {
		err := c.roundTrip(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	if method != http.MethodGet || c.maxRetries == 0 {
		return c.roundTrip(ctx, method, path, payload, out)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryDelay
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)

	return backoff.RetryNotify(attempt, policy, func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("path", path).Dur("retry_in", wait).Msg("request failed, retrying")
	})
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// decodeError understands both {"detail": {"error", "message"}} and
// {"detail": "text"} bodies.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(data, &body) != nil || len(body.Detail) == 0 {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}

	var detail struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body.Detail, &detail) == nil {
		apiErr.Code = detail.Error
		apiErr.Message = detail.Message
		return apiErr
	}
	var text string
	if json.Unmarshal(body.Detail, &text) == nil {
		apiErr.Message = text
	}
	return apiErr
}
