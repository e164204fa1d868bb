// Package client talks to a debate server over its REST API and WebSocket
// stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/gateway"
	"github.com/raphaelgruber/policy-debate/internal/server"
	"github.com/raphaelgruber/policy-debate/internal/session"
)

// Client is an HTTP client for the debate server.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
}

// New creates a client.
// If baseURL is empty, uses DEBATE_SERVER_URL or defaults to localhost:8080.
// The client ID used for session control comes from DEBATE_CLIENT_ID or is
// generated per process.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("DEBATE_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("DEBATE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	id := os.Getenv("DEBATE_CLIENT_ID")
	if id == "" {
		id = uuid.NewString()
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   id,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithClientID returns a copy of c that identifies itself as id.
func (c *Client) WithClientID(id string) *Client {
	cp := *c
	cp.clientID = id
	return &cp
}

// ClientID returns the ID sent with commands.
func (c *Client) ClientID() string {
	return c.clientID
}

// APIError is a non-2xx reply. It unwraps to the matching debate error so
// callers can use errors.Is(err, debate.ErrNotFound).
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %d", e.Status)
	}
	return fmt.Sprintf("server error: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case debate.CodeConfiguration:
		return debate.ErrConfiguration
	case debate.CodeGenerationFailed:
		return debate.ErrGeneration
	case debate.CodeProtocol:
		return debate.ErrProtocol
	case debate.CodeState:
		return debate.ErrState
	case debate.CodeNotController:
		return session.ErrNotController
	case debate.CodeNotFound:
		return debate.ErrNotFound
	}
	return nil
}

// do sends a request and decodes a JSON reply into out. body may be nil, a
// []byte sent as is, or a value encoded as JSON.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Client-ID", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e server.ErrorResponse
		if json.Unmarshal(data, &e) == nil {
			apiErr.Code, apiErr.Message = e.Code, e.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	switch dst := out.(type) {
	case nil:
	case *string:
		*dst = string(data)
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// CreateSession starts a debate on a policy.
func (c *Client) CreateSession(ctx context.Context, policyID string, cfg server.ConfigOverrides) (*server.CreateSessionResponse, error) {
	var out server.CreateSessionResponse
	if err := c.do(ctx, http.MethodPost, "/sessions", server.CreateSessionRequest{PolicyID: policyID, Config: cfg}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions lists live sessions, or archived ones.
func (c *Client) ListSessions(ctx context.Context, archived bool) ([]debate.SessionSnapshot, error) {
	path := "/sessions"
	if archived {
		path += "?archived=true"
	}
	var out []debate.SessionSnapshot
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession returns a session snapshot.
func (c *Client) GetSession(ctx context.Context, id string) (*debate.SessionSnapshot, error) {
	var out debate.SessionSnapshot
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a finished session; purge also deletes the archived copy.
func (c *Client) DeleteSession(ctx context.Context, id string, purge bool) error {
	path := "/sessions/" + url.PathEscape(id)
	if purge {
		path += "?purge=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Messages returns the messages after a sequence.
func (c *Client) Messages(ctx context.Context, id string, after int64) ([]debate.Message, error) {
	var frames []gateway.Frame
	path := "/sessions/" + url.PathEscape(id) + "/messages?after=" + strconv.FormatInt(after, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &frames); err != nil {
		return nil, err
	}
	out := make([]debate.Message, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.DebateMessage(id))
	}
	return out, nil
}

// Transcript returns the Markdown transcript of a session.
func (c *Client) Transcript(ctx context.Context, id string) (string, error) {
	var out string
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id)+"/transcript", nil, &out); err != nil {
		return "", err
	}
	return out, nil
}

// SendCommand submits a control command over REST.
func (c *Client) SendCommand(ctx context.Context, id string, cmd gateway.CommandFrame) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(id)+"/commands", cmd, nil)
}

// Pause pauses a session.
func (c *Client) Pause(ctx context.Context, id string) error {
	return c.SendCommand(ctx, id, gateway.CommandFrame{Type: debate.CommandPause})
}

// Resume resumes a paused session.
func (c *Client) Resume(ctx context.Context, id string) error {
	return c.SendCommand(ctx, id, gateway.CommandFrame{Type: debate.CommandResume})
}

// End terminates a session.
func (c *Client) End(ctx context.Context, id string) error {
	return c.SendCommand(ctx, id, gateway.CommandFrame{Type: debate.CommandEnd})
}

// Say interjects a question or comment.
func (c *Client) Say(ctx context.Context, id, text string) error {
	return c.SendCommand(ctx, id, gateway.CommandFrame{Type: debate.CommandUserInput, Message: text})
}

// ListPolicies lists the policies sessions can be created from.
func (c *Client) ListPolicies(ctx context.Context) ([]debate.PolicySummary, error) {
	var out []debate.PolicySummary
	if err := c.do(ctx, http.MethodGet, "/policies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ImportPolicy uploads a Markdown policy document.
func (c *Client) ImportPolicy(ctx context.Context, name, content string) (*debate.PolicySummary, error) {
	var out debate.PolicySummary
	if err := c.do(ctx, http.MethodPost, "/policies", server.ImportPolicyRequest{Name: name, Content: content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePolicy removes an imported policy.
func (c *Client) DeletePolicy(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/policies/"+url.PathEscape(id), nil, nil)
}

// Stats returns server statistics.
func (c *Client) Stats(ctx context.Context) (*server.Stats, error) {
	var out server.Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health reports whether the server answers.
func (c *Client) Health(ctx context.Context) error {
	var out string
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return err
	}
	if strings.TrimSpace(out) != "ok" {
		return errors.New("unexpected health response: " + out)
	}
	return nil
}
