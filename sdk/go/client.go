package hookahplussdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hookahplus/internal/domain"
)

// Client is a minimal Hookah+ HTTP API client.
type Client struct {
	BaseURL     string
	StaffKey    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []domain.WorkflowEvent `json:"items"`
	NextCursor string                 `json:"next_cursor"`
}

// PressResult is the event recorded by a press and the session after it.
type PressResult struct {
	Event   domain.WorkflowEvent `json:"event"`
	Session domain.Session       `json:"session"`
}

// CreateSession opens a session. An empty sessionID lets the server pick one.
func (c *Client) CreateSession(ctx context.Context, sessionID, tableID, flavorMix, prepStaffID string) (domain.Session, error) {
	body := map[string]any{
		"table_id":   tableID,
		"flavor_mix": flavorMix,
	}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	if prepStaffID != "" {
		body["prep_staff_id"] = prepStaffID
	}
	var resp domain.Session
	err := c.do(ctx, http.MethodPost, "v0/sessions", body, &resp)
	return resp, err
}

// Press presses a workflow button. Rejected presses return an *APIError whose
// Code is the rejection reason.
func (c *Client) Press(ctx context.Context, sessionID string, button domain.Button, role domain.Role, staffID string, metadata map[string]any) (PressResult, error) {
	body := map[string]any{
		"button":     button,
		"staff_role": role,
	}
	if staffID != "" {
		body["staff_id"] = staffID
	}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	var resp PressResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/sessions/%s/press", url.PathEscape(sessionID)), body, &resp)
	return resp, err
}

// GetSession fetches one session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	var resp domain.Session
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/sessions/%s", url.PathEscape(sessionID)), nil, &resp)
	return resp, err
}

// ListSessions lists sessions, optionally narrowed by status and staff id.
func (c *Client) ListSessions(ctx context.Context, status domain.Status, staffID string) ([]domain.Session, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if staffID != "" {
		q.Set("staff_id", staffID)
	}
	endpoint := "v0/sessions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []domain.Session
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SessionEvents returns the full event history of one session.
func (c *Client) SessionEvents(ctx context.Context, sessionID string) ([]domain.WorkflowEvent, error) {
	var resp []domain.WorkflowEvent
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/sessions/%s/events", url.PathEscape(sessionID)), nil, &resp)
	return resp, err
}

// EventsPage returns a page of the lounge event log after cursor.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Metrics returns lounge-wide session metrics.
func (c *Client) Metrics(ctx context.Context) (domain.SessionMetrics, error) {
	var resp domain.SessionMetrics
	err := c.do(ctx, http.MethodGet, "v0/metrics", nil, &resp)
	return resp, err
}

// Queue returns the sessions in a dashboard queue: ready, refill or coal.
func (c *Client) Queue(ctx context.Context, name string) ([]domain.Session, error) {
	var resp []domain.Session
	err := c.do(ctx, http.MethodGet, "v0/queues/"+url.PathEscape(name), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.StaffKey != "":
		req.Header.Set("X-Api-Key", c.StaffKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
