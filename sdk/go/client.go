package grievlinesdk

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
)

// Client is a minimal Grievline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
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

// Grievance represents the API grievance model (partial).
type Grievance struct {
	ID                   string       `json:"id"`
	Title                string       `json:"title"`
	Description          string       `json:"description"`
	Category             string       `json:"category"`
	Status               string       `json:"status"`
	Priority             string       `json:"priority"`
	SubmitterID          string       `json:"submitter_id"`
	AssignedDepartmentID string       `json:"assigned_department_id,omitempty"`
	AssignedUserID       string       `json:"assigned_user_id,omitempty"`
	Constituency         string       `json:"constituency,omitempty"`
	CreatedAt            string       `json:"created_at"`
	UpdatedAt            string       `json:"updated_at"`
	ResolvedAt           string       `json:"resolved_at,omitempty"`
	Version              int64        `json:"version"`
	History              []Transition `json:"history,omitempty"`
}

// Transition is one step of a grievance's history.
type Transition struct {
	Seq     int64  `json:"seq"`
	From    string `json:"from_status"`
	To      string `json:"to_status"`
	ActorID string `json:"actor_id"`
	Note    string `json:"note,omitempty"`
	TS      string `json:"ts"`
}

// Comment is a public or internal note on a grievance.
type Comment struct {
	ID          string `json:"id"`
	GrievanceID string `json:"grievance_id"`
	AuthorID    string `json:"author_id"`
	Body        string `json:"body"`
	Internal    bool   `json:"internal"`
	CreatedAt   string `json:"created_at"`
}

// Notification is an entry of a user's feed.
type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	Kind      string `json:"kind"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// Stats is the dashboard summary.
type Stats struct {
	TotalCount               int64            `json:"total_count"`
	CountByStatus            map[string]int64 `json:"count_by_status"`
	CountByDepartment        map[string]int64 `json:"count_by_department"`
	CountByPriority          map[string]int64 `json:"count_by_priority"`
	AverageResolutionSeconds *float64         `json:"average_resolution_seconds,omitempty"`
}

// Identity is the authenticated caller as reported by the server.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Source string `json:"source"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedGrievances wraps list responses with cursors.
type PaginatedGrievances struct {
	Items      []Grievance `json:"items"`
	NextCursor string      `json:"next_cursor"`
}

// PaginatedEvents wraps audit log pages.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// NotificationFeed is one page of a user's feed plus their unread badge.
type NotificationFeed struct {
	Items       []Notification `json:"items"`
	UnreadCount int64          `json:"unread_count"`
	NextCursor  string         `json:"next_cursor"`
}

// SubmitInput carries the fields of a new grievance.
type SubmitInput struct {
	Title        string
	Description  string
	Category     string
	Priority     string
	Address      string
	Constituency string
	SubmitterID  string
	Attachments  []string
}

// Login exchanges admin credentials for a bearer token and stores it on the
// client for subsequent calls.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	var resp struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := c.do(ctx, http.MethodPost, c.apiPath("auth/login"), body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// Me returns the authenticated identity.
func (c *Client) Me(ctx context.Context) (Identity, error) {
	var resp Identity
	err := c.do(ctx, http.MethodGet, c.apiPath("me"), nil, &resp)
	return resp, err
}

// Submit files a grievance.
func (c *Client) Submit(ctx context.Context, in SubmitInput) (Grievance, error) {
	body := map[string]any{
		"title":       in.Title,
		"description": in.Description,
		"category":    in.Category,
	}
	if in.Priority != "" {
		body["priority"] = in.Priority
	}
	if in.Address != "" {
		body["address"] = in.Address
	}
	if in.Constituency != "" {
		body["constituency"] = in.Constituency
	}
	if in.SubmitterID != "" {
		body["submitter_id"] = in.SubmitterID
	}
	if len(in.Attachments) > 0 {
		body["attachments"] = in.Attachments
	}
	var resp Grievance
	err := c.do(ctx, http.MethodPost, c.apiPath("grievances"), body, &resp)
	return resp, err
}

// Grievance fetches one grievance with its history.
func (c *Client) Grievance(ctx context.Context, id string) (Grievance, error) {
	var resp Grievance
	endpoint := c.apiPath(fmt.Sprintf("grievances/%s", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Grievances returns the first page of grievances visible to the caller.
func (c *Client) Grievances(ctx context.Context, limit int) ([]Grievance, error) {
	page, err := c.GrievancesPage(ctx, limit, "")
	return page.Items, err
}

// GrievancesPage returns a paginated grievance listing.
func (c *Client) GrievancesPage(ctx context.Context, limit int, cursor string) (PaginatedGrievances, error) {
	endpoint := c.apiPath("grievances")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedGrievances
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetStatus moves a grievance to a new lifecycle status.
func (c *Client) SetStatus(ctx context.Context, id, status, note string) (Grievance, error) {
	body := map[string]any{
		"status": status,
	}
	if note != "" {
		body["note"] = note
	}
	var resp Grievance
	endpoint := c.apiPath(fmt.Sprintf("grievances/%s/status", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// Assign routes a grievance to a department and optionally an assignee.
// Empty departmentID lets the server pick the category route.
func (c *Client) Assign(ctx context.Context, id, departmentID, assigneeID, note string) (Grievance, error) {
	body := map[string]any{}
	if departmentID != "" {
		body["department_id"] = departmentID
	}
	if assigneeID != "" {
		body["assignee_id"] = assigneeID
	}
	if note != "" {
		body["note"] = note
	}
	var resp Grievance
	endpoint := c.apiPath(fmt.Sprintf("grievances/%s/assign", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Withdraw retracts the caller's own grievance while it is still
// submitted. Once review has started, move it with SetStatus instead.
func (c *Client) Withdraw(ctx context.Context, id, note string) (Grievance, error) {
	endpoint := c.apiPath(fmt.Sprintf("grievances/%s", url.PathEscape(id)))
	if note != "" {
		endpoint = fmt.Sprintf("%s?note=%s", endpoint, url.QueryEscape(note))
	}
	var resp Grievance
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

// History returns the transition history for a grievance.
func (c *Client) History(ctx context.Context, id string) ([]Transition, error) {
	var resp []Transition
	endpoint := c.apiPath(fmt.Sprintf("grievances/%s/history", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddComment posts a comment on a grievance.
func (c *Client) AddComment(ctx context.Context, id, body string, internal bool) (Comment, error) {
	payload := map[string]any{
		"body":     body,
		"internal": internal,
	}
	var resp Comment
	endpoint := c.apiPath(fmt.Sprintf("grievances/%s/comments", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, payload, &resp)
	return resp, err
}

// Comments lists comments visible to the caller.
func (c *Client) Comments(ctx context.Context, id string) ([]Comment, error) {
	var resp []Comment
	endpoint := c.apiPath(fmt.Sprintf("grievances/%s/comments", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Stats returns aggregate counts. Staff only.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, c.apiPath("stats"), nil, &resp)
	return resp, err
}

// Notifications returns the caller's feed.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool, limit int) ([]Notification, error) {
	feed, err := c.NotificationsPage(ctx, unreadOnly, limit, "")
	return feed.Items, err
}

// NotificationsPage returns one feed page with the unread count and cursor.
func (c *Client) NotificationsPage(ctx context.Context, unreadOnly bool, limit int, cursor string) (NotificationFeed, error) {
	endpoint := c.apiPath("notifications")
	params := url.Values{}
	if unreadOnly {
		params.Set("unread_only", "true")
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	var resp NotificationFeed
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkNotificationRead marks one feed entry as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	endpoint := c.apiPath(fmt.Sprintf("notifications/%s/read", url.PathEscape(id)))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{}, nil)
}

// Events returns recent audit log entries. Admin only.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated audit log listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.apiPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	return "v1/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
