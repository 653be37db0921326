package stafflinesdk

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

// Client is a minimal Staffline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// UserID is sent as X-User-Id when no credentials are set. The server
	// only honours it when legacy headers are enabled.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, for example http://127.0.0.1:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Resource struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Status     string `json:"status"`
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ClientName  string `json:"client_name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id"`
	Status      string `json:"status"`
}

type Assignment struct {
	ID         string `json:"id"`
	ResourceID string `json:"resource_id"`
	ProjectID  string `json:"project_id"`
	Role       string `json:"role"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Status     string `json:"status"`
}

type PlanItem struct {
	ResourceID string `json:"resource_id"`
	Role       string `json:"role"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

// Request is an assignment request (partial).
type Request struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	RequesterID     string     `json:"requester_id"`
	ProjectID       *string    `json:"project_id,omitempty"`
	ResourceID      *string    `json:"resource_id,omitempty"`
	AssignmentID    *string    `json:"assignment_id,omitempty"`
	Role            string     `json:"role,omitempty"`
	StartDate       string     `json:"start_date,omitempty"`
	NewEndDate      string     `json:"new_end_date,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	Plan            []PlanItem `json:"plan,omitempty"`
}

// SubmitInput carries the fields of a new request. Which ones are required
// depends on Type.
type SubmitInput struct {
	Type         string     `json:"type"`
	ResourceID   string     `json:"resource_id,omitempty"`
	ProjectID    string     `json:"project_id,omitempty"`
	Role         string     `json:"role,omitempty"`
	StartDate    string     `json:"start_date,omitempty"`
	EndDate      string     `json:"end_date,omitempty"`
	AssignmentID string     `json:"assignment_id,omitempty"`
	NewEndDate   string     `json:"new_end_date,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	ProjectName  string     `json:"project_name,omitempty"`
	ClientName   string     `json:"client_name,omitempty"`
	Description  string     `json:"description,omitempty"`
	Plan         []PlanItem `json:"plan,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	ActivityType string `json:"activity_type"`
	ProjectID    string `json:"project_id"`
	ResourceID   string `json:"resource_id"`
	ActorID      string `json:"actor_id"`
	Description  string `json:"description"`
	Automatic    bool   `json:"automatic"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type ReconcileReport struct {
	Today       string `json:"today"`
	Activated   int    `json:"activated"`
	Expired     int    `json:"expired"`
	Released    int    `json:"released"`
	Synced      int    `json:"synced"`
	Closed      int    `json:"closed"`
	Deferred    int    `json:"deferred"`
	Corrections int    `json:"corrections"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Reason returns the invalid-state reason of a 409 response, if any.
func (e *APIError) Reason() string {
	if r, ok := e.Details["reason"].(string); ok {
		return r
	}
	return ""
}

func (c *Client) CreateResource(ctx context.Context, name, email string) (Resource, error) {
	var resp Resource
	err := c.do(ctx, http.MethodPost, "resources", map[string]any{"name": name, "email": email}, &resp)
	return resp, err
}

func (c *Client) GetResource(ctx context.Context, id string) (Resource, error) {
	var resp Resource
	err := c.do(ctx, http.MethodGet, "resources/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) CreateProject(ctx context.Context, name, clientName, ownerID string) (Project, error) {
	body := map[string]any{"name": name, "client_name": clientName}
	if ownerID != "" {
		body["owner_id"] = ownerID
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Assign directly assigns a resource. Requires an admin caller.
func (c *Client) Assign(ctx context.Context, resourceID, projectID, role, startDate, endDate string) (Assignment, error) {
	body := map[string]any{
		"resource_id": resourceID,
		"project_id":  projectID,
		"role":        role,
		"start_date":  startDate,
		"end_date":    endDate,
	}
	var resp Assignment
	err := c.do(ctx, http.MethodPost, "assignments", body, &resp)
	return resp, err
}

func (c *Client) Extend(ctx context.Context, assignmentID, newEndDate, reason string) (Assignment, error) {
	body := map[string]any{"new_end_date": newEndDate}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Assignment
	err := c.do(ctx, http.MethodPost, "assignments/"+url.PathEscape(assignmentID)+"/extend", body, &resp)
	return resp, err
}

// Release ends an assignment. An empty releaseDate means today.
func (c *Client) Release(ctx context.Context, assignmentID, releaseDate, reason string) (Assignment, error) {
	body := map[string]any{}
	if releaseDate != "" {
		body["release_date"] = releaseDate
	}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Assignment
	err := c.do(ctx, http.MethodPost, "assignments/"+url.PathEscape(assignmentID)+"/release", body, &resp)
	return resp, err
}

func (c *Client) SubmitRequest(ctx context.Context, in SubmitInput) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "requests", in, &resp)
	return resp, err
}

func (c *Client) ApproveRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "requests/"+url.PathEscape(id)+"/approve", nil, &resp)
	return resp, err
}

func (c *Client) RejectRequest(ctx context.Context, id, reason string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "requests/"+url.PathEscape(id)+"/reject", map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Reconcile runs reconciliation. An empty today uses the server clock.
func (c *Client) Reconcile(ctx context.Context, today string) (ReconcileReport, error) {
	body := map[string]any{}
	if today != "" {
		body["today"] = today
	}
	var resp ReconcileReport
	err := c.do(ctx, http.MethodPost, "reconcile", body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
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
