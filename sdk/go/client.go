package phaselinesdk

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

// Client is a minimal Phaseline HTTP API client.
type Client struct {
	BaseURL     string
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

// Request represents the API request model (partial).
type Request struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	RequesterID string `json:"requester_id"`
	SponsorID   string `json:"sponsor_id"`
	ProjectID   string `json:"project_id,omitempty"`
	Version     int    `json:"version"`
}

// Project represents the API project model (partial).
type Project struct {
	ID              string `json:"id"`
	Code            string `json:"code"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	Phase           string `json:"phase"`
	ProgressPercent int    `json:"progress_percent"`
	RAG             string `json:"rag"`
	Version         int    `json:"version"`
}

// ClosureRequest tracks the tri-party closure verdicts.
type ClosureRequest struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	RequesterSlot string `json:"requester_slot"`
	BusinessSlot  string `json:"business_slot"`
	ITSlot        string `json:"it_slot"`
	Completed     bool   `json:"completed"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload_json,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRequest creates a draft request.
func (c *Client) CreateRequest(ctx context.Context, title, sponsorID string, fields map[string]any) (Request, error) {
	body := map[string]any{
		"title":      title,
		"sponsor_id": sponsorID,
	}
	for k, v := range fields {
		body[k] = v
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests", body, &resp)
	return resp, err
}

// SubmitRequest submits a draft for business review.
func (c *Client) SubmitRequest(ctx context.Context, id string, overrideDuplicate bool) (Request, error) {
	var resp Request
	endpoint := fmt.Sprintf("v0/requests/%s/submit", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"override_duplicate": overrideDuplicate}, &resp)
	return resp, err
}

// BusinessApprove records the sponsor's approval.
func (c *Client) BusinessApprove(ctx context.Context, id string, amendments map[string]any) (Request, error) {
	if amendments == nil {
		amendments = map[string]any{}
	}
	var resp Request
	endpoint := fmt.Sprintf("v0/requests/%s/business-approve", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, amendments, &resp)
	return resp, err
}

// ITApprove validates the request; the project comes back with it.
func (c *Client) ITApprove(ctx context.Context, id string) (Request, Project, error) {
	var resp struct {
		Request Request `json:"request"`
		Project Project `json:"project"`
	}
	endpoint := fmt.Sprintf("v0/requests/%s/it-approve", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp.Request, resp.Project, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	endpoint := fmt.Sprintf("v0/projects/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AdvancePhase moves a project to the next phase.
func (c *Client) AdvancePhase(ctx context.Context, id, comment string) (Project, error) {
	var resp Project
	endpoint := fmt.Sprintf("v0/projects/%s/advance", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"comment": comment}, &resp)
	return resp, err
}

// RequestClosure opens the closure workflow.
func (c *Client) RequestClosure(ctx context.Context, projectID, desiredDate string) (ClosureRequest, error) {
	var resp ClosureRequest
	endpoint := fmt.Sprintf("v0/projects/%s/closure", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"desired_date": desiredDate}, &resp)
	return resp, err
}

// DecideClosureSlot records one party's closure verdict.
func (c *Client) DecideClosureSlot(ctx context.Context, projectID, slot string, approve bool, comment string) (ClosureRequest, error) {
	var resp ClosureRequest
	endpoint := fmt.Sprintf("v0/projects/%s/closure/slots/%s", url.PathEscape(projectID), url.PathEscape(slot))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"approve": approve, "comment": comment}, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
