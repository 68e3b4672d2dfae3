package buildlinesdk

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

// Client is a minimal Buildline HTTP API client.
type Client struct {
	BaseURL    string
	ProjectID  string
	Actor      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID                 string   `json:"id"`
	Code               string   `json:"code"`
	ProjectID          string   `json:"project_id"`
	ParentID           string   `json:"parent_id,omitempty"`
	Type               string   `json:"type"`
	Title              string   `json:"title"`
	Status             string   `json:"status"`
	Priority           string   `json:"priority"`
	Progress           int      `json:"progress"`
	StartDate          string   `json:"start_date,omitempty"`
	DueDate            string   `json:"due_date,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
	SubtaskIDs         []string `json:"subtask_ids,omitempty"`
	EffectivelyBlocked bool     `json:"effectively_blocked"`
}

// Event represents a log entry.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	TaskID  string `json:"task_id"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload"`
}

// Stats are the project dashboard counters.
type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	InProgress     int `json:"in_progress"`
	Blocked        int `json:"blocked"`
	OverdueCount   int `json:"overdue_count"`
	CompletionRate int `json:"completion_rate"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type taskEnvelope struct {
	Task Task `json:"task"`
}

// CreateTask creates a task. parentID may be empty for a root task.
func (c *Client) CreateTask(ctx context.Context, title, taskType, parentID string) (Task, error) {
	body := map[string]any{"title": title}
	if taskType != "" {
		body["type"] = taskType
	}
	if parentID != "" {
		body["parent_id"] = parentID
	}
	var resp taskEnvelope
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp.Task, err
}

// GetTask fetches one task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp taskEnvelope
	err := c.do(ctx, http.MethodGet, c.projectPath("tasks/"+url.PathEscape(id)), nil, &resp)
	return resp.Task, err
}

// SetStatus transitions a task.
func (c *Client) SetStatus(ctx context.Context, id, status string) (Task, error) {
	var resp taskEnvelope
	endpoint := c.projectPath(fmt.Sprintf("tasks/%s/status", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp.Task, err
}

// DeleteTask removes a task and its subtree, returning the removed ids.
func (c *Client) DeleteTask(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		Removed []string `json:"removed"`
	}
	err := c.do(ctx, http.MethodDelete, c.projectPath("tasks/"+url.PathEscape(id)), nil, &resp)
	return resp.Removed, err
}

// Stats returns the project counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp struct {
		Stats Stats `json:"stats"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath("stats"), nil, &resp)
	return resp.Stats, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
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
	if c.Actor != "" {
		req.Header.Set("X-Actor", c.Actor)
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

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
