// Package client talks to the board HTTP API and keeps a local mirror of it.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"kanban-api/domain"
)

// StatusError is a non-2xx response. It unwraps to the matching domain
// sentinel so callers can use errors.Is.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusBadRequest:
		return domain.ErrValidation
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		if strings.Contains(e.Message, domain.ErrSetMismatch.Error()) {
			return domain.ErrSetMismatch
		}
		return domain.ErrDuplicateID
	}
	return nil
}

// Client wraps http.Client with helpers for the board's JSON endpoints.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type tasksEnvelope struct {
	Tasks []domain.Task `json:"tasks"`
	Total int           `json:"total"`
}

type moveBody struct {
	Status   domain.Status `json:"status"`
	Position int           `json:"position"`
}

type analysisEnvelope struct {
	Task   domain.Task   `json:"task"`
	Report domain.Report `json:"report"`
}

type reportsEnvelope struct {
	Reports []domain.Report `json:"reports"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, header http.Header) error {
	var rd io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if sonic.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
}

// ListTasks fetches tasks matching f in board order.
func (c *Client) ListTasks(ctx context.Context, f domain.Filter) ([]domain.Task, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Priority != "" {
		q.Set("priority", string(f.Priority))
	}
	if f.Assignee != "" {
		q.Set("assignee", f.Assignee)
	}
	for _, tag := range f.Tags {
		q.Add("tags", tag)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	path := "/api/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out tasksEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &out, nil); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// CreateTask creates a task. A non-empty idempotency key makes retries safe.
func (c *Client) CreateTask(ctx context.Context, in domain.CreateInput, idempotencyKey string) (domain.Task, error) {
	var h http.Header
	if idempotencyKey != "" {
		h = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	var out domain.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", in, &out, h)
	return out, err
}

func (c *Client) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &out, nil)
	return out, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, p domain.Patch) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), p, &out, nil)
	return out, err
}

func (c *Client) MoveTask(ctx context.Context, id string, to domain.Status, position int) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/move", moveBody{Status: to, Position: position}, &out, nil)
	return out, err
}

func (c *Client) ReorderColumn(ctx context.Context, st domain.Status, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	return c.do(ctx, http.MethodPost, "/api/tasks/reorder/"+url.PathEscape(string(st)), ids, nil, nil)
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil, nil)
}

// AnalyzeTask asks the server to generate a report for the task.
func (c *Client) AnalyzeTask(ctx context.Context, id string) (domain.Task, domain.Report, error) {
	var out analysisEnvelope
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/analyze", nil, &out, nil)
	return out.Task, out.Report, err
}

func (c *Client) Reports(ctx context.Context, id string) ([]domain.Report, error) {
	var out reportsEnvelope
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id)+"/reports", nil, &out, nil)
	return out.Reports, err
}
