// Package client is a Go client for the work-queue REST API.
package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"yqhp/work-queue/pkg/types"
)

const defaultTimeout = 10 * time.Second

// APIError is a non-2xx response from the master.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the response to the matching sentinel error.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == fasthttp.StatusNotFound && e.Code == "not_found":
		return types.ErrNotFound
	case e.Code == "invalid_task":
		return types.ErrInvalidTask
	case e.Code == "conflict":
		return types.ErrInvalidTransition
	}
	return nil
}

// Client talks to one master.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *fasthttp.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a client for the master at baseURL, e.g. http://localhost:9123.
func New(baseURL string, opts ...Option) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	baseURL = strings.Replace(baseURL, "ws://", "http://", 1)
	baseURL = strings.Replace(baseURL, "wss://", "https://", 1)

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: defaultTimeout,
		http: &fasthttp.Client{
			MaxConnsPerHost:     16,
			MaxIdleConnDuration: 90 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks the master.
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var out types.HealthResponse
	if err := c.do(ctx, fasthttp.MethodGet, "/api/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit queues a task and returns its id.
func (c *Client) Submit(ctx context.Context, req *types.TaskSubmitRequest) (*types.TaskSubmitResponse, error) {
	var out types.TaskSubmitResponse
	if err := c.do(ctx, fasthttp.MethodPost, "/api/v1/tasks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns a task.
func (c *Client) Get(ctx context.Context, id uint64) (*types.Task, error) {
	var out types.Task
	if err := c.do(ctx, fasthttp.MethodGet, taskPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns the tasks matching filter; a nil filter lists every task.
func (c *Client) List(ctx context.Context, filter *types.TaskFilter) (*types.TaskListResponse, error) {
	path := "/api/v1/tasks"
	if filter != nil {
		q := url.Values{}
		if filter.Tag != "" {
			q.Set("tag", filter.Tag)
		}
		if len(filter.States) > 0 {
			states := make([]string, len(filter.States))
			for i, s := range filter.States {
				states[i] = string(s)
			}
			q.Set("state", strings.Join(states, ","))
		}
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
	}

	var out types.TaskListResponse
	if err := c.do(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Remove deletes a task and returns its last state.
func (c *Client) Remove(ctx context.Context, id uint64) (*types.Task, error) {
	var out types.Task
	if err := c.do(ctx, fasthttp.MethodDelete, taskPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Workers lists the registered workers.
func (c *Client) Workers(ctx context.Context) (*types.WorkerListResponse, error) {
	var out types.WorkerListResponse
	if err := c.do(ctx, fasthttp.MethodGet, "/api/v1/workers", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns queue statistics.
func (c *Client) Stats(ctx context.Context) (*types.QueueStats, error) {
	var out types.QueueStats
	if err := c.do(ctx, fasthttp.MethodGet, "/api/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func taskPath(id uint64) string {
	return "/api/v1/tasks/" + strconv.FormatUint(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		apiErr := &APIError{StatusCode: code}
		var er types.ErrorResponse
		if err := sonic.Unmarshal(resp.Body(), &er); err == nil {
			apiErr.Code, apiErr.Message = er.Error, er.Message
		} else {
			apiErr.Message = string(resp.Body())
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
