package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sermonpipe/internal/api"
	"sermonpipe/internal/config"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/services"
	"sermonpipe/internal/source"
)

const (
	dialTimeout    = 2 * time.Second
	requestTimeout = 30 * time.Second
)

// Client provides HTTP access to the daemon.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the daemon listening on addr. addr is a
// host:port pair or a full http URL.
func NewClient(addr, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Dial returns a client for the daemon configured in cfg after confirming it
// answers its health endpoint.
func Dial(ctx context.Context, cfg *config.Config) (*Client, error) {
	addr := strings.TrimSpace(cfg.Paths.APIBind)
	if addr == "" {
		return nil, errors.New("api_bind is not configured")
	}
	client := NewClient(addr, cfg.Paths.APIToken)
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if _, err := client.Health(dialCtx, false); err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s: %w", addr, err)
	}
	return client, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Health queries the health endpoint. A degraded deep check is returned with
// its checks rather than as an error.
func (c *Client) Health(ctx context.Context, deep bool) (*api.HealthResponse, error) {
	path := "/healthz"
	if deep {
		path += "?deep=true"
	}
	var resp api.HealthResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
		return &resp, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var resp api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit queues a job.
func (c *Client) Submit(ctx context.Context, payload source.Payload) (*api.Task, error) {
	var resp api.TaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", payload, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// Job describes one job.
func (c *Client) Job(ctx context.Context, jobID string) (*api.Job, error) {
	var resp api.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Abort stops a pending or running job. An unknown job reports the
// not_found outcome rather than an error.
func (c *Client) Abort(ctx context.Context, jobID string) (*api.AbortResult, error) {
	var resp api.AbortResult
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/abort", nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound && resp.Outcome == api.AbortNotFound {
		return &resp, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tasks lists queue tasks filtered by status.
func (c *Client) Tasks(ctx context.Context, statuses ...queue.Status) ([]api.Task, error) {
	path := "/api/tasks"
	if len(statuses) > 0 {
		parts := make([]string, 0, len(statuses))
		for _, s := range statuses {
			parts = append(parts, string(s))
		}
		path += "?status=" + url.QueryEscape(strings.Join(parts, ","))
	}
	var resp api.TaskListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Retry moves failed tasks back to pending. No ids retries every failed task.
func (c *Client) Retry(ctx context.Context, ids []int64) (*api.RetryTasksResult, error) {
	var resp api.RetryTasksResult
	if err := c.do(ctx, http.MethodPost, "/api/tasks/retry", api.RetryRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Prune deletes finished tasks older than age.
func (c *Client) Prune(ctx context.Context, age time.Duration) (*api.PruneResult, error) {
	var resp api.PruneResult
	path := "/api/tasks?olderThan=" + url.QueryEscape(age.String())
	if err := c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutSermon creates or renames a sermon document.
func (c *Client) PutSermon(ctx context.Context, id string, input api.SermonInput) (*api.Sermon, error) {
	var resp api.Sermon
	if err := c.do(ctx, http.MethodPut, "/api/sermons/"+url.PathEscape(id), input, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sermons lists recently updated sermons.
func (c *Client) Sermons(ctx context.Context, limit int) ([]api.Sermon, error) {
	var resp api.SermonListResponse
	if err := c.do(ctx, http.MethodGet, "/api/sermons?limit="+strconv.Itoa(limit), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sermons, nil
}

// do issues a request and decodes the response into out. Error responses
// are decoded into out as well so callers can inspect outcome payloads.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if reqID, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-Id", reqID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope api.ErrorResponse
		_ = json.Unmarshal(data, &envelope)
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		message := envelope.Error
		if message == "" {
			message = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: message, Kind: services.Kind(envelope.Kind)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
