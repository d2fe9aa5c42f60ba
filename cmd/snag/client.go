package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"

	"snag/internal/api"
)

// apiClient talks to the snagd HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(addr, token string) (*apiClient, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return nil, errors.New("daemon address not configured; set paths.api_bind or pass --server")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	return &apiClient{
		baseURL: strings.TrimRight(trimmed, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func wrapDialError(err error, baseURL string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; is snagd running?", baseURL)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}

func (c *apiClient) Submit(ctx context.Context, req api.SubmitRequest) (api.Job, error) {
	var resp api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return api.Job{}, err
	}
	return resp.Job, nil
}

func (c *apiClient) ListJobs(ctx context.Context, statuses []string) ([]api.Job, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		params := make([]string, 0, len(statuses))
		for _, status := range statuses {
			params = append(params, "status="+status)
		}
		path += "?" + strings.Join(params, "&")
	}
	var resp api.JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *apiClient) DescribeJob(ctx context.Context, id int64) (api.Job, error) {
	var resp api.JobResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/jobs/%d", id), nil, &resp); err != nil {
		return api.Job{}, err
	}
	return resp.Job, nil
}

func (c *apiClient) CancelJob(ctx context.Context, id int64) (string, error) {
	var resp api.CancelResponse
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/jobs/%d", id), nil, &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}

func (c *apiClient) Status(ctx context.Context) (api.DaemonStatus, error) {
	var resp api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return api.DaemonStatus{}, err
	}
	return resp, nil
}

func (c *apiClient) Presets(ctx context.Context) ([]api.Preset, error) {
	var resp api.PresetListResponse
	if err := c.do(ctx, http.MethodGet, "/api/presets", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Presets, nil
}

func (c *apiClient) QueueHealth(ctx context.Context) (api.QueueHealth, error) {
	var resp api.QueueHealth
	if err := c.do(ctx, http.MethodGet, "/api/queue/health", nil, &resp); err != nil {
		return api.QueueHealth{}, err
	}
	return resp, nil
}

func (c *apiClient) ClearQueue(ctx context.Context, scope string) (int64, error) {
	path := "/api/queue/clear"
	if scope != "" {
		path += "?scope=" + scope
	}
	var resp api.ClearResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (c *apiClient) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	var resp api.UpdateResponse
	if err := c.do(ctx, http.MethodPost, "/api/queue/retry", api.RetryRequest{IDs: ids}, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

func (c *apiClient) ResetStuck(ctx context.Context) (int64, error) {
	var resp api.UpdateResponse
	if err := c.do(ctx, http.MethodPost, "/api/queue/reset", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

func (c *apiClient) TestNotification(ctx context.Context) (api.TestNotificationResponse, error) {
	var resp api.TestNotificationResponse
	if err := c.do(ctx, http.MethodPost, "/api/notifications/test", nil, &resp); err != nil {
		return api.TestNotificationResponse{}, err
	}
	return resp, nil
}
