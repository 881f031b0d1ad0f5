package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sevigo/build-warden/internal/core"
)

// apiClient talks to the build-warden HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			IdleConnTimeout:     30 * time.Second,
		},
		Timeout: timeout,
	}
}

// apiError is a non-2xx response from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(bytes.TrimSpace(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// jobSummary mirrors the list view returned by GET /api/v1/jobs.
type jobSummary struct {
	ID         string        `json:"id"`
	Repository string        `json:"repository"`
	CommitSHA  string        `json:"commit_sha"`
	Pipeline   string        `json:"pipeline"`
	Trigger    string        `json:"trigger"`
	State      core.JobState `json:"state"`
	Summary    string        `json:"summary"`
	Reason     string        `json:"reason"`
	CreatedAt  time.Time     `json:"created_at"`
}

func (c *apiClient) listJobs(ctx context.Context, repo, state string, limit int) ([]jobSummary, error) {
	q := url.Values{}
	if repo != "" {
		q.Set("repository", repo)
	}
	if state != "" {
		q.Set("state", state)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []jobSummary
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *apiClient) getJob(ctx context.Context, id string) (*core.BuildJob, error) {
	var job core.BuildJob
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) cancelJob(ctx context.Context, id string) (*core.BuildJob, error) {
	var job core.BuildJob
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(id)+"/cancel", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) trigger(ctx context.Context, repo, commit, ref string) (*core.BuildJob, error) {
	body := map[string]string{"repository": repo, "commit": commit}
	if ref != "" {
		body["ref"] = ref
	}
	var job core.BuildJob
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) repositories(ctx context.Context) ([]core.RepositoryConfig, error) {
	var out []core.RepositoryConfig
	return out, c.do(ctx, http.MethodGet, "/api/v1/repositories", nil, &out)
}
