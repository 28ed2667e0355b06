package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is the concrete Client implementation, talking to the
// execution service over its documented HTTP contract.
type HTTPClient struct {
	baseURL       string
	httpClient    *http.Client
	deleteTimeout time.Duration
}

// NewHTTPClient builds an HTTPClient. requestTimeout bounds every call
// except Delete, which uses deleteTimeout, and RunCode, whose effective
// deadline is timeoutSec+30s to give the sandbox room to report back after
// its own internal timeout fires.
func NewHTTPClient(baseURL string, requestTimeout, deleteTimeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: requestTimeout},
		deleteTimeout: deleteTimeout,
	}
}

func (c *HTTPClient) Create(ctx context.Context, workspaceRef, repoURL, gitRef string) error {
	body := map[string]string{
		"workspace_ref": workspaceRef,
		"repo_url":      repoURL,
		"git_ref":       gitRef,
	}
	return c.postAndDiscard(ctx, "/workspace/create", body, c.httpClient)
}

func (c *HTTPClient) Snapshot(ctx context.Context, workspaceRef string) (SnapshotResult, error) {
	body := map[string]string{"workspace_ref": workspaceRef}
	var out SnapshotResult
	if err := c.postAndDecode(ctx, "/workspace/snapshot", body, c.httpClient, &out); err != nil {
		return SnapshotResult{}, err
	}
	return out, nil
}

func (c *HTTPClient) Restore(ctx context.Context, workspaceRef, snapshotKey string) error {
	body := map[string]string{
		"workspace_ref": workspaceRef,
		"snapshot_key":  snapshotKey,
	}
	return c.postAndDiscard(ctx, "/workspace/restore", body, c.httpClient)
}

func (c *HTTPClient) RunCode(ctx context.Context, workspaceRef, code string, timeoutSec int) (RunResult, error) {
	body := map[string]any{
		"code":          code,
		"workspace_ref": workspaceRef,
		"timeout_sec":   timeoutSec,
	}
	client := &http.Client{Timeout: time.Duration(timeoutSec+30) * time.Second}
	var out RunResult
	if err := c.postAndDecode(ctx, "/workspace/run_code", body, client, &out); err != nil {
		return RunResult{}, err
	}
	return out, nil
}

func (c *HTTPClient) Delete(ctx context.Context, workspaceRef string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/workspace/"+workspaceRef, nil)
	if err != nil {
		return fmt.Errorf("%w: building delete request: %v", ErrExecutorUnavailable, err)
	}
	client := &http.Client{Timeout: c.deleteTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExecutorUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: delete status %d: %s", ErrExecutorUnavailable, resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *HTTPClient) postAndDiscard(ctx context.Context, path string, body any, client *http.Client) error {
	resp, err := c.post(ctx, path, body, client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *HTTPClient) postAndDecode(ctx context.Context, path string, body any, client *http.Client, out any) error {
	resp, err := c.post(ctx, path, body, client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response from %s: %v", ErrExecutorUnavailable, path, err)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, client *http.Client) (*http.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: building request for %s: %v", ErrExecutorUnavailable, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutorUnavailable, err)
	}

	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %s status %d: %s", ErrExecutorUnavailable, path, resp.StatusCode, string(respBody))
	}

	return resp, nil
}
