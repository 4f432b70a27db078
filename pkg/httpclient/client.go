// Package httpclient is a Go client for the retasyncd HTTP API.
package httpclient

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
	"time"
)

// IdentityHeader names the caller when the daemon runs without authentication.
const IdentityHeader = "X-Retasync-Identity"

// Client provides HTTP client for the retasyncd API
type Client struct {
	config     Config
	httpClient *http.Client
	baseURL    *url.URL
}

// NewClient creates a new retasyncd HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// SetToken sets the bearer token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.config.Token = token
}

// Jobs

// SubmitCommand submits a command job. payload is JSON-encoded; a
// json.RawMessage or []byte is sent as is.
func (c *Client) SubmitCommand(ctx context.Context, operation string, payload any, opts CommandOptions) (*SubmitResponse, error) {
	query := url.Values{}
	if opts.Destination != "" {
		query.Set("destination", opts.Destination)
	}
	if opts.TTL > 0 {
		query.Set("ttl_ms", strconv.FormatInt(opts.TTL.Milliseconds(), 10))
	}
	if opts.Transport != "" {
		query.Set("transport", opts.Transport)
	}

	var resp SubmitResponse
	path := "/v1/jobs/commands/" + url.PathEscape(operation)
	if err := c.doRequestWithQuery(ctx, http.MethodPost, path, query, payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to submit command: %w", err)
	}
	return &resp, nil
}

// UploadFile submits a file transfer job.
func (c *Client) UploadFile(ctx context.Context, req UploadRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/jobs/transfers/upload", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}
	return &resp, nil
}

// PublishEvent publishes a fire-and-forget event.
func (c *Client) PublishEvent(ctx context.Context, event string, payload any, destination string) (*PublishResponse, error) {
	query := url.Values{}
	if destination != "" {
		query.Set("destination", destination)
	}

	var resp PublishResponse
	if err := c.doRequestWithQuery(ctx, http.MethodPost, "/v1/events/"+url.PathEscape(event), query, payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to publish event: %w", err)
	}
	return &resp, nil
}

// GetJob returns a job's status.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var resp Job
	if err := c.doRequest(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &resp, nil
}

// GetJobResult returns the result of a succeeded job.
func (c *Client) GetJobResult(ctx context.Context, jobID string) (*JobResult, error) {
	var resp JobResult
	if err := c.doRequest(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/result", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get job result: %w", err)
	}
	return &resp, nil
}

// GetJobAttempts returns a job's attempt history.
func (c *Client) GetJobAttempts(ctx context.Context, jobID string) ([]Attempt, error) {
	var resp struct {
		Attempts []Attempt `json:"attempts"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/attempts", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get job attempts: %w", err)
	}
	return resp.Attempts, nil
}

// WaitForJob polls until the job is succeeded or failed, or ctx ends.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if Terminal(job.Status) {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetTransfer returns a transfer's status.
func (c *Client) GetTransfer(ctx context.Context, transferID string) (*Transfer, error) {
	var resp Transfer
	if err := c.doRequest(ctx, http.MethodGet, "/v1/transfers/"+url.PathEscape(transferID), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return &resp, nil
}

// Cache and logs

// CachedEvents returns the newest cached inbound events. limit <= 0 uses
// the daemon default.
func (c *Client) CachedEvents(ctx context.Context, limit int) ([]CachedEvent, error) {
	var resp struct {
		Events []CachedEvent `json:"events"`
	}
	if err := c.doRequestWithQuery(ctx, http.MethodGet, "/v1/cache/events", limitQuery(limit), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to read cached events: %w", err)
	}
	return resp.Events, nil
}

// CachedMessages returns the newest cached inbound messages.
func (c *Client) CachedMessages(ctx context.Context, limit int) ([]CachedMessage, error) {
	var resp struct {
		Messages []CachedMessage `json:"messages"`
	}
	if err := c.doRequestWithQuery(ctx, http.MethodGet, "/v1/cache/messages", limitQuery(limit), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to read cached messages: %w", err)
	}
	return resp.Messages, nil
}

// Logs returns buffered daemon log lines.
func (c *Client) Logs(ctx context.Context, q LogQuery) ([]LogLine, error) {
	query := limitQuery(q.Limit)
	if q.Level != "" {
		query.Set("level", q.Level)
	}
	if q.Contains != "" {
		query.Set("contains", q.Contains)
	}
	if !q.Since.IsZero() {
		query.Set("since", q.Since.UTC().Format(time.RFC3339))
	}

	var resp struct {
		Lines []LogLine `json:"lines"`
	}
	if err := c.doRequestWithQuery(ctx, http.MethodGet, "/v1/logs", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return resp.Lines, nil
}

// Node

// GetStatus returns the node status.
func (c *Client) GetStatus(ctx context.Context) (*NodeStatus, error) {
	var resp NodeStatus
	if err := c.doRequest(ctx, http.MethodGet, "/v1/node/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get node status: %w", err)
	}
	return &resp, nil
}

// GetConfig returns the runtime-mutable node configuration.
func (c *Client) GetConfig(ctx context.Context) (*NodeConfig, error) {
	var resp NodeConfig
	if err := c.doRequest(ctx, http.MethodGet, "/v1/node/config", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get node config: %w", err)
	}
	return &resp, nil
}

// UpdateConfig applies a partial config patch (admin only), e.g.
// map[string]any{"acl_mode": "denylist"}.
func (c *Client) UpdateConfig(ctx context.Context, patch any) (*ConfigUpdate, error) {
	var resp ConfigUpdate
	if err := c.doRequest(ctx, http.MethodPut, "/v1/node/config", patch, &resp); err != nil {
		return nil, fmt.Errorf("failed to update node config: %w", err)
	}
	return &resp, nil
}

// Contract returns the AsyncAPI document, as JSON when asJSON is set and
// YAML otherwise.
func (c *Client) Contract(ctx context.Context, asJSON bool) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/contracts/asyncapi", nil, nil)
	if err != nil {
		return nil, err
	}
	if asJSON {
		req.Header.Set("Accept", "application/json")
	}
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return body, nil
}

// Health

// Live reports whether the daemon process answers.
func (c *Client) Live(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/health/live", nil, nil)
}

// Ready returns readiness. A not-ready daemon answers 503, which is
// returned together with the decoded body.
func (c *Client) Ready(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/health/ready", nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		return &resp, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get readiness: %w", err)
	}
	return &resp, nil
}

// Security

// ListAcl returns "allowlist" or "denylist".
func (c *Client) ListAcl(ctx context.Context, list string) (*AclList, error) {
	var resp AclList
	if err := c.doRequest(ctx, http.MethodGet, "/v1/security/"+list, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", list, err)
	}
	return &resp, nil
}

// AddAcl adds an identity hash to list (admin only).
func (c *Client) AddAcl(ctx context.Context, list, identityHash, note string) (*AclEntry, error) {
	req := map[string]string{"identity_hash": identityHash, "note": note}
	var resp AclEntry
	if err := c.doRequest(ctx, http.MethodPost, "/v1/security/"+list, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to add %s entry: %w", list, err)
	}
	return &resp, nil
}

// RemoveAcl deletes identity from list (admin only).
func (c *Client) RemoveAcl(ctx context.Context, list, identity string) error {
	path := fmt.Sprintf("/v1/security/%s/%s", list, url.PathEscape(identity))
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to remove %s entry: %w", list, err)
	}
	return nil
}

func limitQuery(limit int) url.Values {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	return query
}

// newRequest builds an authenticated request. reqBody is JSON-encoded
// unless it is already []byte or json.RawMessage.
func (c *Client) newRequest(ctx context.Context, method, path string, queryParams url.Values, reqBody any) (*http.Request, error) {
	u := &url.URL{Path: path}
	if len(queryParams) > 0 {
		u.RawQuery = queryParams.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	switch b := reqBody.(type) {
	case nil:
	case []byte:
		bodyReader = bytes.NewReader(b)
	case json.RawMessage:
		bodyReader = bytes.NewReader(b)
	default:
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	return req, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	} else if c.config.Identity != "" {
		req.Header.Set(IdentityHeader, c.config.Identity)
	}
}

// do executes req and returns the body of a 2xx response. Other statuses
// become an *APIError.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, apiErr); err != nil || apiErr.Reason == "" {
			apiErr.Message = string(bytes.TrimSpace(bodyBytes))
		}
		return bodyBytes, apiErr
	}
	return bodyBytes, nil
}

// doRequestWithQuery performs an HTTP request with query parameters
func (c *Client) doRequestWithQuery(ctx context.Context, method, path string, queryParams url.Values, reqBody any, respBody any) error {
	req, err := c.newRequest(ctx, method, path, queryParams, reqBody)
	if err != nil {
		return err
	}

	bodyBytes, err := c.do(req)
	if err != nil {
		// Some error answers (readiness) still carry a useful body.
		if respBody != nil && len(bodyBytes) > 0 {
			_ = json.Unmarshal(bodyBytes, respBody)
		}
		return err
	}

	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// doRequest performs an HTTP request without query parameters
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any, respBody any) error {
	return c.doRequestWithQuery(ctx, method, path, nil, reqBody, respBody)
}
