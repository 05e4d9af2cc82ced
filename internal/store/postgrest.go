package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"campaigntasks/internal/external"
	"campaigntasks/internal/types"
)

const (
	restPrefix      = "/rest/v1/"
	maxResponseBody = 4 << 20
	storeUserAgent  = "campaigntasks/1.0"
)

// PostgRESTClient talks to a PostgREST endpoint (such as Supabase) using the
// service API key for both the apikey header and the bearer token.
type PostgRESTClient struct {
	http    *external.BaseClient
	baseURL string
	apiKey  types.SecretString
	logger  *slog.Logger
}

// NewPostgRESTClient returns a client for the store at baseURL. Requests are
// not retried; the circuit breaker still sheds load when the store is down.
func NewPostgRESTClient(httpClient *http.Client, baseURL string, apiKey types.SecretString, logger *slog.Logger, opts ...external.BaseClientOption) *PostgRESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgRESTClient{
		http: external.NewBaseClient(
			httpClient,
			"store",
			external.RetryPolicy{MaxRetries: 0, MinWait: 100 * time.Millisecond, MaxWait: time.Second},
			storeUserAgent,
			opts...,
		),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger.With("component", "store"),
	}
}

// newPostgRESTClientWithBase is used by tests that need a custom breaker.
func newPostgRESTClientWithBase(base *external.BaseClient, baseURL string, apiKey types.SecretString) *PostgRESTClient {
	return &PostgRESTClient{
		http:    base,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  slog.New(slog.DiscardHandler),
	}
}

// RPC calls the stored procedure named procedure with params as named
// arguments.
func (c *PostgRESTClient) RPC(ctx context.Context, procedure string, params map[string]any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "rpc/"+procedure, params)
}

// Create inserts data into the resource at path.
func (c *PostgRESTClient) Create(ctx context.Context, path string, data map[string]any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, data)
}

// Update patches the rows selected by path with data.
func (c *PostgRESTClient) Update(ctx context.Context, path string, data map[string]any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPatch, path, data)
}

// Delete removes the rows selected by path.
func (c *PostgRESTClient) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// Ping checks that the REST endpoint answers. Any HTTP response counts as
// reachable.
func (c *PostgRESTClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+restPrefix, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *PostgRESTClient) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	endpoint := c.baseURL + restPrefix + strings.TrimLeft(path, "/")

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode store request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build store request", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "store request failed", "method", method, "path", path, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStore, "failed to read store response", err)
	}

	c.logger.DebugContext(ctx, "store request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamStore,
			fmt.Sprintf("store returned %d for %s %s", resp.StatusCode, method, path),
			fmt.Errorf("%s", truncate(string(raw), 500)),
			map[string]any{"status": resp.StatusCode},
		)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(raw) {
		return nil, types.NewAppError(types.ErrCodeUpstreamStore, "store returned invalid JSON", nil)
	}
	return json.RawMessage(raw), nil
}

func (c *PostgRESTClient) setHeaders(req *http.Request) {
	key := c.apiKey.Unmask()
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}
