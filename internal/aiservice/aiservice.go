// Package aiservice implements the §4.12 external HTTP facade: a small
// set of typed client methods wrapping L5+L7, parameterized by a base
// URL resolved from config. Every method states its idempotence (for
// L7's retry eligibility), decodes a typed success shape, and surfaces a
// narrow set of error kinds — callers never see a raw *secureclient or
// *resilience error.
//
// Grounded on the teacher's internal/secretstore/resolver.go typed
// accessor style (a thin struct of named methods, each doing exactly one
// well-defined network/lookup operation and returning a typed result).
package aiservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/resilience"
	"github.com/example/masterclaw/internal/secureclient"
)

// Config parameterizes a Client.
type Config struct {
	BaseURL         string
	GatewayToken    string // sent as x-api-token when non-empty
	TimeoutMillis   int
	AllowPrivateIPs bool
}

// Client is the typed facade over the sessions/memory/search/workflow
// gateway endpoints, guarded by L5 and L7.
type Client struct {
	cfg     Config
	http    *secureclient.Client
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
}

// New builds a Client. breaker and httpClient are shared with the rest
// of the process so the gateway's health is tracked by one breaker
// instance regardless of which aiservice method is called.
func New(cfg Config, httpClient *secureclient.Client, breaker *resilience.Breaker) *Client {
	if cfg.TimeoutMillis <= 0 {
		cfg.TimeoutMillis = 10000
	}
	return &Client{cfg: cfg, http: httpClient, breaker: breaker, retry: resilience.DefaultRetryConfig()}
}

// Session is one gateway session summary.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updatedAt"`
}

// ListSessions is idempotent (GET) and retryable.
func (c *Client) ListSessions(ctx context.Context, correlationID string) ([]Session, error) {
	var out []Session
	err := c.doJSON(ctx, "GET", "/sessions", correlationID, true, nil, &out)
	return out, err
}

// MemoryEntry is one stored memory record.
type MemoryEntry struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// SearchMemory is idempotent (GET) and retryable.
func (c *Client) SearchMemory(ctx context.Context, correlationID, query string) ([]MemoryEntry, error) {
	var out []MemoryEntry
	path := fmt.Sprintf("/memory/search?q=%s", url.QueryEscape(query))
	err := c.doJSON(ctx, "GET", path, correlationID, true, nil, &out)
	return out, err
}

// WorkflowRunRequest is the body of a workflow run request.
type WorkflowRunRequest struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// WorkflowRunResult is the gateway's response to a workflow run.
type WorkflowRunResult struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// RunWorkflow issues a POST, which is non-idempotent by default per
// §4.7 — the caller must opt in via idempotent=true only when it knows
// the workflow name/args pair is safe to retry (e.g. the gateway
// dedupes by an idempotency key it derives from Name+Args).
func (c *Client) RunWorkflow(ctx context.Context, correlationID string, req WorkflowRunRequest, idempotent bool) (*WorkflowRunResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindUsage, errs.CodeUsage, "encode workflow run request", err)
	}
	var out WorkflowRunResult
	if err := c.doJSON(ctx, "POST", "/workflow/run", correlationID, idempotent, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthStatus is the gateway's /health response shape.
type HealthStatus struct {
	Status string `json:"status"`
}

// Health is idempotent (GET) and retryable; used by the health and
// troubleshoot commands.
func (c *Client) Health(ctx context.Context, correlationID string) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.doJSON(ctx, "GET", "/health", correlationID, true, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, correlationID string, idempotent bool, body []byte, out any) error {
	headers := map[string]string{
		"content-type":      "application/json",
		"x-correlation-id":  correlationID,
	}
	if c.cfg.GatewayToken != "" {
		headers["x-api-token"] = c.cfg.GatewayToken
	}

	var resp *secureclient.Response
	run := func(ctx context.Context) error {
		var err error
		resp, err = c.http.Request(ctx, secureclient.Descriptor{
			Method:           method,
			URL:              c.cfg.BaseURL + path,
			Headers:          headers,
			Body:             body,
			TimeoutMillis:    c.cfg.TimeoutMillis,
			MaxResponseBytes: 10 * 1024 * 1024,
			AllowPrivateIPs:  c.cfg.AllowPrivateIPs,
			CorrelationID:    correlationID,
		})
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			// L7's isRetryable inspects Details["statusCode"] against
			// RetryableHTTPStatus, so 4xx/5xx classification happens
			// there, not here.
			return errs.New(errs.KindDependency, errs.CodeHTTPStatus, fmt.Sprintf("gateway returned HTTP %d", resp.StatusCode)).
				WithDetails(map[string]any{"statusCode": resp.StatusCode, "path": path})
		}
		return nil
	}

	cfg := c.retry
	cfg.Idempotent = idempotent
	var err error
	if c.breaker != nil {
		err = resilience.Do(ctx, c.breaker, cfg, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return err
	}
	if out != nil && resp != nil && len(resp.Body) > 0 {
		if jsonErr := json.Unmarshal(resp.Body, out); jsonErr != nil {
			return errs.Wrap(errs.KindIntegrity, errs.CodeIntegrityFailed, "decode gateway response", jsonErr)
		}
	}
	return nil
}
