// Package backend is the HTTP client for the ReplyForge ledger and
// execution service. It only classifies failures; retry decisions
// belong to the callers (internal/retry).
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/replyforge-ai/replyforge-cli/internal/errdefs"
)

// Client provides authenticated access to the ReplyForge API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// Debug callback (optional)
	debugFunc func(format string, args ...any)
}

// ClientConfig holds configuration for the API client.
type ClientConfig struct {
	// BaseURL is the API base URL (e.g. "https://api.replyforge.ai").
	BaseURL string

	// Token is the session bearer token.
	Token string

	// Timeout is the HTTP request timeout (default: 30s).
	Timeout time.Duration

	// DebugFunc is an optional callback for debug logging.
	DebugFunc func(format string, args ...any)
}

// NewClient creates a new API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		debugFunc: cfg.DebugFunc,
	}
}

func (c *Client) debug(format string, args ...any) {
	if c.debugFunc != nil {
		c.debugFunc(format, args...)
	}
}

// Ping verifies connectivity with a cheap authenticated request. The
// ledger's connectivity monitor uses it as its probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/api/health", nil, nil)
}

// GetCreditStatus performs one authoritative read of the user's credit
// balance and entitlements.
func (c *Client) GetCreditStatus(ctx context.Context) (*CreditStatus, error) {
	var status CreditStatus
	if err := c.doRequest(ctx, http.MethodGet, "/api/credits/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ConsumeCredits debits credits from the remote ledger.
func (c *Client) ConsumeCredits(ctx context.Context, req ConsumeRequest) (*ConsumeResponse, error) {
	var resp ConsumeResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/credits/consume", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateGenerationJob submits a generation job. The backend validates
// entitlement, debits credits, and enqueues the job in one call.
func (c *Client) CreateGenerationJob(ctx context.Context, req JobRequest) (*JobResponse, error) {
	var resp JobResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/jobs/generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateDirect runs a generation synchronously over HTTP. Legacy
// path, used only when the job pipeline is unreachable.
func (c *Client) GenerateDirect(ctx context.Context, req JobRequest) (*DirectResponse, error) {
	var resp DirectResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doRequest performs an HTTP request with authentication and JSON
// handling, classifying failures into the errdefs taxonomy.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return errdefs.Wrap(errdefs.KindValidation, err, "marshal request body")
		}
		reqBody = bytes.NewReader(jsonData)
		c.debug("request: %s %s - body: %s", method, path, string(jsonData))
	} else {
		c.debug("request: %s %s", method, path)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errdefs.Wrap(errdefs.KindValidation, err, "create request")
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// DNS failures, refused connections, client timeouts.
		return errdefs.Wrap(errdefs.KindTransport, err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errdefs.Wrap(errdefs.KindTransport, err, "read response body")
	}

	c.debug("response: %d - %s", resp.StatusCode, string(respBody))

	if resp.StatusCode >= 400 {
		return c.classifyError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return errdefs.Wrap(errdefs.KindValidation, err, "parse response")
		}
	}
	return nil
}

// classifyError maps an HTTP error response to the taxonomy.
func (c *Client) classifyError(status int, body []byte) error {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		apiErr.StatusCode = status
		if kind, ok := kindForCode(apiErr.Code, status); ok {
			return errdefs.New(kind, "%s", apiErr.errorText())
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		return errdefs.New(errdefs.KindUnauthenticated, "session rejected (status %d)", status)
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return errdefs.New(errdefs.KindTransport, "server error (status %d): %s", status, truncate(body, 256))
	default:
		return errdefs.New(errdefs.KindValidation, "request failed (status %d): %s", status, truncate(body, 256))
	}
}

func kindForCode(code string, status int) (errdefs.Kind, bool) {
	switch code {
	case ErrCodeInsufficientCredits:
		return errdefs.KindInsufficientCredits, true
	case ErrCodeTrialAlreadyUsed:
		// Surfaced by the backend as a permission-denied rejection.
		return errdefs.KindTrialAlreadyUsed, true
	case "FEATURE_NOT_ENTITLED":
		return errdefs.KindFeatureNotEntitled, true
	case "UNAUTHENTICATED":
		return errdefs.KindUnauthenticated, true
	default:
		if status >= 500 {
			return errdefs.KindTransport, true
		}
		return "", false
	}
}

func (e *APIError) errorText() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
