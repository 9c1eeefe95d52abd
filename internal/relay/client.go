package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/httpclient"
)

// statusVersionRegex matches a status path with an optional version suffix
// so older variants can be rewritten to v3.
var statusVersionRegex = regexp.MustCompile(`/status(/v\d+)?$`)

// CredentialSource supplies the API access credential on demand, so a
// rotated key can be picked up without restarting.
type CredentialSource interface {
	Value(ctx context.Context) (string, error)
	Invalidate()
}

// Client wraps low-level HTTP communication with the relay API: order
// submission, status polling, settlement metadata, and delegated
// execution submission.
type Client struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	baseURL string
	apiKey  string
	creds   CredentialSource
}

// NewClient constructs a relay API client.
func NewClient(logger *zap.Logger, exec *httpclient.Executor, baseURL, apiKey string) *Client {
	return &Client{
		logger:  logger,
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// SetCredentialSource makes the client resolve its API key through src
// on every request instead of the static key. An unauthorized response
// invalidates the source so the next request re-resolves.
func (c *Client) SetCredentialSource(src CredentialSource) {
	c.creds = src
}

// BaseURL returns the configured API base endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// HasCredential reports whether an API access credential is configured.
func (c *Client) HasCredential() bool { return c.apiKey != "" || c.creds != nil }

// resolve turns a possibly-relative endpoint into an absolute URL.
func (c *Client) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.baseURL + endpoint
}

// NormalizeCheckEndpoint rewrites an older status path variant to v3.
// The query string is preserved.
func NormalizeCheckEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	m := statusVersionRegex.FindStringSubmatch(u.Path)
	if m != nil && m[1] != "/v3" && m[1] != "/v4" {
		u.Path = statusVersionRegex.ReplaceAllString(u.Path, "/status/v3")
	}
	return u.String()
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	key := c.apiKey
	if c.creds != nil {
		v, err := c.creds.Value(ctx)
		if err != nil {
			c.logger.Warn("relay.credential_resolve_failed", zap.Error(err))
		} else {
			key = v
		}
	}
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
}

// do runs the request and invalidates the credential source on an
// unauthorized response.
func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	err := c.exec.DoJSON(ctx, req, c.rateKey(), out)
	if c.creds != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
			c.creds.Invalidate()
		}
	}
	return err
}

// PostOrder submits a signed order payload to the given endpoint. A non-2xx
// response surfaces the response body as the error message.
func (c *Client) PostOrder(ctx context.Context, endpoint, method string, body any) (*OrderResponse, error) {
	if method == "" {
		method = http.MethodPost
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(endpoint), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	c.setHeaders(ctx, req)

	var resp OrderResponse
	if err := c.do(ctx, req, &resp); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			c.logger.Warn("relay.post_order_rejected",
				zap.Int("status", se.Status),
				zap.String("body", string(se.Body)))
			return nil, fmt.Errorf("order submission failed: %s", string(se.Body))
		}
		return nil, err
	}
	return &resp, nil
}

// CheckStatus polls the check endpoint once. An unrecognized response shape
// (missing status) is returned as ErrUnrecognizedStatus.
func (c *Client) CheckStatus(ctx context.Context, endpoint string) (*CheckResult, error) {
	target := NormalizeCheckEndpoint(c.resolve(endpoint))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(ctx, req)

	var resp CheckResult
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		return nil, ErrUnrecognizedStatus
	}
	return &resp, nil
}

// ErrUnrecognizedStatus marks a check response that matched none of the
// known status shapes.
var ErrUnrecognizedStatus = errors.New("failed to check status: unrecognized response")

// GetRequest fetches settlement metadata for a request id, newest first.
func (c *Client) GetRequest(ctx context.Context, requestID string) (*RequestMetadata, error) {
	endpoint := fmt.Sprintf("%s/requests/v2?id=%s&sortBy=updatedAt&sortDirection=desc&limit=1",
		c.baseURL, url.QueryEscape(requestID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(ctx, req)

	var resp requestsResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Requests) == 0 {
		return nil, fmt.Errorf("request %s not found", requestID)
	}
	return &resp.Requests[0], nil
}

// SubmitExecution posts one sponsored delegated-batch execution.
func (c *Client) SubmitExecution(ctx context.Context, er *ExecuteRequest) (*ExecuteResponse, error) {
	data, err := json.Marshal(er)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute/v1", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	c.setHeaders(ctx, req)

	var resp ExecuteResponse
	if err := c.do(ctx, req, &resp); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("execution submission failed: %s", string(se.Body))
		}
		return nil, err
	}
	return &resp, nil
}

func (c *Client) rateKey() string {
	return "relay_api:" + c.baseURL
}
