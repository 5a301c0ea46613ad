// Package vendorhttp is the shared outbound HTTP transport for aggregator adapters.
package vendorhttp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"finlink/internal/domain/provider"
)

const (
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 10 << 20
	maxErrorSnippet  = 512
)

// Signer authenticates an outgoing request. It may rewrite the URL (query
// parameters) and headers; body is the encoded payload, nil for GET.
type Signer func(req *http.Request, body []byte) error

// Config configures a vendor client
type Config struct {
	Provider      string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	// TLSConfig carries client certificates for vendors that require mTLS.
	TLSConfig *tls.Config
	Signer    Signer
}

// Client sends JSON requests to one vendor. Every failure comes back as a
// *provider.ProviderError; nothing is retried.
type Client struct {
	provider   string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	signer     Signer
}

// New creates a vendor client with a bounded timeout, a token-bucket limiter
// and an otelhttp transport
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSConfig != nil {
		transport.TLSClientConfig = cfg.TLSConfig
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RatePerSecond))
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Client{
		provider: cfg.Provider,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		limiter: limiter,
		signer:  cfg.Signer,
	}
}

// Request describes one vendor call. Path is joined to the base URL unless it
// is absolute.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is JSON-encoded when non-nil.
	Body any
	// Form is sent as application/x-www-form-urlencoded when Body is nil.
	Form url.Values
}

// Do sends the request and decodes a 2xx JSON response into out (when non-nil)
func (c *Client) Do(ctx context.Context, r Request, out any) error {
	req, payload, err := c.newRequest(ctx, r)
	if err != nil {
		return c.fail(0, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return c.fail(0, fmt.Errorf("rate limiter: %w", err))
	}

	if c.signer != nil {
		if err := c.signer(req, payload); err != nil {
			return c.fail(0, fmt.Errorf("failed to sign request: %w", err))
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(0, fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.fail(resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fail(resp.StatusCode, fmt.Errorf("%s %s failed: %s", r.Method, req.URL.Path, snippet(body)))
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return c.fail(resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return nil
}

// Get is shorthand for a GET with query parameters
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// Post is shorthand for a JSON POST
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// URL resolves a path against the base URL
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) newRequest(ctx context.Context, r Request) (*http.Request, []byte, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(c.URL(r.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid request path %q: %w", r.Path, err)
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var payload []byte
	contentType := ""
	switch {
	case r.Body != nil:
		payload, err = json.Marshal(r.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		contentType = "application/json"
	case r.Form != nil:
		payload = []byte(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, payload, nil
}

func (c *Client) fail(status int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("request timed out: %w", err)
	}
	return provider.NewError(c.provider, status, err)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "empty response"
	}
	if len(s) > maxErrorSnippet {
		return s[:maxErrorSnippet] + "..."
	}
	return s
}
