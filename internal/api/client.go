// Package api is a small JSON-over-HTTP client for the Automa service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/automa-app/automa-go/internal/log"
)

// RequestIDHeader carries a per-request uuid for correlation with server logs.
const RequestIDHeader = "X-Request-Id"

// maxErrorBody caps how much of a failed response is buffered.
const maxErrorBody = 1 << 20

// Client issues requests against a base URL with a fixed set of default
// headers. It is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	headers map[string]string
	http    *http.Client
	logger  *slog.Logger
	newID   func() string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the instrumented default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the overall per-request timeout, body included. The
// http.Client is copied first, so one passed to WithHTTPClient is left as
// the caller configured it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

// WithDefaultHeaders merges headers into the defaults. An empty value
// removes the header.
func WithDefaultHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[http.CanonicalHeaderKey(k)] = v
		}
	}
}

// WithBearerToken sets the Authorization header.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		if token != "" {
			c.headers["Authorization"] = "Bearer " + token
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for baseURL, which must be absolute.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL: u,
		headers: map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		},
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: log.Discard(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured service URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

type requestConfig struct {
	headers map[string]string
}

// RequestOption tunes a single request.
type RequestOption func(*requestConfig)

// WithHeader overrides a header for one request. An empty value removes it.
func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) {
		rc.headers[http.CanonicalHeaderKey(key)] = value
	}
}

// Post sends body as JSON and reads the whole response.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.readAll(ctx, http.MethodPost, path, body, opts...)
}

// PostStream sends body as JSON and hands back the unread response body.
func (c *Client) PostStream(ctx context.Context, path string, body any, opts ...RequestOption) (*StreamResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, path, body, opts...)
	if err != nil {
		return nil, err
	}
	return &StreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func (c *Client) readAll(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	resp, err := c.do(ctx, method, path, body, opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, path, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// do sends the request. Non-2xx responses are consumed and returned as
// *APIError; transport failures are returned as net/http reports them.
func (c *Client) do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*http.Response, error) {
	rc := requestConfig{headers: make(map[string]string)}
	for _, opt := range opts {
		opt(&rc)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", method, path, err)
	}

	for k, v := range c.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	for k, v := range rc.headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	requestID := c.newID()
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("api request failed",
			"method", method,
			"path", path,
			"request_id", requestID,
			"error", err,
		)
		return nil, err
	}

	c.logger.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newAPIError(resp.StatusCode, data)
	}
	return resp, nil
}

func (c *Client) resolve(path string) string {
	base := strings.TrimSuffix(c.baseURL.String(), "/")
	return base + "/" + strings.TrimPrefix(path, "/")
}
