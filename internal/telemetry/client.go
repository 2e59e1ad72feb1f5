package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBodySize bounds how much of a collector reply is kept.
const maxResponseBodySize = 64 << 10

// a single collector host; one warm connection is enough
const (
	defaultMaxIdleConns    = 2
	defaultMaxConnsPerHost = 2
	defaultIdleConnTimeout = 60 * time.Second
)

// Response holds the result of a POST made by [Client].
type Response struct {
	// Body is the collector's reply, truncated to 64KB.
	Body []byte

	// StatusCode is zero if the request failed before a response arrived.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration

	// Error is set when no complete response was received. A non-2xx status
	// is not an error here.
	Error error
}

// Poster delivers an encoded payload.
type Poster interface {
	Post(ctx context.Context, url string, body []byte, headers map[string]string, timeout time.Duration) Response
}

// Client is the [Poster] used on the device: an HTTP client with a small
// connection pool and per-request timeouts.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a [Client].
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			// no default timeout, Post applies one per request
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConns,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
}

// Post sends body to url. Headers are set verbatim. Post always returns a
// Response; failures are reported in its Error field.
func (c *Client) Post(ctx context.Context, url string, body []byte, headers map[string]string, timeout time.Duration) Response {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return Response{
		Body:       respBody,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}
}

// Close releases idle connections. Safe on a nil client and when called
// repeatedly; the client stays usable.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
