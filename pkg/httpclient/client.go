// Package httpclient provides the shared resilient HTTP client that the
// HTTP-backed Rule Pack Worker (pkg/rulepack) uses for its downstream calls,
// per spec.md §5's cancellation/timeout/retry rules.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultTimeout is the per-call deadline spec.md §5 specifies.
const DefaultTimeout = 10 * time.Second

// MaxRetries is the bounded retry count spec.md §5 specifies.
const MaxRetries = 3

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client wraps *http.Client with correlation-id/traceparent propagation and
// bounded retry whose delay grows by BackoffFactor on each attempt.
type Client struct {
	HTTP         *http.Client
	BackoffFactor time.Duration
}

// New returns a Client configured with the spec's default timeout.
func New() *Client {
	return &Client{
		HTTP:          &http.Client{Timeout: DefaultTimeout},
		BackoffFactor: 200 * time.Millisecond,
	}
}

// Headers carries the propagation headers spec.md §6 requires on every
// outbound downstream request.
type Headers struct {
	Authorization string // "Bearer <jwt>"; empty if not applicable
	CorrelationID string
	TraceParent   string
}

// linearBackOff waits factor*n before the n-th retry.
type linearBackOff struct {
	factor  time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.factor * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

func (h Headers) apply(req *http.Request) {
	if h.Authorization != "" {
		req.Header.Set("Authorization", h.Authorization)
	}
	if h.CorrelationID != "" {
		req.Header.Set("X-Correlation-ID", h.CorrelationID)
	}
	if h.TraceParent != "" {
		req.Header.Set("traceparent", h.TraceParent)
	}
}

// DoJSON issues method/url with body marshaled as JSON (if non-nil),
// retrying on 429/500/502/503/504 and transport errors with
// delay = backoffFactor * attempt, up to MaxRetries attempts. The response
// body is returned unparsed for the caller to decode.
func (c *Client) DoJSON(ctx context.Context, method, url string, body []byte, headers Headers) ([]byte, int, error) {
	op := func() (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("httpclient: build request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		headers.apply(req)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			// transport error: retryable
			return nil, err
		}
		if retryableStatus[resp.StatusCode] {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("httpclient: retryable status %d", resp.StatusCode)
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
		return op()
	},
		backoff.WithBackOff(&linearBackOff{factor: c.BackoffFactor}),
		backoff.WithMaxTries(MaxRetries+1),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("httpclient: request failed after retries: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("httpclient: read response body: %w", err)
	}
	return data, resp.StatusCode, nil
}
