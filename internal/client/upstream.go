// Package client provides the outbound HTTP client that fetches target URLs.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/model"
)

const userAgent = "cors-proxy-go/1.0"

// ErrTimeout matches fetches that exceeded their deadline.
var ErrTimeout = errors.New("upstream timeout")

// FetchError is the single error kind returned by Fetch. Its message is the
// transport's own description of the failure and is safe to show the client.
type FetchError struct {
	URL     string
	Timeout time.Duration // non-zero when the deadline was exceeded
	Err     error
}

func (e *FetchError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("timeout of %dms exceeded", e.Timeout.Milliseconds())
	}
	return e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTimeout) match deadline failures.
func (e *FetchError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout > 0
}

// UpstreamClient performs buffered requests against arbitrary target URLs.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient on a pooled transport. It keeps
// no cookie jar and follows redirects. The metrics parameter is optional;
// pass nil to disable upstream metrics recording.
func NewUpstreamClient(logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.IdleConnTimeout = 90 * time.Second
	transport.DialContext = (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &UpstreamClient{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "upstream_client"),
		metrics:    m,
	}
}

// Fetch issues method against targetURL with only the given Accept header and
// returns the fully read response. The timeout covers the whole exchange,
// including redirects and reading the body. Cancellation of ctx is not
// propagated: an inbound client going away does not abort the fetch.
func (c *UpstreamClient) Fetch(ctx context.Context, method, targetURL, accept string, timeout time.Duration) (*model.UpstreamResponse, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, targetURL, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: targetURL, Err: err}
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	label := metrics.NormalizeMethod(req.Method)
	if err != nil {
		c.observe(label, start, 0)
		return nil, c.wrap(targetURL, timeout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	c.observe(label, start, resp.StatusCode)
	if err != nil {
		return nil, c.wrap(targetURL, timeout, err)
	}

	resolved := ""
	if resp.Request != nil && resp.Request.URL != nil {
		resolved = resp.Request.URL.String()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header,
		Body:       body,
		FinalURL:   ResolveFinalURL(targetURL, resolved),
	}, nil
}

func (c *UpstreamClient) wrap(targetURL string, timeout time.Duration, err error) error {
	fe := &FetchError{URL: targetURL, Err: err}
	if errors.Is(err, context.DeadlineExceeded) {
		fe.Timeout = timeout
	}
	return fe
}

// observe records latency and, when a response arrived, its status.
func (c *UpstreamClient) observe(method string, start time.Time, status int) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if status > 0 {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(status)).Inc()
	}
}

// ResolveFinalURL picks the URL reported to the client after redirects. When
// the requested URL is a prefix of the transport's resolved URL (trailing
// slash or default path added along the way) the requested URL is kept.
func ResolveFinalURL(requested, resolved string) string {
	if resolved == "" || strings.HasPrefix(resolved, requested) {
		return requested
	}
	return resolved
}

// statusText returns the upstream reason phrase, falling back to the
// standard text when the status line carries none.
func statusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
