// Package nws is the client for the National Weather Service API. Fetch
// never returns a Go error: every failure mode is encoded in the
// FetchResult so callers can apply cache policy without exception-style
// control flow.
package nws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/adventureadjacent/mapcase-weather/internal/httpcache"
	"github.com/adventureadjacent/mapcase-weather/internal/observability"
)

const (
	// DefaultBaseURL is the production NWS API host.
	DefaultBaseURL = "https://api.weather.gov"

	// userAgent identifies this service to the NWS API, which requires a
	// contact-bearing User-Agent.
	userAgent = "(Mapcase by Adventure Adjacent; adventureadjacent.com; contact: mapcase@adventureadjacent.com)"

	acceptHeader = "application/geo+json"

	// bodyPreviewLimit caps the diagnostic preview captured for unparsable bodies.
	bodyPreviewLimit = 300
)

// Conditional carries the validators for a conditional request. Empty
// fields are omitted from the request.
type Conditional struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// FetchResult is the complete outcome of one upstream fetch. StatusCode 0
// means the request never produced an HTTP response (transport failure or
// open breaker); Error is non-empty for every failure mode.
type FetchResult struct {
	URL          string
	StatusCode   int
	JSON         map[string]interface{}
	Raw          json.RawMessage
	Header       http.Header
	ETag         string
	LastModified time.Time
	Error        string
	BodyPreview  string
}

// OK reports a 200 response with a parsed JSON object body.
func (r FetchResult) OK() bool {
	return r.StatusCode == http.StatusOK && r.Error == "" && r.JSON != nil
}

// Client fetches NWS resources.
type Client interface {
	Fetch(ctx context.Context, url string, cond Conditional) FetchResult
	Points(ctx context.Context, lat, lon float64) FetchResult
}

// HTTPClient implements Client over net/http with a bounded per-call
// timeout. Redirects are followed by the default transport.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient creates an HTTPClient. baseURL defaults to the production
// API host; timeout bounds every call.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// BreakerConfig configures the optional upstream circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
	OnStateChange    func(from, to gobreaker.State)
}

// EnableBreaker wraps subsequent fetches in a circuit breaker. An open
// circuit is reported as a transport-class FetchResult, not an error.
func (c *HTTPClient) EnableBreaker(cfg BreakerConfig) {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "nws_api",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(from, to)
			}
		},
	})
}

// Points fetches the point-resolution resource for a coordinate.
func (c *HTTPClient) Points(ctx context.Context, lat, lon float64) FetchResult {
	url := fmt.Sprintf("%s/points/%s,%s", c.baseURL, formatCoord(lat), formatCoord(lon))
	return c.Fetch(ctx, url, Conditional{})
}

// Fetch performs one GET against the NWS API. All failure modes are
// encoded in the result; see FetchResult.
func (c *HTTPClient) Fetch(ctx context.Context, url string, cond Conditional) FetchResult {
	result := FetchResult{URL: url}
	resource := classifyResource(url)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("build request: %v", err)
		observability.NWSCallsTotal.WithLabelValues(resource, "error").Inc()
		return result
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)
	if cond.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", cond.IfNoneMatch)
	}
	if cond.IfModifiedSince != "" {
		req.Header.Set("If-Modified-Since", cond.IfModifiedSince)
	}

	resp, err := c.do(req)
	duration := time.Since(start).Seconds()
	observability.NWSCallDuration.WithLabelValues(resource).Observe(duration)
	if err != nil {
		result.Error = classifyTransportError(err)
		observability.NWSCallsTotal.WithLabelValues(resource, "error").Inc()
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Header = resp.Header
	result.ETag = httpcache.ETag(resp.Header)
	if lm, ok := httpcache.LastModified(resp.Header); ok {
		result.LastModified = lm
	}
	observability.NWSCallsTotal.WithLabelValues(resource, statusLabel(resp.StatusCode)).Inc()

	// 304 carries no body by contract; validators above are all we need.
	if resp.StatusCode == http.StatusNotModified {
		return result
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = fmt.Sprintf("read response body: %v", err)
		return result
	}
	if len(body) == 0 {
		result.Error = "empty response body"
		return result
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		result.Error = fmt.Sprintf("response body is not a JSON object: %v", err)
		result.BodyPreview = preview(body)
		return result
	}

	result.JSON = parsed
	result.Raw = body
	return result
}

// do runs the request, through the breaker when one is configured.
func (c *HTTPClient) do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.client.Do(req)
	}
	resp, err := c.breaker.Execute(func() (interface{}, error) {
		r, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		// Server-side failures count against the breaker; the response is
		// still handed back so cache policy sees the real status.
		if r.StatusCode >= 500 {
			return r, fmt.Errorf("upstream status %d", r.StatusCode)
		}
		return r, nil
	})
	if resp != nil {
		if r, ok := resp.(*http.Response); ok {
			return r, nil
		}
	}
	return nil, err
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// classifyResource maps an NWS URL to a low-cardinality metrics label.
func classifyResource(url string) string {
	switch {
	case strings.Contains(url, "/points/"):
		return "points"
	case strings.HasSuffix(url, "/stations"):
		return "stations"
	case strings.HasSuffix(url, "/forecast/hourly"):
		return "hourly"
	case strings.HasSuffix(url, "/forecast"):
		return "forecast"
	case strings.Contains(url, "/gridpoints/"):
		return "griddata"
	default:
		return "other"
	}
}

func classifyTransportError(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "upstream circuit open"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "request canceled"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Client.Timeout"):
		return "request timeout"
	case strings.Contains(msg, "no such host"):
		return "dns lookup failed"
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return "connection failed"
	default:
		return fmt.Sprintf("request failed: %v", err)
	}
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode == http.StatusNotModified:
		return "not_modified"
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > bodyPreviewLimit {
		s = s[:bodyPreviewLimit]
	}
	return s
}
