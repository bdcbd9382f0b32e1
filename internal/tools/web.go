package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned while the outbound circuit is open and web
// calls are being rejected to let the upstream recover.
var ErrCircuitOpen = errors.New("tools: web circuit breaker is open")

// WebConfig tunes the outbound HTTP tools.
type WebConfig struct {
	// FetchLimit caps how many response bytes web_fetch returns.
	FetchLimit int64
	// RatePerSec and Burst feed the shared token-bucket limiter.
	RatePerSec float64
	Burst      int
	// Timeout bounds each outbound request.
	Timeout time.Duration
}

// WebTools exposes outbound HTTP access behind a rate limiter and circuit
// breaker shared by all web tools, so a flapping upstream cannot be hammered
// by retried calls.
type WebTools struct {
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	limit   int64
}

// NewWebTools wires the web tool set.
func NewWebTools(cfg WebConfig) *WebTools {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 1 << 20
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "web",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &WebTools{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breaker: breaker,
		limit:   cfg.FetchLimit,
	}
}

type webFetchInput struct {
	URL string `json:"url" jsonschema_description:"HTTP or HTTPS URL to fetch."`
}

type webFetchOutput struct {
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body"`
	Truncated   bool   `json:"truncated,omitempty"`
}

type webStatusInput struct {
	URL string `json:"url" jsonschema_description:"HTTP or HTTPS URL to probe."`
}

type webStatusOutput struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	LatencyMS  int64  `json:"latency_ms"`
}

// Definitions returns the web tool set.
func (w *WebTools) Definitions() []Definition {
	return []Definition{
		{
			Name:        "web_fetch",
			Description: "Fetch a URL and return the response body, truncated to the configured limit.",
			InputSchema: GenerateSchema[webFetchInput](),
			Handler:     w.fetch,
		},
		{
			Name:        "web_status",
			Description: "Probe a URL and return its HTTP status code and latency without the body.",
			InputSchema: GenerateSchema[webStatusInput](),
			Handler:     w.status,
		},
	}
}

func (w *WebTools) checkURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed url: %v", ErrBadInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: only http and https urls are allowed", ErrBadInput)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: url host is required", ErrBadInput)
	}
	return u, nil
}

// do runs one guarded request: rate limit first, then the breaker.
func (w *WebTools) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := w.breaker.Execute(func() (any, error) {
		resp, err := w.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			// Server errors count against the breaker; the response is
			// still returned to the caller.
			return resp, fmt.Errorf("upstream returned %d", resp.StatusCode)
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	if resp, ok := result.(*http.Response); ok {
		return resp, nil
	}
	return nil, err
}

func (w *WebTools) fetch(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[webFetchInput](input)
	if err != nil {
		return nil, err
	}
	u, err := w.checkURL(in.URL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	truncated := int64(len(body)) > w.limit
	if truncated {
		body = body[:w.limit]
	}
	return webFetchOutput{
		URL:         u.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        string(body),
		Truncated:   truncated,
	}, nil
}

func (w *WebTools) status(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[webStatusInput](input)
	if err != nil {
		return nil, err
	}
	u, err := w.checkURL(in.URL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := w.do(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	return webStatusOutput{
		URL:        u.String(),
		StatusCode: resp.StatusCode,
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}
