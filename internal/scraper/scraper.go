// Package scraper performs the article-level HTTP fetches and enforces
// robots.txt for sources that opt in.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBodyBytes caps how much of a page is read. Articles are small; this
// guards the O(concurrency) memory bound against pathological responses.
const maxBodyBytes = 5 << 20

// Request describes one article fetch. Zero Timeout and empty UserAgent fall
// back to the client defaults.
type Request struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
}

// Result is the raw fetch output handed to the extractor.
type Result struct {
	URL       string
	FinalURL  string
	Status    int
	HTML      string
	LatencyMs int64
}

// HTTPError reports a completed request with a non-2xx status.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d fetching %s", e.StatusCode, e.URL)
}

// Client fetches pages over a shared connection pool. Per-request timeouts
// come from the request so per-source settings apply without a client per
// source.
type Client struct {
	http           *http.Client
	defaultUA      string
	defaultTimeout time.Duration
}

// NewClient builds a Client with process-wide defaults.
func NewClient(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: &http.Client{
			// Timeout stays zero; cancellation and deadlines ride the context.
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		defaultUA:      userAgent,
		defaultTimeout: timeout,
	}
}

// Fetch GETs one page. On a non-2xx response it returns both a Result
// carrying the status and latency for logging and an *HTTPError.
func (c *Client) Fetch(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", req.URL, err)
	}
	ua := req.UserAgent
	if ua == "" {
		ua = c.defaultUA
	}
	httpReq.Header.Set("User-Agent", ua)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	res := &Result{
		URL:       req.URL,
		FinalURL:  resp.Request.URL.String(),
		Status:    resp.StatusCode,
		LatencyMs: latency,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused, then report.
		_, _ = io.CopyN(io.Discard, resp.Body, 2048)
		return res, &HTTPError{StatusCode: resp.StatusCode, URL: req.URL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", req.URL, err)
	}
	res.HTML = string(body)
	res.LatencyMs = time.Since(start).Milliseconds()
	return res, nil
}
