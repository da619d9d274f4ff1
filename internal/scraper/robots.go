package scraper

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// robotsTTL bounds how long a host's robots.txt is trusted before refetch.
const robotsTTL = time.Hour

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// Robots answers "may I fetch this URL" per host, caching parsed robots.txt.
// Sources opt in via respect_robots_txt; the RSS URL itself is never gated
// because it is the operator-configured entry point.
type Robots struct {
	http *http.Client

	mu    sync.Mutex
	cache map[string]*robotsEntry
}

// NewRobots builds a Robots gate with its own short-timeout client. robots.txt
// is small and must not eat into a source's article budget.
func NewRobots() *Robots {
	return &Robots{
		http:  &http.Client{Timeout: 5 * time.Second},
		cache: make(map[string]*robotsEntry),
	}
}

// Allowed reports whether userAgent may fetch rawURL. Unreachable or
// malformed robots.txt fails open; publishers that want crawler control
// serve the file.
func (r *Robots) Allowed(ctx context.Context, rawURL, userAgent string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	data := r.lookup(ctx, u)
	if data == nil {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.FindGroup(userAgent).Test(path)
}

func (r *Robots) lookup(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := u.Scheme + "://" + u.Host

	r.mu.Lock()
	if e, ok := r.cache[key]; ok && time.Since(e.fetchedAt) < robotsTTL {
		r.mu.Unlock()
		return e.data
	}
	r.mu.Unlock()

	data := r.fetch(ctx, key+"/robots.txt")

	r.mu.Lock()
	r.cache[key] = &robotsEntry{data: data, fetchedAt: time.Now()}
	r.mu.Unlock()
	return data
}

// fetch retrieves and parses one robots.txt. A nil return means "no policy";
// status-code semantics (4xx allows, 5xx disallows) are the library's.
func (r *Robots) fetch(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil
	}
	return data
}
