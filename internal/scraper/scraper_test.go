package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchReturnsPage(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("<html><body>article</body></html>"))
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, "newswire-test/1.0")
	res, err := c.Fetch(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", res.Status)
	}
	if res.HTML != "<html><body>article</body></html>" {
		t.Errorf("html = %q", res.HTML)
	}
	if gotUA != "newswire-test/1.0" {
		t.Errorf("user agent = %q, want the client default", gotUA)
	}
	if res.LatencyMs < 0 {
		t.Errorf("latency = %d", res.LatencyMs)
	}
}

func TestFetchPerRequestUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, "default-ua")
	if _, err := c.Fetch(context.Background(), Request{URL: srv.URL, UserAgent: "per-source-ua"}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotUA != "per-source-ua" {
		t.Errorf("user agent = %q, want the per-request override", gotUA)
	}
}

func TestFetchNon2xxIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, "ua")
	res, err := c.Fetch(context.Background(), Request{URL: srv.URL})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", httpErr.StatusCode)
	}
	// The result still carries status and latency for the log event.
	if res == nil || res.Status != http.StatusNotFound {
		t.Errorf("result = %+v, want status carried through", res)
	}
}

func TestFetchHonorsRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(time.Minute, "ua")
	start := time.Now()
	_, err := c.Fetch(context.Background(), Request{URL: srv.URL, Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v, per-request deadline not applied", elapsed)
	}
}

func TestFetchObservesCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := NewClient(time.Minute, "ua")
	if _, err := c.Fetch(ctx, Request{URL: srv.URL}); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func robotsServer(t *testing.T, policy string, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		w.Write([]byte(policy))
	}))
}

func TestRobotsDisallowRules(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nDisallow: /private/\n", nil)
	defer srv.Close()

	r := NewRobots()
	ctx := context.Background()
	if !r.Allowed(ctx, srv.URL+"/news/story", "newswire/1.0") {
		t.Error("allowed path blocked")
	}
	if r.Allowed(ctx, srv.URL+"/private/story", "newswire/1.0") {
		t.Error("disallowed path allowed")
	}
}

func TestRobotsPerAgentGroups(t *testing.T) {
	policy := "User-agent: newswire\nDisallow: /\n\nUser-agent: *\nDisallow:\n"
	srv := robotsServer(t, policy, nil)
	defer srv.Close()

	r := NewRobots()
	ctx := context.Background()
	if r.Allowed(ctx, srv.URL+"/story", "newswire") {
		t.Error("agent-specific disallow ignored")
	}
	if !r.Allowed(ctx, srv.URL+"/story", "otherbot") {
		t.Error("wildcard group not applied to other agents")
	}
}

func TestRobotsMissingFileFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := NewRobots()
	if !r.Allowed(context.Background(), srv.URL+"/anything", "newswire/1.0") {
		t.Error("missing robots.txt did not fail open")
	}
}

func TestRobotsUnreachableHostFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	r := NewRobots()
	if !r.Allowed(context.Background(), srv.URL+"/anything", "newswire/1.0") {
		t.Error("unreachable robots.txt did not fail open")
	}
}

func TestRobotsCachesPerHost(t *testing.T) {
	var hits atomic.Int64
	srv := robotsServer(t, "User-agent: *\nDisallow: /private/\n", &hits)
	defer srv.Close()

	r := NewRobots()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.Allowed(ctx, srv.URL+"/story", "newswire/1.0")
	}
	if hits.Load() != 1 {
		t.Errorf("robots.txt fetched %d times for one host, want 1", hits.Load())
	}
}
