package sources

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"newswire/internal/feed"
	"newswire/internal/model"
	"newswire/internal/store"
)

type sourceStore struct {
	mu         sync.Mutex
	sources    map[uuid.UUID]model.Source
	activeJobs map[uuid.UUID]int
}

func newSourceStore() *sourceStore {
	return &sourceStore{sources: make(map[uuid.UUID]model.Source), activeJobs: make(map[uuid.UUID]int)}
}

func (s *sourceStore) CreateSource(_ context.Context, src *model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sources {
		if existing.Domain == src.Domain {
			return store.ErrConflict
		}
	}
	s.sources[src.ID] = *src
	return nil
}

func (s *sourceStore) GetSource(_ context.Context, id uuid.UUID) (model.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return model.Source{}, store.ErrNotFound
	}
	return src, nil
}

func (s *sourceStore) ListSources(_ context.Context, _, _ int) ([]model.Source, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	return out, len(out), nil
}

func (s *sourceStore) UpdateSource(_ context.Context, src *model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[src.ID]; !ok {
		return store.ErrNotFound
	}
	s.sources[src.ID] = *src
	return nil
}

func (s *sourceStore) DeleteSource(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.sources, id)
	return nil
}

func (s *sourceStore) CountActiveJobsReferencingSource(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeJobs[id], nil
}

// checkerFunc adapts a function to FeedChecker and counts invocations.
type checker struct {
	mu    sync.Mutex
	calls int
	fn    func(rssURL string) (*feed.Feed, error)
}

func (c *checker) Fetch(_ context.Context, rssURL, _ string) (*feed.Feed, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.fn(rssURL)
}

func (c *checker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func healthyChecker() *checker {
	return &checker{fn: func(string) (*feed.Feed, error) {
		return &feed.Feed{Title: "Example Feed", Items: []feed.Item{{Title: "a", URL: "https://x/1"}}}, nil
	}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validInput() CreateInput {
	return CreateInput{
		Name:   "BBC News",
		Domain: "bbc.co.uk",
		RSSURL: "https://feeds.bbci.co.uk/news/rss.xml",
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	st := newSourceStore()
	r := NewRegistry(st, healthyChecker(), discardLogger())

	src, err := r.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if src.TimeoutMs != 30000 {
		t.Errorf("timeout = %d, want default 30000", src.TimeoutMs)
	}
	if src.DelayMs != 1000 {
		t.Errorf("delay = %d, want default 1000", src.DelayMs)
	}
	if !src.RespectRobotsTxt {
		t.Error("robots.txt not respected by default")
	}
	if !src.IsActive {
		t.Error("source not active by default")
	}
	if _, err := st.GetSource(context.Background(), src.ID); err != nil {
		t.Errorf("source not persisted: %v", err)
	}
}

func TestCreateNormalizesDomain(t *testing.T) {
	st := newSourceStore()
	r := NewRegistry(st, healthyChecker(), discardLogger())

	in := validInput()
	in.Domain = "  News.Example.COM  "
	src, err := r.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if src.Domain != "news.example.com" {
		t.Errorf("domain = %q, want news.example.com", src.Domain)
	}
}

func TestCreateValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"empty name", func(in *CreateInput) { in.Name = "" }},
		{"name too long", func(in *CreateInput) { in.Name = strings.Repeat("x", 201) }},
		{"bad domain", func(in *CreateInput) { in.Domain = "not a domain" }},
		{"relative rss url", func(in *CreateInput) { in.RSSURL = "/feed.xml" }},
		{"ftp rss url", func(in *CreateInput) { in.RSSURL = "ftp://example.com/feed.xml" }},
		{"timeout too small", func(in *CreateInput) { in.TimeoutMs = 5 }},
		{"delay too large", func(in *CreateInput) { in.DelayMs = 600000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fc := healthyChecker()
			r := NewRegistry(newSourceStore(), fc, discardLogger())
			in := validInput()
			tc.mutate(&in)
			_, err := r.Create(context.Background(), in)
			if !errors.Is(err, store.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
			if fc.callCount() != 0 {
				t.Error("feed fetched despite invalid payload")
			}
		})
	}
}

func TestCreateRejectsUnreachableFeed(t *testing.T) {
	fc := &checker{fn: func(string) (*feed.Feed, error) { return nil, errors.New("http 500") }}
	r := NewRegistry(newSourceStore(), fc, discardLogger())
	_, err := r.Create(context.Background(), validInput())
	if !errors.Is(err, ErrInvalidFeed) {
		t.Errorf("err = %v, want ErrInvalidFeed", err)
	}
}

func TestCreateRejectsEmptyFeed(t *testing.T) {
	fc := &checker{fn: func(string) (*feed.Feed, error) { return &feed.Feed{Title: "Empty"}, nil }}
	r := NewRegistry(newSourceStore(), fc, discardLogger())
	_, err := r.Create(context.Background(), validInput())
	if !errors.Is(err, ErrInvalidFeed) {
		t.Errorf("err = %v, want ErrInvalidFeed", err)
	}
}

func TestCreateDuplicateDomainConflicts(t *testing.T) {
	st := newSourceStore()
	r := NewRegistry(st, healthyChecker(), discardLogger())
	if _, err := r.Create(context.Background(), validInput()); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	in := validInput()
	in.Name = "BBC Mirror"
	_, err := r.Create(context.Background(), in)
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestUpdateRevalidatesOnlyChangedFeed(t *testing.T) {
	st := newSourceStore()
	fc := healthyChecker()
	r := NewRegistry(st, fc, discardLogger())

	src, err := r.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	after := fc.callCount()

	// Rename only: no live check.
	name := "BBC World"
	if _, err := r.Update(context.Background(), src.ID, UpdateInput{Name: &name}); err != nil {
		t.Fatalf("Update name: %v", err)
	}
	if fc.callCount() != after {
		t.Error("rename triggered a feed fetch")
	}

	// Same URL submitted again: still no live check.
	same := src.RSSURL
	if _, err := r.Update(context.Background(), src.ID, UpdateInput{RSSURL: &same}); err != nil {
		t.Fatalf("Update same url: %v", err)
	}
	if fc.callCount() != after {
		t.Error("unchanged URL triggered a feed fetch")
	}

	// A new URL is verified.
	changed := "https://feeds.bbci.co.uk/news/world/rss.xml"
	got, err := r.Update(context.Background(), src.ID, UpdateInput{RSSURL: &changed})
	if err != nil {
		t.Fatalf("Update new url: %v", err)
	}
	if fc.callCount() != after+1 {
		t.Error("changed URL did not trigger a feed fetch")
	}
	if got.RSSURL != changed {
		t.Errorf("rssUrl = %q, want %q", got.RSSURL, changed)
	}
}

func TestUpdateUnknownSource(t *testing.T) {
	r := NewRegistry(newSourceStore(), healthyChecker(), discardLogger())
	name := "x"
	_, err := r.Update(context.Background(), uuid.New(), UpdateInput{Name: &name})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteBlockedByActiveJobs(t *testing.T) {
	st := newSourceStore()
	r := NewRegistry(st, healthyChecker(), discardLogger())
	src, err := r.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	st.mu.Lock()
	st.activeJobs[src.ID] = 2
	st.mu.Unlock()

	err = r.Delete(context.Background(), src.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if _, err := st.GetSource(context.Background(), src.ID); err != nil {
		t.Error("source deleted despite active jobs")
	}

	st.mu.Lock()
	st.activeJobs[src.ID] = 0
	st.mu.Unlock()
	if err := r.Delete(context.Background(), src.ID); err != nil {
		t.Errorf("Delete after jobs settled: %v", err)
	}
}

func TestTestReportsWithoutMutating(t *testing.T) {
	st := newSourceStore()
	r := NewRegistry(st, healthyChecker(), discardLogger())
	src, err := r.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := r.Test(context.Background(), src.ID)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if !res.OK || res.FeedTitle != "Example Feed" || res.ItemCount != 1 {
		t.Errorf("result = %+v, want ok with title and 1 item", res)
	}
}

func TestTestReportsBrokenFeedAsResult(t *testing.T) {
	st := newSourceStore()
	fc := healthyChecker()
	r := NewRegistry(st, fc, discardLogger())
	src, err := r.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Feed breaks after registration; the dry run reports it, not errors.
	fc.mu.Lock()
	fc.fn = func(string) (*feed.Feed, error) { return nil, errors.New("connection refused") }
	fc.mu.Unlock()

	res, err := r.Test(context.Background(), src.ID)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if res.OK {
		t.Error("broken feed reported as OK")
	}
	if res.Message == "" {
		t.Error("broken feed result carries no message")
	}
}
