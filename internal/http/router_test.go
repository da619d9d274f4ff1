package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"newswire/internal/config"
	"newswire/internal/jobs"
	"newswire/internal/metrics"
	"newswire/internal/model"
	"newswire/internal/sources"
	"newswire/internal/store"
)

type fakeJobs struct {
	job       model.ScrapingJob
	jobs      []model.ScrapingJob
	logs      []model.ScrapingLog
	createErr error
	getErr    error
	listErr   error
	logsErr   error
	cancelErr error
	started   []uuid.UUID

	gotRefs      []string
	gotPerSource int
}

func (f *fakeJobs) CreateJob(_ context.Context, refs []string, perSource int) (model.ScrapingJob, error) {
	f.gotRefs = refs
	f.gotPerSource = perSource
	if f.createErr != nil {
		return model.ScrapingJob{}, f.createErr
	}
	return f.job, nil
}

func (f *fakeJobs) StartJob(id uuid.UUID) { f.started = append(f.started, id) }

func (f *fakeJobs) CancelJob(context.Context, uuid.UUID) error { return f.cancelErr }

func (f *fakeJobs) GetJob(context.Context, uuid.UUID) (model.ScrapingJob, error) {
	if f.getErr != nil {
		return model.ScrapingJob{}, f.getErr
	}
	return f.job, nil
}

func (f *fakeJobs) ListJobs(context.Context, store.JobFilter) ([]model.ScrapingJob, int, error) {
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return f.jobs, len(f.jobs), nil
}

func (f *fakeJobs) GetJobLogs(context.Context, uuid.UUID, store.LogFilter) ([]model.ScrapingLog, int, error) {
	if f.logsErr != nil {
		return nil, 0, f.logsErr
	}
	return f.logs, len(f.logs), nil
}

type fakeRegistry struct {
	src       model.Source
	list      []model.Source
	test      sources.TestResult
	createErr error
	updateErr error
	deleteErr error
	lastCall  string
}

func (f *fakeRegistry) Create(context.Context, sources.CreateInput) (model.Source, error) {
	f.lastCall = "create"
	if f.createErr != nil {
		return model.Source{}, f.createErr
	}
	return f.src, nil
}

func (f *fakeRegistry) Update(context.Context, uuid.UUID, sources.UpdateInput) (model.Source, error) {
	f.lastCall = "update"
	if f.updateErr != nil {
		return model.Source{}, f.updateErr
	}
	return f.src, nil
}

func (f *fakeRegistry) Delete(context.Context, uuid.UUID) error {
	f.lastCall = "delete"
	return f.deleteErr
}

func (f *fakeRegistry) Get(context.Context, uuid.UUID) (model.Source, error) {
	f.lastCall = "get"
	return f.src, nil
}

func (f *fakeRegistry) List(context.Context, int, int) ([]model.Source, int, error) {
	f.lastCall = "list"
	return f.list, len(f.list), nil
}

func (f *fakeRegistry) Test(context.Context, uuid.UUID) (sources.TestResult, error) {
	f.lastCall = "test"
	return f.test, nil
}

type fakeContent struct {
	articles map[uuid.UUID]model.Article
}

func (f *fakeContent) GetArticle(_ context.Context, id uuid.UUID) (model.Article, error) {
	a, ok := f.articles[id]
	if !ok {
		return model.Article{}, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeContent) ListArticles(context.Context, store.ArticleFilter) ([]model.Article, int, error) {
	out := make([]model.Article, 0, len(f.articles))
	for _, a := range f.articles {
		out = append(out, a)
	}
	return out, len(out), nil
}

type fakeDashboard struct {
	snap metrics.Dashboard
	err  error
}

func (f *fakeDashboard) Snapshot(context.Context) (metrics.Dashboard, error) {
	return f.snap, f.err
}

func testDeps() (Deps, *fakeJobs, *fakeRegistry, *fakeContent) {
	mgr := &fakeJobs{job: model.ScrapingJob{ID: uuid.New(), Status: "new"}}
	reg := &fakeRegistry{src: model.Source{ID: uuid.New(), Name: "bbc", Domain: "bbc.co.uk"}}
	content := &fakeContent{articles: make(map[uuid.UUID]model.Article)}
	deps := Deps{
		Config:    &config.Config{},
		Jobs:      mgr,
		Sources:   reg,
		Content:   content,
		Dashboard: &fakeDashboard{snap: metrics.Dashboard{JobsTriggered: 3, SuccessRate: 67, WindowDays: 7}},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return deps, mgr, reg, content
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func decodeErrorBody(t *testing.T, raw []byte) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("error body not the uniform envelope: %v\n%s", err, raw)
	}
	return body
}

func TestScrapeTriggerAccepted(t *testing.T) {
	deps, mgr, _, _ := testDeps()
	app := NewServer(deps).App()

	resp, raw := doJSON(t, app, http.MethodPost, "/api/scrape",
		ScrapeRequest{Sources: []string{"bbc"}, MaxArticles: 5})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202\n%s", resp.StatusCode, raw)
	}

	var out ScrapeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.JobID != mgr.job.ID.String() {
		t.Errorf("jobId = %s, want %s", out.JobID, mgr.job.ID)
	}
	if len(mgr.started) != 1 || mgr.started[0] != mgr.job.ID {
		t.Errorf("started = %v, want the created job dispatched once", mgr.started)
	}
}

func TestScrapeTriggerDefaultMaxArticles(t *testing.T) {
	deps, mgr, _, _ := testDeps()
	deps.Config.Pipeline.DefaultArticlesPerSource = 10
	app := NewServer(deps).App()

	resp, raw := doJSON(t, app, http.MethodPost, "/api/scrape",
		ScrapeRequest{Sources: []string{"bbc"}})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202\n%s", resp.StatusCode, raw)
	}
	if mgr.gotPerSource != 10 {
		t.Errorf("articlesPerSource = %d, want the configured default 10", mgr.gotPerSource)
	}
}

func TestScrapeTriggerMalformedBody(t *testing.T) {
	deps, mgr, _, _ := testDeps()
	app := NewServer(deps).App()

	req, _ := http.NewRequest(http.MethodPost, "/api/scrape", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if len(mgr.started) != 0 {
		t.Error("malformed trigger dispatched a job")
	}
}

func TestScrapeTriggerValidationError(t *testing.T) {
	deps, mgr, _, _ := testDeps()
	mgr.createErr = fmt.Errorf("%w: sources must not be empty", jobs.ErrInvalidRequest)
	app := NewServer(deps).App()

	resp, raw := doJSON(t, app, http.MethodPost, "/api/scrape", ScrapeRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeErrorBody(t, raw)
	if body.Error != "InvalidRequest" || body.StatusCode != http.StatusBadRequest {
		t.Errorf("envelope = %+v", body)
	}
	if body.Timestamp.IsZero() {
		t.Error("envelope missing timestamp")
	}
	if len(mgr.started) != 0 {
		t.Error("invalid trigger dispatched a job")
	}
}

func TestJobsListEnvelope(t *testing.T) {
	deps, mgr, _, _ := testDeps()
	mgr.jobs = []model.ScrapingJob{{ID: uuid.New()}, {ID: uuid.New()}}
	app := NewServer(deps).App()

	resp, raw := doJSON(t, app, http.MethodGet, "/api/jobs?page=1&pageSize=20", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var env ListEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Total != 2 || env.Page != 1 || env.PageSize != 20 || env.HasMore {
		t.Errorf("envelope = %+v", env)
	}
}

func TestJobDetailErrors(t *testing.T) {
	deps, mgr, _, _ := testDeps()
	mgr.getErr = store.ErrNotFound
	app := NewServer(deps).App()

	resp, _ := doJSON(t, app, http.MethodGet, "/api/jobs/"+uuid.New().String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", resp.StatusCode)
	}

	resp, raw := doJSON(t, app, http.MethodGet, "/api/jobs/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", resp.StatusCode)
	}
	if body := decodeErrorBody(t, raw); body.Error != "InvalidRequest" {
		t.Errorf("bad id error = %s, want InvalidRequest", body.Error)
	}
}

func TestJobCancelConflict(t *testing.T) {
	deps, mgr, _, _ := testDeps()
	mgr.cancelErr = fmt.Errorf("%w: job is already successful", store.ErrConflict)
	app := NewServer(deps).App()

	resp, raw := doJSON(t, app, http.MethodDelete, "/api/jobs/"+uuid.New().String(), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if body := decodeErrorBody(t, raw); body.Error != "Conflict" {
		t.Errorf("error = %s, want Conflict", body.Error)
	}
}

func TestTransientErrorMapsTo503(t *testing.T) {
	deps, mgr, _, _ := testDeps()
	mgr.listErr = fmt.Errorf("%w: connection refused", store.ErrTransient)
	app := NewServer(deps).App()

	resp, raw := doJSON(t, app, http.MethodGet, "/api/jobs", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if body := decodeErrorBody(t, raw); strings.Contains(body.Message, "connection refused") {
		t.Error("transient error leaked backend details")
	}
}

func TestUnknownErrorStaysOpaque(t *testing.T) {
	deps, mgr, _, _ := testDeps()
	mgr.listErr = errors.New("pq: column does not exist")
	app := NewServer(deps).App()

	resp, raw := doJSON(t, app, http.MethodGet, "/api/jobs", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if bytes.Contains(raw, []byte("pq:")) {
		t.Error("internal error leaked driver details")
	}
}

func TestContentDetailMarkdown(t *testing.T) {
	deps, _, _, content := testDeps()
	html := "<h1>Launch</h1><p>It <strong>worked</strong>.</p>"
	withHTML := model.Article{ID: uuid.New(), Title: "Launch", Content: "It worked.", FullHTML: &html}
	plain := model.Article{ID: uuid.New(), Title: "Plain", Content: "Only text."}
	content.articles[withHTML.ID] = withHTML
	content.articles[plain.ID] = plain
	app := NewServer(deps).App()

	resp, raw := doJSON(t, app, http.MethodGet, "/api/content/"+withHTML.ID.String()+"?format=markdown", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(out["markdown"], "# Launch") || !strings.Contains(out["markdown"], "**worked**") {
		t.Errorf("markdown = %q, want converted headings and emphasis", out["markdown"])
	}

	// No retained HTML: the cleaned text is the markdown.
	_, raw = doJSON(t, app, http.MethodGet, "/api/content/"+plain.ID.String()+"?format=markdown", nil)
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["markdown"] != "Only text." {
		t.Errorf("markdown fallback = %q, want the plain content", out["markdown"])
	}
}

func TestContentDetailNeverLeaksFullHTML(t *testing.T) {
	deps, _, _, content := testDeps()
	html := "<html><body>raw page</body></html>"
	article := model.Article{ID: uuid.New(), Title: "T", Content: "text", FullHTML: &html}
	content.articles[article.ID] = article
	app := NewServer(deps).App()

	_, raw := doJSON(t, app, http.MethodGet, "/api/content/"+article.ID.String(), nil)
	if bytes.Contains(raw, []byte("raw page")) {
		t.Error("article response leaked retained HTML")
	}
}

func TestSourceCreate(t *testing.T) {
	deps, _, reg, _ := testDeps()
	app := NewServer(deps).App()

	resp, _ := doJSON(t, app, http.MethodPost, "/api/sources", sources.CreateInput{
		Name: "bbc", Domain: "bbc.co.uk", RSSURL: "https://feeds.bbci.co.uk/news/rss.xml"})
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	if reg.lastCall != "create" {
		t.Errorf("routed to %s, want create", reg.lastCall)
	}
}

func TestSourceCreateInvalidFeed(t *testing.T) {
	deps, _, reg, _ := testDeps()
	reg.createErr = fmt.Errorf("%w: feed contains no items", sources.ErrInvalidFeed)
	app := NewServer(deps).App()

	resp, raw := doJSON(t, app, http.MethodPost, "/api/sources", sources.CreateInput{
		Name: "bbc", Domain: "bbc.co.uk", RSSURL: "https://bbc.co.uk/empty.xml"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if body := decodeErrorBody(t, raw); body.Error != "InvalidRSSFeed" {
		t.Errorf("error = %s, want InvalidRSSFeed", body.Error)
	}
}

func TestSourceTestRouteIsDistinctFromUpdate(t *testing.T) {
	deps, _, reg, _ := testDeps()
	reg.test = sources.TestResult{OK: true, FeedTitle: "BBC", ItemCount: 12}
	app := NewServer(deps).App()

	resp, raw := doJSON(t, app, http.MethodPatch, "/api/sources/"+uuid.New().String()+"/test", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if reg.lastCall != "test" {
		t.Errorf("routed to %s, want test", reg.lastCall)
	}
	var out sources.TestResult
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.OK || out.ItemCount != 12 {
		t.Errorf("result = %+v", out)
	}
}

func TestDashboardEndpoint(t *testing.T) {
	deps, _, _, _ := testDeps()
	app := NewServer(deps).App()

	resp, raw := doJSON(t, app, http.MethodGet, "/api/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out metrics.Dashboard
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.JobsTriggered != 3 || out.SuccessRate != 67 {
		t.Errorf("dashboard = %+v", out)
	}
}

func TestHealthShallow(t *testing.T) {
	deps, _, _, _ := testDeps()
	app := NewServer(deps).App()

	resp, raw := doJSON(t, app, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "ok" {
		t.Errorf("status = %q, want ok", out["status"])
	}
}

func TestRequestIDEchoed(t *testing.T) {
	deps, _, _, _ := testDeps()
	app := NewServer(deps).App()

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "test-correlation-id")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); got != "test-correlation-id" {
		t.Errorf("X-Request-Id = %q, want the caller's id echoed", got)
	}

	// Without a caller id the server mints one.
	req, _ = http.NewRequest(http.MethodGet, "/health", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("no X-Request-Id assigned")
	}
}

func TestMetricsEndpointServesText(t *testing.T) {
	deps, _, _, _ := testDeps()
	app := NewServer(deps).App()

	metrics.Reset()
	t.Cleanup(metrics.Reset)

	resp, raw := doJSON(t, app, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !bytes.Contains(raw, []byte("newswire_articles_persisted_total")) {
		t.Error("metrics text missing engine counters")
	}
}
