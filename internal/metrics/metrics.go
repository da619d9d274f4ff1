package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for HTTP requests and scraping outcomes.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	jobsCompleted       = make(map[string]int64)
	articlesPersisted   int64
	duplicatesAbsorbed  int64
	extractionFailures  int64
	sourceFetchFailures int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

// RecordRequest increments the request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordJobCompleted counts one job reaching a terminal status.
func RecordJobCompleted(status string) {
	mu.Lock()
	defer mu.Unlock()
	jobsCompleted[status]++
}

// RecordArticlesPersisted counts newly inserted articles.
func RecordArticlesPersisted(n int64) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	articlesPersisted += n
}

// RecordDuplicatesAbsorbed counts inserts absorbed by the dedup constraints.
func RecordDuplicatesAbsorbed(n int64) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	duplicatesAbsorbed += n
}

// RecordExtractionFailure counts pages no strategy could extract.
func RecordExtractionFailure() {
	mu.Lock()
	defer mu.Unlock()
	extractionFailures++
}

// RecordSourceFetchFailure counts per-source RSS or article fetch failures.
func RecordSourceFetchFailure() {
	mu.Lock()
	defer mu.Unlock()
	sourceFetchFailures++
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP newswire_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE newswire_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "newswire_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP newswire_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE newswire_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP newswire_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE newswire_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		sum := latencyMsSum[k]
		cnt := latencyMsCount[k]
		fmt.Fprintf(&b, "newswire_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, sum)
		fmt.Fprintf(&b, "newswire_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, cnt)
	}

	b.WriteString("# HELP newswire_jobs_completed_total Jobs reaching a terminal status\n")
	b.WriteString("# TYPE newswire_jobs_completed_total counter\n")

	var statuses []string
	for s := range jobsCompleted {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(&b, "newswire_jobs_completed_total{status=\"%s\"} %d\n", s, jobsCompleted[s])
	}

	b.WriteString("# HELP newswire_articles_persisted_total Articles written to scraped_content\n")
	b.WriteString("# TYPE newswire_articles_persisted_total counter\n")
	fmt.Fprintf(&b, "newswire_articles_persisted_total %d\n", articlesPersisted)

	b.WriteString("# HELP newswire_duplicates_absorbed_total Article inserts absorbed by dedup constraints\n")
	b.WriteString("# TYPE newswire_duplicates_absorbed_total counter\n")
	fmt.Fprintf(&b, "newswire_duplicates_absorbed_total %d\n", duplicatesAbsorbed)

	b.WriteString("# HELP newswire_extraction_failures_total Pages no extraction strategy could handle\n")
	b.WriteString("# TYPE newswire_extraction_failures_total counter\n")
	fmt.Fprintf(&b, "newswire_extraction_failures_total %d\n", extractionFailures)

	b.WriteString("# HELP newswire_source_fetch_failures_total Per-source RSS and article fetch failures\n")
	b.WriteString("# TYPE newswire_source_fetch_failures_total counter\n")
	fmt.Fprintf(&b, "newswire_source_fetch_failures_total %d\n", sourceFetchFailures)

	return b.String()
}

// Reset clears all counters. Test helper.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	requestsTotal = make(map[reqKey]int64)
	latencyMsSum = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)
	jobsCompleted = make(map[string]int64)
	articlesPersisted = 0
	duplicatesAbsorbed = 0
	extractionFailures = 0
	sourceFetchFailures = 0
}
