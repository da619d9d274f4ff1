// Package joblog writes the per-job structured history that the API streams
// to the UI. Rows land in scraping_logs; every write is mirrored to the
// process logger at debug level so a single tail shows engine activity.
package joblog

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"newswire/internal/store"
)

// Log levels stored in scraping_logs.log_level.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Event types stored under additional_data.event_type.
const (
	TypeLifecycle   = "lifecycle"
	TypeHTTP        = "http"
	TypeExtraction  = "extraction"
	TypePersistence = "persistence"
	TypePerformance = "performance"
	TypeError       = "error"
)

// Event names stored under additional_data.event_name.
const (
	EventJobCreated       = "job_created"
	EventJobStarted       = "job_started"
	EventJobCompleted     = "job_completed"
	EventJobCancelled     = "job_cancelled"
	EventStuckJobRecovery = "stuck_job_recovery"
	EventProgressUpdate   = "progress_update"
	EventSourceStarted    = "source_started"
	EventSourceCompleted  = "source_completed"
	EventSourceFailed     = "source_failed"
	EventRSSParsed        = "rss_parsed"
	EventArticleSaved     = "article_saved"
	EventArticleFetchFail = "article_fetch_failed"
	EventExtractionFailed = "extraction_failed"
	EventDuplicateSkipped = "duplicate_skipped"
	EventRobotsDisallowed = "robots_disallowed"
)

// Event is the typed additional_data payload. Known keys are fixed fields;
// anything in Extra is preserved verbatim without overriding a typed key.
type Event struct {
	Type           string `json:"event_type,omitempty"`
	Name           string `json:"event_name,omitempty"`
	URL            string `json:"url,omitempty"`
	HTTPStatus     int    `json:"http.status,omitempty"`
	LatencyMs      int64  `json:"http.latency_ms,omitempty"`
	RetryCount     *int   `json:"retry_count,omitempty"`
	WillRetry      *bool  `json:"will_retry,omitempty"`
	ErrorType      string `json:"error_type,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Language       string `json:"language,omitempty"`
	ContentLength  int    `json:"content_length,omitempty"`
	FeedTitle      string `json:"feed_title,omitempty"`
	ItemsToProcess *int   `json:"items_to_process,omitempty"`
	TotalItems     *int   `json:"total_items,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	MemoryUsageMB  int    `json:"memory_usage_mb,omitempty"`

	Extra map[string]any `json:"-"`
}

// MarshalJSON flattens Extra into the same object as the typed fields.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	base, err := json.Marshal(plain(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return base, nil
	}
	var m map[string]any
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, taken := m[k]; !taken {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// Int and Bool lift literals into the optional event fields.
func Int(n int) *int    { return &n }
func Bool(b bool) *bool { return &b }

// Payload marshals an event for the store's transactional log writes. An
// event is plain data; a marshal failure here is a programming error, so the
// fallback is an empty object rather than a lost row.
func Payload(e Event) json.RawMessage {
	b, err := json.Marshal(e)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// Writer is the slice of the store the recorder needs.
type Writer interface {
	AppendLog(ctx context.Context, jobID uuid.UUID, e store.LogEntry) error
}

// Recorder appends log rows for one job. It is cheap to copy and safe for
// concurrent use; ForSource derives a recorder whose rows carry a source id.
type Recorder struct {
	w             Writer
	logger        *slog.Logger
	jobID         uuid.UUID
	sourceID      *uuid.UUID
	correlationID string
}

// NewRecorder builds a job-scoped recorder. The correlation id is stamped
// into every event that does not set its own.
func NewRecorder(w Writer, logger *slog.Logger, jobID uuid.UUID, correlationID string) *Recorder {
	return &Recorder{w: w, logger: logger, jobID: jobID, correlationID: correlationID}
}

// ForSource returns a recorder that attributes rows to the given source.
func (r *Recorder) ForSource(sourceID uuid.UUID) *Recorder {
	cp := *r
	cp.sourceID = &sourceID
	return &cp
}

// JobID returns the job this recorder writes for.
func (r *Recorder) JobID() uuid.UUID { return r.jobID }

// CorrelationID returns the id stamped into this recorder's events.
func (r *Recorder) CorrelationID() string { return r.correlationID }

// Entry builds the store row for an event without writing it, for callers
// that persist the log inside their own transaction.
func (r *Recorder) Entry(level, message string, ev Event) store.LogEntry {
	if ev.CorrelationID == "" {
		ev.CorrelationID = r.correlationID
	}
	return store.LogEntry{
		SourceID: r.sourceID,
		Level:    level,
		Message:  message,
		Data:     Payload(ev),
	}
}

func (r *Recorder) write(ctx context.Context, level, message string, ev Event) {
	entry := r.Entry(level, message, ev)
	if err := r.w.AppendLog(ctx, r.jobID, entry); err != nil {
		r.logger.Error("job log write failed",
			"job_id", r.jobID, "message", message, "error", err)
		return
	}
	r.logger.Debug("job log", "job_id", r.jobID, "level", level,
		"message", message, "event", ev.Name)
}

// Info records an informational event. Log writes never fail the caller; a
// write error is reported on the process logger only.
func (r *Recorder) Info(ctx context.Context, message string, ev Event) {
	r.write(ctx, LevelInfo, message, ev)
}

// Warn records a warning event.
func (r *Recorder) Warn(ctx context.Context, message string, ev Event) {
	r.write(ctx, LevelWarning, message, ev)
}

// Error records an error event.
func (r *Recorder) Error(ctx context.Context, message string, ev Event) {
	r.write(ctx, LevelError, message, ev)
}
