package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"newswire/internal/model"
)

// LogEntry is one scraping_logs row to be written. Data is the marshalled
// additional_data payload; nil stores SQL NULL.
type LogEntry struct {
	SourceID *uuid.UUID
	Level    string
	Message  string
	Data     json.RawMessage
}

// LogFilter narrows GetJobLogs. Zero values mean "no filter".
type LogFilter struct {
	Level     string
	EventType string
	Page      int
	PageSize  int
}

const insertLogSQL = `
INSERT INTO scraping_logs (id, job_id, source_id, log_level, message, timestamp, additional_data)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertLog writes one log row on any execer (pool or open transaction) so
// the transactional contracts in jobs.go and articles.go can share it.
func insertLog(ctx context.Context, ex execer, jobID uuid.UUID, e LogEntry) error {
	var data pqtype.NullRawMessage
	if len(e.Data) > 0 {
		data = pqtype.NullRawMessage{RawMessage: e.Data, Valid: true}
	}
	var sourceID any
	if e.SourceID != nil {
		sourceID = *e.SourceID
	}
	_, err := ex.ExecContext(ctx, insertLogSQL,
		uuid.New(), jobID, sourceID, e.Level, e.Message, time.Now().UTC(), data)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// AppendLog writes a single log row outside any caller transaction. Transient
// failures are retried; the engine treats a lost log as an error, not as a
// reason to fail the surrounding work.
func (s *Store) AppendLog(ctx context.Context, jobID uuid.UUID, e LogEntry) error {
	return s.withRetry(ctx, func() error {
		return classify(insertLog(ctx, s.DB, jobID, e))
	})
}

// ListJobLogs returns one page of logs for a job, newest first, plus the
// total row count for the filter.
func (s *Store) ListJobLogs(ctx context.Context, jobID uuid.UUID, f LogFilter) ([]model.ScrapingLog, int, error) {
	page, pageSize := normalizePage(f.Page, f.PageSize)

	where := "WHERE job_id = $1"
	args := []any{jobID}
	if f.Level != "" {
		args = append(args, f.Level)
		where += fmt.Sprintf(" AND log_level = $%d", len(args))
	}
	if f.EventType != "" {
		args = append(args, f.EventType)
		where += fmt.Sprintf(" AND additional_data ->> 'event_type' = $%d", len(args))
	}

	var total int
	if err := s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM scraping_logs "+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(fmt.Errorf("count logs: %w", err))
	}

	args = append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf(`
SELECT id, job_id, source_id, log_level, message, timestamp, additional_data
FROM scraping_logs %s
ORDER BY timestamp DESC, id DESC
LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("list logs: %w", err))
	}
	defer rows.Close()

	logs := make([]model.ScrapingLog, 0, pageSize)
	for rows.Next() {
		var (
			l        model.ScrapingLog
			sourceID uuid.NullUUID
			data     pqtype.NullRawMessage
		)
		if err := rows.Scan(&l.ID, &l.JobID, &sourceID, &l.LogLevel, &l.Message, &l.Timestamp, &data); err != nil {
			return nil, 0, classify(fmt.Errorf("scan log: %w", err))
		}
		if sourceID.Valid {
			id := sourceID.UUID
			l.SourceID = &id
		}
		if data.Valid {
			l.AdditionalData = data.RawMessage
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err)
	}
	return logs, total, nil
}

// normalizePage clamps pagination inputs to sane bounds.
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
