package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"newswire/internal/model"
)

const sourceColumns = `
id, name, domain, rss_url, description, icon_url, user_agent, timeout_ms,
delay_between_requests_ms, respect_robots_txt, is_active, created_at, updated_at`

func scanSource(row rowScanner) (model.Source, error) {
	var (
		src         model.Source
		description sql.NullString
		iconURL     sql.NullString
		userAgent   sql.NullString
	)
	err := row.Scan(&src.ID, &src.Name, &src.Domain, &src.RSSURL, &description,
		&iconURL, &userAgent, &src.TimeoutMs, &src.DelayMs,
		&src.RespectRobotsTxt, &src.IsActive, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return model.Source{}, err
	}
	if description.Valid {
		v := description.String
		src.Description = &v
	}
	if iconURL.Valid {
		v := iconURL.String
		src.IconURL = &v
	}
	if userAgent.Valid {
		src.UserAgent = userAgent.String
	}
	return src, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// CreateSource inserts a source row. A domain collision surfaces as
// ErrConflict via the unique index on LOWER(domain).
func (s *Store) CreateSource(ctx context.Context, src *model.Source) error {
	return s.withRetry(ctx, func() error {
		var ua sql.NullString
		if src.UserAgent != "" {
			ua = sql.NullString{String: src.UserAgent, Valid: true}
		}
		_, err := s.DB.ExecContext(ctx, `
INSERT INTO sources
  (id, name, domain, rss_url, description, icon_url, user_agent, timeout_ms,
   delay_between_requests_ms, respect_robots_txt, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
			src.ID, src.Name, src.Domain, src.RSSURL, nullString(src.Description),
			nullString(src.IconURL), ua, src.TimeoutMs, src.DelayMs,
			src.RespectRobotsTxt, src.IsActive, src.CreatedAt)
		if err != nil {
			return classify(fmt.Errorf("insert source: %w", err))
		}
		return nil
	})
}

// GetSource returns one source by id.
func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (model.Source, error) {
	row := s.DB.QueryRowContext(ctx,
		"SELECT"+sourceColumns+" FROM sources WHERE id = $1", id)
	src, err := scanSource(row)
	if err != nil {
		return model.Source{}, classify(fmt.Errorf("get source %s: %w", id, err))
	}
	return src, nil
}

// GetSourceByName resolves a source by its exact display name. Job triggers
// accept names, so this is the hot lookup on POST /api/scrape.
func (s *Store) GetSourceByName(ctx context.Context, name string) (model.Source, error) {
	row := s.DB.QueryRowContext(ctx,
		"SELECT"+sourceColumns+" FROM sources WHERE name = $1 ORDER BY created_at ASC LIMIT 1", name)
	src, err := scanSource(row)
	if err != nil {
		return model.Source{}, classify(fmt.Errorf("get source by name %q: %w", name, err))
	}
	return src, nil
}

// GetSourcesByIDs returns the sources for the given id strings, in no
// particular order. Unknown ids are simply absent from the result.
func (s *Store) GetSourcesByIDs(ctx context.Context, ids []string) ([]model.Source, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT"+sourceColumns+" FROM sources WHERE id = ANY ($1::uuid[])", pq.Array(ids))
	if err != nil {
		return nil, classify(fmt.Errorf("get sources by ids: %w", err))
	}
	defer rows.Close()

	sources := make([]model.Source, 0, len(ids))
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, classify(fmt.Errorf("scan source: %w", err))
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return sources, nil
}

// ListSources returns one page of sources ordered by name, plus the total
// count.
func (s *Store) ListSources(ctx context.Context, page, pageSize int) ([]model.Source, int, error) {
	page, pageSize = normalizePage(page, pageSize)

	var total int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM sources").Scan(&total); err != nil {
		return nil, 0, classify(fmt.Errorf("count sources: %w", err))
	}

	rows, err := s.DB.QueryContext(ctx,
		"SELECT"+sourceColumns+" FROM sources ORDER BY name ASC LIMIT $1 OFFSET $2",
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("list sources: %w", err))
	}
	defer rows.Close()

	sources := make([]model.Source, 0, pageSize)
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, 0, classify(fmt.Errorf("scan source: %w", err))
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err)
	}
	return sources, total, nil
}

// UpdateSource rewrites the mutable columns of an existing source.
func (s *Store) UpdateSource(ctx context.Context, src *model.Source) error {
	return s.withRetry(ctx, func() error {
		var ua sql.NullString
		if src.UserAgent != "" {
			ua = sql.NullString{String: src.UserAgent, Valid: true}
		}
		res, err := s.DB.ExecContext(ctx, `
UPDATE sources SET
  name = $2, domain = $3, rss_url = $4, description = $5, icon_url = $6,
  user_agent = $7, timeout_ms = $8, delay_between_requests_ms = $9,
  respect_robots_txt = $10, is_active = $11, updated_at = now()
WHERE id = $1`,
			src.ID, src.Name, src.Domain, src.RSSURL, nullString(src.Description),
			nullString(src.IconURL), ua, src.TimeoutMs, src.DelayMs,
			src.RespectRobotsTxt, src.IsActive)
		if err != nil {
			return classify(fmt.Errorf("update source: %w", err))
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: source %s", ErrNotFound, src.ID)
		}
		return nil
	})
}

// DeleteSource removes a source; scraped content cascades at the schema
// level. The in-flight-job guard lives in the registry, not here.
func (s *Store) DeleteSource(ctx context.Context, id uuid.UUID) error {
	return s.withRetry(ctx, func() error {
		res, err := s.DB.ExecContext(ctx, "DELETE FROM sources WHERE id = $1", id)
		if err != nil {
			return classify(fmt.Errorf("delete source: %w", err))
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: source %s", ErrNotFound, id)
		}
		return nil
	})
}
