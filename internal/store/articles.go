package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"newswire/internal/model"
)

const articleColumns = `
c.id, c.source_id, c.source_url, c.title, c.content, c.author, c.publication_date,
c.content_type, c.language, c.processing_status, c.content_hash, c.category,
c.tags, c.created_at, s.name`

func scanArticle(row rowScanner) (model.Article, error) {
	var (
		a          model.Article
		author     sql.NullString
		pubDate    sql.NullTime
		category   sql.NullString
		tags       pq.StringArray
		sourceName sql.NullString
	)
	err := row.Scan(&a.ID, &a.SourceID, &a.SourceURL, &a.Title, &a.Content,
		&author, &pubDate, &a.ContentType, &a.Language, &a.ProcessingStatus,
		&a.ContentHash, &category, &tags, &a.CreatedAt, &sourceName)
	if err != nil {
		return model.Article{}, err
	}
	if author.Valid {
		v := author.String
		a.Author = &v
	}
	if pubDate.Valid {
		t := pubDate.Time
		a.PublicationDate = &t
	}
	if category.Valid {
		v := category.String
		a.Category = &v
	}
	a.Tags = []string(tags)
	if sourceName.Valid {
		a.SourceName = sourceName.String
	}
	return a, nil
}

// InsertArticleWithLog persists one extracted article and its success log in
// a single transaction. A unique collision on source_url or content_hash
// means the article already exists: nothing is written, no error, and the
// returned bool is false so the caller can log the duplicate instead.
func (s *Store) InsertArticleWithLog(ctx context.Context, jobID uuid.UUID, a *model.Article, entry LogEntry) (bool, error) {
	inserted := false
	err := s.withRetry(ctx, func() error {
		inserted = false
		return s.withTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `
INSERT INTO scraped_content
  (id, source_id, source_url, title, content, author, publication_date,
   content_type, language, processing_status, content_hash, category, tags,
   full_html, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT DO NOTHING`,
				a.ID, a.SourceID, a.SourceURL, a.Title, a.Content,
				nullString(a.Author), nullTime(a.PublicationDate), a.ContentType,
				a.Language, a.ProcessingStatus, a.ContentHash,
				nullString(a.Category), pq.Array(a.Tags), nullString(a.FullHTML),
				a.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert article: %w", err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return nil
			}
			inserted = true
			return insertLog(ctx, tx, jobID, entry)
		})
	})
	return inserted, err
}

// GetArticle returns one article by id, including the retained HTML when
// present.
func (s *Store) GetArticle(ctx context.Context, id uuid.UUID) (model.Article, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT`+articleColumns+`, c.full_html
FROM scraped_content c
JOIN sources s ON s.id = c.source_id
WHERE c.id = $1`, id)

	var (
		a          model.Article
		author     sql.NullString
		pubDate    sql.NullTime
		category   sql.NullString
		tags       pq.StringArray
		sourceName sql.NullString
		fullHTML   sql.NullString
	)
	err := row.Scan(&a.ID, &a.SourceID, &a.SourceURL, &a.Title, &a.Content,
		&author, &pubDate, &a.ContentType, &a.Language, &a.ProcessingStatus,
		&a.ContentHash, &category, &tags, &a.CreatedAt, &sourceName, &fullHTML)
	if err != nil {
		return model.Article{}, classify(fmt.Errorf("get article %s: %w", id, err))
	}
	if author.Valid {
		v := author.String
		a.Author = &v
	}
	if pubDate.Valid {
		t := pubDate.Time
		a.PublicationDate = &t
	}
	if category.Valid {
		v := category.String
		a.Category = &v
	}
	a.Tags = []string(tags)
	if sourceName.Valid {
		a.SourceName = sourceName.String
	}
	if fullHTML.Valid {
		v := fullHTML.String
		a.FullHTML = &v
	}
	return a, nil
}

// ArticleFilter narrows ListArticles. Zero values mean "no filter".
type ArticleFilter struct {
	Search   string
	SourceID string
	Language string
	Status   string
	Page     int
	PageSize int
}

// ListArticles returns one page of articles, newest first, with the source
// name joined in, plus the total count for the filter.
func (s *Store) ListArticles(ctx context.Context, f ArticleFilter) ([]model.Article, int, error) {
	page, pageSize := normalizePage(f.Page, f.PageSize)

	where := "WHERE 1=1"
	args := []any{}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where += fmt.Sprintf(" AND (c.title ILIKE $%d OR c.content ILIKE $%d)", len(args), len(args))
	}
	if f.SourceID != "" {
		args = append(args, f.SourceID)
		where += fmt.Sprintf(" AND c.source_id = $%d::uuid", len(args))
	}
	if f.Language != "" {
		args = append(args, f.Language)
		where += fmt.Sprintf(" AND c.language = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND c.processing_status = $%d", len(args))
	}

	var total int
	if err := s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM scraped_content c "+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(fmt.Errorf("count articles: %w", err))
	}

	args = append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf(`
SELECT`+articleColumns+`
FROM scraped_content c
JOIN sources s ON s.id = c.source_id
%s
ORDER BY c.created_at DESC
LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("list articles: %w", err))
	}
	defer rows.Close()

	articles := make([]model.Article, 0, pageSize)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, 0, classify(fmt.Errorf("scan article: %w", err))
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err)
	}
	return articles, total, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
