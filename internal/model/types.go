package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Source is a registered news source. Politeness settings travel with the
// source so the pipeline never needs a second lookup.
type Source struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Domain           string    `json:"domain"`
	RSSURL           string    `json:"rssUrl"`
	Description      *string   `json:"description,omitempty"`
	IconURL          *string   `json:"iconUrl,omitempty"`
	UserAgent        string    `json:"userAgent,omitempty"`
	TimeoutMs        int       `json:"timeoutMs"`
	DelayMs          int       `json:"delayBetweenRequestsMs"`
	RespectRobotsTxt bool      `json:"respectRobotsTxt"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ScrapingJob is one run of the engine over a set of sources.
// Status values are defined in the jobs package.
type ScrapingJob struct {
	ID                   uuid.UUID  `json:"id"`
	Status               string     `json:"status"`
	TriggeredAt          time.Time  `json:"triggeredAt"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
	SourcesRequested     []string   `json:"sourcesRequested"`
	ArticlesPerSource    int        `json:"articlesPerSource"`
	TotalSources         int        `json:"totalSources"`
	SourcesCompleted     int        `json:"sourcesCompleted"`
	TotalArticlesScraped int        `json:"totalArticlesScraped"`
	TotalErrors          int        `json:"totalErrors"`
	ProgressPercent      int        `json:"progressPercent"`
	CurrentSource        *string    `json:"currentSource,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// Article is one row of scraped_content. SourceURL and ContentHash each
// carry a unique constraint; inserts that trip either are duplicates, not
// errors. FullHTML is retained only when the engine is configured to keep it
// and never leaves the API verbatim.
type Article struct {
	ID               uuid.UUID  `json:"id"`
	SourceID         uuid.UUID  `json:"sourceId"`
	SourceName       string     `json:"sourceName,omitempty"`
	SourceURL        string     `json:"sourceUrl"`
	Title            string     `json:"title"`
	Content          string     `json:"content"`
	Author           *string    `json:"author,omitempty"`
	PublicationDate  *time.Time `json:"publicationDate,omitempty"`
	ContentType      string     `json:"contentType"`
	Language         string     `json:"language"`
	ProcessingStatus string     `json:"processingStatus"`
	ContentHash      string     `json:"contentHash"`
	Category         *string    `json:"category,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	FullHTML         *string    `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// ScrapingLog is one append-only log row scoped to a job, optionally to a
// source. AdditionalData holds the typed event payload verbatim.
type ScrapingLog struct {
	ID             uuid.UUID       `json:"id"`
	JobID          uuid.UUID       `json:"jobId"`
	SourceID       *uuid.UUID      `json:"sourceId,omitempty"`
	LogLevel       string          `json:"logLevel"`
	Message        string          `json:"message"`
	Timestamp      time.Time       `json:"timestamp"`
	AdditionalData json.RawMessage `json:"additionalData,omitempty"`
}
