// Package sources is the registry of news sources: CRUD with boundary
// validation and live RSS verification before a feed is accepted.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"newswire/internal/feed"
	"newswire/internal/model"
	"newswire/internal/store"
)

// ErrInvalidFeed marks RSS validation failures: the URL was reachable in
// form but did not retrieve or parse as a feed. Surfaced to the caller as
// 422, never treated as an engine error.
var ErrInvalidFeed = errors.New("invalid rss feed")

// domainPattern is deliberately defensive: values coming back out of the
// store are re-checked at the boundary too, never trusted.
var domainPattern = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// Store is the persistence slice the registry uses.
type Store interface {
	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id uuid.UUID) (model.Source, error)
	ListSources(ctx context.Context, page, pageSize int) ([]model.Source, int, error)
	UpdateSource(ctx context.Context, src *model.Source) error
	DeleteSource(ctx context.Context, id uuid.UUID) error
	CountActiveJobsReferencingSource(ctx context.Context, sourceID uuid.UUID) (int, error)
}

// FeedChecker retrieves a feed for validation. Satisfied by *feed.Fetcher,
// whose timeout is the registry's validation budget.
type FeedChecker interface {
	Fetch(ctx context.Context, rssURL, userAgent string) (*feed.Feed, error)
}

// CreateInput is the payload for a new source. Optional politeness fields
// fall back to the engine defaults.
type CreateInput struct {
	Name             string  `json:"name" validate:"required,min=1,max=200"`
	Domain           string  `json:"domain" validate:"required"`
	RSSURL           string  `json:"rssUrl" validate:"required"`
	Description      *string `json:"description" validate:"omitempty,max=2000"`
	IconURL          *string `json:"iconUrl" validate:"omitempty,url"`
	UserAgent        string  `json:"userAgent"`
	TimeoutMs        int     `json:"timeoutMs" validate:"omitempty,min=1000,max=120000"`
	DelayMs          int     `json:"delayBetweenRequestsMs" validate:"omitempty,min=0,max=60000"`
	RespectRobotsTxt *bool   `json:"respectRobotsTxt"`
	IsActive         *bool   `json:"isActive"`
}

// UpdateInput is a partial update; nil fields keep their stored value.
type UpdateInput struct {
	Name             *string `json:"name" validate:"omitempty,min=1,max=200"`
	Domain           *string `json:"domain"`
	RSSURL           *string `json:"rssUrl"`
	Description      *string `json:"description" validate:"omitempty,max=2000"`
	IconURL          *string `json:"iconUrl" validate:"omitempty,url"`
	UserAgent        *string `json:"userAgent"`
	TimeoutMs        *int    `json:"timeoutMs" validate:"omitempty,min=1000,max=120000"`
	DelayMs          *int    `json:"delayBetweenRequestsMs" validate:"omitempty,min=0,max=60000"`
	RespectRobotsTxt *bool   `json:"respectRobotsTxt"`
	IsActive         *bool   `json:"isActive"`
}

// TestResult reports a dry-run feed validation.
type TestResult struct {
	OK        bool   `json:"ok"`
	FeedTitle string `json:"feedTitle,omitempty"`
	ItemCount int    `json:"itemCount,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Registry validates and persists sources.
type Registry struct {
	store    Store
	feeds    FeedChecker
	logger   *slog.Logger
	validate *validator.Validate
}

// NewRegistry builds a Registry around the given store and feed checker.
func NewRegistry(st Store, feeds FeedChecker, logger *slog.Logger) *Registry {
	return &Registry{
		store:    st,
		feeds:    feeds,
		logger:   logger,
		validate: validator.New(),
	}
}

// Create validates the payload, verifies the RSS feed end to end and
// persists the source. A duplicate domain surfaces as store.ErrConflict.
func (r *Registry) Create(ctx context.Context, in CreateInput) (model.Source, error) {
	if err := r.validate.Struct(in); err != nil {
		return model.Source{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	domain, err := normalizeDomain(in.Domain)
	if err != nil {
		return model.Source{}, err
	}
	if err := checkFeedURL(in.RSSURL); err != nil {
		return model.Source{}, err
	}
	if err := r.verifyFeed(ctx, in.RSSURL, in.UserAgent); err != nil {
		return model.Source{}, err
	}

	now := time.Now().UTC()
	src := model.Source{
		ID:               uuid.New(),
		Name:             strings.TrimSpace(in.Name),
		Domain:           domain,
		RSSURL:           in.RSSURL,
		Description:      in.Description,
		IconURL:          in.IconURL,
		UserAgent:        in.UserAgent,
		TimeoutMs:        in.TimeoutMs,
		DelayMs:          in.DelayMs,
		RespectRobotsTxt: true,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if src.TimeoutMs == 0 {
		src.TimeoutMs = 30000
	}
	if src.DelayMs == 0 {
		src.DelayMs = 1000
	}
	if in.RespectRobotsTxt != nil {
		src.RespectRobotsTxt = *in.RespectRobotsTxt
	}
	if in.IsActive != nil {
		src.IsActive = *in.IsActive
	}

	if err := r.store.CreateSource(ctx, &src); err != nil {
		return model.Source{}, err
	}
	r.logger.Info("source created", "source_id", src.ID, "name", src.Name, "domain", src.Domain)
	return src, nil
}

// Update applies a partial update, re-validating the RSS feed only when its
// URL actually changed.
func (r *Registry) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (model.Source, error) {
	if err := r.validate.Struct(in); err != nil {
		return model.Source{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	src, err := r.store.GetSource(ctx, id)
	if err != nil {
		return model.Source{}, err
	}

	if in.Name != nil {
		src.Name = strings.TrimSpace(*in.Name)
	}
	if in.Domain != nil {
		domain, err := normalizeDomain(*in.Domain)
		if err != nil {
			return model.Source{}, err
		}
		src.Domain = domain
	}
	if in.RSSURL != nil && *in.RSSURL != src.RSSURL {
		if err := checkFeedURL(*in.RSSURL); err != nil {
			return model.Source{}, err
		}
		ua := src.UserAgent
		if in.UserAgent != nil {
			ua = *in.UserAgent
		}
		if err := r.verifyFeed(ctx, *in.RSSURL, ua); err != nil {
			return model.Source{}, err
		}
		src.RSSURL = *in.RSSURL
	}
	if in.Description != nil {
		src.Description = in.Description
	}
	if in.IconURL != nil {
		src.IconURL = in.IconURL
	}
	if in.UserAgent != nil {
		src.UserAgent = *in.UserAgent
	}
	if in.TimeoutMs != nil {
		src.TimeoutMs = *in.TimeoutMs
	}
	if in.DelayMs != nil {
		src.DelayMs = *in.DelayMs
	}
	if in.RespectRobotsTxt != nil {
		src.RespectRobotsTxt = *in.RespectRobotsTxt
	}
	if in.IsActive != nil {
		src.IsActive = *in.IsActive
	}

	if err := r.store.UpdateSource(ctx, &src); err != nil {
		return model.Source{}, err
	}
	r.logger.Info("source updated", "source_id", src.ID, "name", src.Name)
	return src, nil
}

// Delete removes a source unless a non-terminal job still references it.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := r.store.CountActiveJobsReferencingSource(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: source %s is referenced by %d active job(s)",
			store.ErrConflict, id, n)
	}
	if err := r.store.DeleteSource(ctx, id); err != nil {
		return err
	}
	r.logger.Info("source deleted", "source_id", id)
	return nil
}

// Get returns one source.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (model.Source, error) {
	return r.store.GetSource(ctx, id)
}

// List returns one page of sources ordered by name.
func (r *Registry) List(ctx context.Context, page, pageSize int) ([]model.Source, int, error) {
	return r.store.ListSources(ctx, page, pageSize)
}

// Test dry-runs RSS validation against the stored URL without mutating the
// source.
func (r *Registry) Test(ctx context.Context, id uuid.UUID) (TestResult, error) {
	src, err := r.store.GetSource(ctx, id)
	if err != nil {
		return TestResult{}, err
	}
	parsed, err := r.feeds.Fetch(ctx, src.RSSURL, src.UserAgent)
	if err != nil {
		return TestResult{OK: false, Message: err.Error()}, nil
	}
	return TestResult{OK: true, FeedTitle: parsed.Title, ItemCount: len(parsed.Items)}, nil
}

// verifyFeed retrieves the feed and requires it to parse. The fetcher's own
// timeout bounds the check.
func (r *Registry) verifyFeed(ctx context.Context, rssURL, userAgent string) error {
	parsed, err := r.feeds.Fetch(ctx, rssURL, userAgent)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}
	if len(parsed.Items) == 0 {
		return fmt.Errorf("%w: feed at %s parsed but contains no items", ErrInvalidFeed, rssURL)
	}
	return nil
}

// checkFeedURL requires an absolute http(s) URL before any network I/O.
func checkFeedURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: rssUrl must be an absolute http(s) URL", store.ErrInvalidInput)
	}
	return nil
}

// normalizeDomain lowercases and validates the domain.
func normalizeDomain(raw string) (string, error) {
	domain := strings.ToLower(strings.TrimSpace(raw))
	if !domainPattern.MatchString(domain) {
		return "", fmt.Errorf("%w: %q is not a valid domain", store.ErrInvalidInput, raw)
	}
	return domain, nil
}
