// Package feed retrieves and parses RSS/Atom feeds. It is the only entry
// point to a source; article URLs always come out of here in feed order.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// Item is one feed entry that carries a usable article URL.
type Item struct {
	Title     string
	URL       string
	Author    string
	Published *time.Time
}

// Feed is the parsed result of one RSS fetch.
type Feed struct {
	Title string
	Items []Item
}

// Fetcher retrieves feeds with a hard timeout. The RSS budget is independent
// of per-source article timeouts; a slow feed must not eat a source's whole
// time allowance.
type Fetcher struct {
	timeout   time.Duration
	userAgent string
}

// NewFetcher builds a Fetcher with the process-wide RSS timeout and default
// user agent.
func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{timeout: timeout, userAgent: userAgent}
}

// Fetch retrieves and parses the feed at rssURL. userAgent overrides the
// process default when non-empty (sources may present their own). Items
// without a URL are dropped; order is preserved.
func (f *Fetcher) Fetch(ctx context.Context, rssURL, userAgent string) (*Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	parser := gofeed.NewParser()
	parser.UserAgent = f.userAgent
	if userAgent != "" {
		parser.UserAgent = userAgent
	}
	parser.Client = &http.Client{Timeout: f.timeout}

	parsed, err := parser.ParseURLWithContext(rssURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", rssURL, err)
	}

	out := &Feed{Title: parsed.Title, Items: make([]Item, 0, len(parsed.Items))}
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		link := itemLink(it)
		if link == "" {
			continue
		}
		item := Item{Title: it.Title, URL: link, Author: itemAuthor(it)}
		if it.PublishedParsed != nil {
			item.Published = it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			item.Published = it.UpdatedParsed
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func itemLink(it *gofeed.Item) string {
	if it.Link != "" {
		return it.Link
	}
	if len(it.Links) > 0 {
		return it.Links[0]
	}
	return ""
}

func itemAuthor(it *gofeed.Item) string {
	if it.Author != nil && it.Author.Name != "" {
		return it.Author.Name
	}
	if len(it.Authors) > 0 && it.Authors[0] != nil {
		return it.Authors[0].Name
	}
	return ""
}

// HTTPStatus extracts the status code when a fetch failed at the HTTP layer,
// 0 otherwise. Used to type log events.
func HTTPStatus(err error) int {
	var he gofeed.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
