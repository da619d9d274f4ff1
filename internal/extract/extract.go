// Package extract turns fetched article HTML into cleaned plain text with
// paragraph structure preserved. Strategies run in a fixed order and the
// first one that produces enough content wins.
package extract

import (
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoContent means no strategy produced content of at least MinContentLength.
var ErrNoContent = errors.New("no extractable content")

// Strategy names, recorded in logs so operators can see which path fired.
const (
	StrategyStructuredData = "structured_data"
	StrategySelectors      = "selectors"
	StrategyMeta           = "meta_fallback"
	StrategyRawText        = "raw_text"
)

const (
	// MinContentLength is the floor below which an extraction is a failure.
	MinContentLength = 100
	// minParagraphRunes drops stub paragraphs (bylines, timestamps, captions).
	minParagraphRunes = 30
	// rawTextCap bounds the last-resort body dump.
	rawTextCap = 5000
)

// Result is one successful extraction.
type Result struct {
	Title     string
	Content   string
	Author    string
	Published *time.Time
	Language  string
	Strategy  string
}

// Extractor holds no per-call state and is safe for concurrent use.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// Extract runs the strategy chain over one page. pageURL is only used for
// diagnostics; relative links play no role in text extraction.
func (e *Extractor) Extract(pageHTML, pageURL string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, err
	}

	// Structured data first: publishers that ship JSON-LD give us clean text
	// with no DOM heuristics at all.
	if res := fromStructuredData(doc); res != nil {
		return e.finish(doc, res), nil
	}

	// Strip known non-content subtrees once; both remaining DOM strategies
	// operate on the cleaned tree.
	removeNonContent(doc)

	if res := fromSelectors(doc); res != nil {
		return e.finish(doc, res), nil
	}
	if res := fromMeta(doc); res != nil {
		return e.finish(doc, res), nil
	}
	if res := fromRawText(doc); res != nil {
		return e.finish(doc, res), nil
	}
	return nil, ErrNoContent
}

// finish fills the fields the winning strategy left empty and stamps the
// detected language.
func (e *Extractor) finish(doc *goquery.Document, res *Result) *Result {
	if res.Title == "" {
		res.Title = pageTitle(doc)
	}
	if res.Author == "" {
		res.Author = metaAuthor(doc)
	}
	if res.Published == nil {
		res.Published = metaPublished(doc)
	}
	res.Title = collapseInline(res.Title)
	res.Content = capNewlines(res.Content)
	res.Language = DetectLanguage(res.Title + " " + res.Content)
	return res
}

// pageTitle prefers the first h1, then og:title, then <title>.
func pageTitle(doc *goquery.Document) string {
	if t := collapseInline(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", "")); t != "" {
		return t
	}
	return collapseInline(doc.Find("title").First().Text())
}

func metaAuthor(doc *goquery.Document) string {
	if a := strings.TrimSpace(doc.Find(`meta[name="author"]`).AttrOr("content", "")); a != "" {
		return a
	}
	return strings.TrimSpace(doc.Find(`meta[property="article:author"]`).AttrOr("content", ""))
}

func metaPublished(doc *goquery.Document) *time.Time {
	if v := doc.Find(`meta[property="article:published_time"]`).AttrOr("content", ""); v != "" {
		if t := parseDate(v); t != nil {
			return t
		}
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		return parseDate(v)
	}
	return nil
}

// parseDate tries the layouts publishers actually emit.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		time.RFC1123Z,
		time.RFC1123,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
