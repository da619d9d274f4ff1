package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// fromStructuredData walks every JSON-LD block looking for a NewsArticle or
// Article node with a usable articleBody. Publishers nest nodes under @graph
// or ship arrays at the top level; both are handled.
func fromStructuredData(doc *goquery.Document) *Result {
	var res *Result
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(sel.Text()), &raw); err != nil {
			return true // malformed block, keep scanning
		}
		if r := scanLDNode(raw); r != nil {
			res = r
			return false
		}
		return true
	})
	return res
}

func scanLDNode(node any) *Result {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			if r := scanLDNode(item); r != nil {
				return r
			}
		}
	case map[string]any:
		if isArticleType(v["@type"]) {
			if r := articleFromLD(v); r != nil {
				return r
			}
		}
		if graph, ok := v["@graph"]; ok {
			return scanLDNode(graph)
		}
	}
	return nil
}

// isArticleType accepts "NewsArticle" and "Article", including subtypes such
// as ReportageNewsArticle, whether @type is a string or a list.
func isArticleType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "Article" || strings.HasSuffix(v, "NewsArticle")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && (s == "Article" || strings.HasSuffix(s, "NewsArticle")) {
				return true
			}
		}
	}
	return false
}

func articleFromLD(node map[string]any) *Result {
	body, _ := node["articleBody"].(string)
	content := normalizeBody(body)
	if runeLen(content) < MinContentLength {
		return nil
	}

	res := &Result{
		Content:  content,
		Strategy: StrategyStructuredData,
	}
	if headline, ok := node["headline"].(string); ok {
		res.Title = strings.TrimSpace(headline)
	}
	res.Author = ldAuthor(node["author"])
	if date, ok := node["datePublished"].(string); ok {
		res.Published = parseDate(date)
	}
	return res
}

// ldAuthor handles the three shapes in the wild: a bare string, a Person
// object, or a list of either.
func ldAuthor(v any) string {
	switch a := v.(type) {
	case string:
		return strings.TrimSpace(a)
	case map[string]any:
		if name, ok := a["name"].(string); ok {
			return strings.TrimSpace(name)
		}
	case []any:
		for _, item := range a {
			if name := ldAuthor(item); name != "" {
				return name
			}
		}
	}
	return ""
}

// normalizeBody turns an articleBody string into the engine's paragraph
// form: split on newline runs, drop stubs and boilerplate, rejoin with blank
// lines. Bodies that arrive as one long line pass through as one paragraph.
func normalizeBody(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	parts := strings.Split(body, "\n")
	var paragraphs []string
	for _, p := range parts {
		p = collapseInline(p)
		if p == "" {
			continue
		}
		if runeLen(p) < minParagraphRunes || isBoilerplate(p) {
			continue
		}
		paragraphs = append(paragraphs, p)
	}
	if len(paragraphs) == 0 {
		return ""
	}
	return strings.Join(paragraphs, "\n\n")
}
