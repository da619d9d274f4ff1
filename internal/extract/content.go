package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// nonContentSelectors name the subtrees that never hold article text. They
// are removed from the document before the DOM strategies run.
var nonContentSelectors = []string{
	"script", "style", "noscript", "iframe", "form", "svg",
	"nav", "aside", "header", "footer",
	`[class*="share"]`, `[class*="social"]`,
	`[class*="newsletter"]`, `[class*="subscribe"]`,
	`[class*="advert"]`, `[id*="advert"]`, `[class*="sponsor"]`, `.ad`,
	`[class*="related"]`, `[class*="recommend"]`, `[class*="read-more"]`,
	`[class*="comment"]`, `[id*="comment"]`,
	`[class*="promo"]`, `[class*="banner"]`, `[class*="popup"]`,
	`[class*="cookie"]`, `[class*="sidebar"]`, `[class*="breadcrumb"]`,
}

func removeNonContent(doc *goquery.Document) {
	for _, sel := range nonContentSelectors {
		doc.Find(sel).Remove()
	}
}

// contentSelectors are tried in order against the cleaned document. The tail
// entries anchor publishers whose markup predates schema.org conventions.
var contentSelectors = []string{
	`[itemprop="articleBody"]`,
	`article [class*="body"]`,
	`main [class*="story-body"]`,
	".article-text",
	".story-content",
	".article__content",
	".entry-content",
	".post-content",
	"#article-body",
	`section[name="articleBody"]`,
	`[data-component="text-block"]`,
	"article",
	"main",
}

// fromSelectors walks the candidate containers and returns the first one
// whose paragraphs clear the minimum content length.
func fromSelectors(doc *goquery.Document) *Result {
	for _, selector := range contentSelectors {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			continue
		}
		if strings.Contains(selector, `[class*="body"]`) {
			sel = sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
				return !strings.Contains(s.AttrOr("class", ""), "meta")
			})
			if sel.Length() == 0 {
				continue
			}
		}

		content := paragraphsFrom(sel)
		if runeLen(content) >= MinContentLength {
			return &Result{Content: content, Strategy: StrategySelectors}
		}
	}
	return nil
}

// paragraphsFrom extracts paragraph text from a container. <p> tags are the
// unit of structure; when none survive the filters, div-level text is split
// on sentence boundaries instead.
func paragraphsFrom(sel *goquery.Selection) string {
	var paragraphs []string
	seen := make(map[string]struct{})

	sel.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := collapseInline(p.Text())
		if text == "" || runeLen(text) < minParagraphRunes || isBoilerplate(text) {
			return
		}
		// Selector overlap (e.g. article inside main) must not duplicate text.
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		paragraphs = append(paragraphs, text)
	})

	if len(paragraphs) == 0 {
		for _, part := range splitSentences(collapseInline(sel.Text())) {
			if runeLen(part) < minParagraphRunes || isBoilerplate(part) {
				continue
			}
			paragraphs = append(paragraphs, part)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// fromMeta builds a last-structured-resort result from OpenGraph tags. It
// only wins when the description alone is substantial.
func fromMeta(doc *goquery.Document) *Result {
	title := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	desc := collapseInline(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	if desc == "" {
		desc = collapseInline(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	}
	if runeLen(desc) < MinContentLength {
		return nil
	}
	return &Result{
		Title:    title,
		Content:  desc,
		Strategy: StrategyMeta,
	}
}

// fromRawText dumps the first rawTextCap characters of body text, paragraph
// structure approximated from block boundaries. This is the strategy of last
// resort and still honors the minimum length floor.
func fromRawText(doc *goquery.Document) *Result {
	body := doc.Find("body")
	if body.Length() == 0 {
		return nil
	}

	var blocks []string
	body.Find("p, div, section").Each(func(_ int, s *goquery.Selection) {
		// Leaf-ish blocks only; containers repeat their children's text.
		if s.Children().Filter("p, div, section").Length() > 0 {
			return
		}
		text := collapseInline(s.Text())
		if text == "" || runeLen(text) < minParagraphRunes || isBoilerplate(text) {
			return
		}
		blocks = append(blocks, text)
	})
	text := strings.Join(blocks, "\n\n")
	if text == "" {
		text = collapseInline(body.Text())
	}
	text = truncateRunes(text, rawTextCap)
	if runeLen(text) < MinContentLength {
		return nil
	}
	return &Result{Content: text, Strategy: StrategyRawText}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n]))
}
