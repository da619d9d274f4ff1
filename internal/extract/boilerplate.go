package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// boilerplatePatterns match the furniture that survives DOM cleanup as bare
// text: share bars, ad labels, relative timestamps, read-more rows, image
// credits, consent banners.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(share|save|comment|subscribe|follow|newsletter)\b`),
	regexp.MustCompile(`(?i)\b(advertisement|sponsored|promoted)\b`),
	regexp.MustCompile(`(?i)^\d+\s+(second|minute|hour|day)s?\s+ago\b`),
	regexp.MustCompile(`(?i)^(read more|related(\s+(articles|stories))?:?$|you may (also )?like|more from)`),
	regexp.MustCompile(`(?i)^(image caption|image source|picture source|photo(graph)?:)|getty images`),
	regexp.MustCompile(`(?i)(cookie policy|accept (all )?cookies|privacy policy|terms of (use|service))`),
}

// isBoilerplate reports whether a cleaned paragraph is page furniture.
func isBoilerplate(text string) bool {
	for _, re := range boilerplatePatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

var (
	inlineSpace = regexp.MustCompile(`[ \t\r\f]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
	// sentenceBoundary approximates a split between a terminator and the
	// capital that opens the next sentence. RE2 has no lookaround, so the
	// match is located and the cut made by hand after the terminator.
	sentenceBoundary = regexp.MustCompile(`[.!?]['"”’)]?\s+[A-Z]`)
)

// collapseInline flattens intra-paragraph whitespace to single spaces.
// Paragraph structure is the joiner's job; inside one paragraph the markup's
// incidental newlines carry no meaning.
func collapseInline(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = inlineSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// capNewlines limits blank-line runs to a single blank line. Whitespace is
// never collapsed into one run; two newlines stay two newlines.
func capNewlines(s string) string {
	return strings.TrimSpace(newlineRuns.ReplaceAllString(s, "\n\n"))
}

// splitSentences cuts text after sentence terminators that are followed by
// whitespace and a capital letter. Terminator and any closing quote stay
// with the preceding sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	locs := sentenceBoundary.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var parts []string
	prev := 0
	for _, loc := range locs {
		// loc[1] sits one byte past the capital; the cut goes before the
		// whitespace, which is everything in the match except that capital.
		_, capWidth := utf8.DecodeLastRuneInString(text[loc[0]:loc[1]])
		cut := loc[1] - capWidth
		part := strings.TrimSpace(text[prev:cut])
		if part != "" {
			parts = append(parts, part)
		}
		prev = cut
	}
	if tail := strings.TrimSpace(text[prev:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
