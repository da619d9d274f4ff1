package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode"
)

// languageSampleRunes bounds how much text detection inspects; the opening
// of an article is representative of its script.
const languageSampleRunes = 2000

// DetectLanguage classifies text by script. Hebrew and Arabic are detected
// from their Unicode ranges; Latin text maps to "en"; "other" is reserved
// for text that is clearly none of these.
func DetectLanguage(text string) string {
	var hebrew, arabic, latin, letters int

	seen := 0
	for _, r := range text {
		if seen >= languageSampleRunes {
			break
		}
		seen++
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case r >= 0x0590 && r <= 0x05FF:
			hebrew++
		case (r >= 0x0600 && r <= 0x06FF) || (r >= 0x0750 && r <= 0x077F) ||
			(r >= 0xFB50 && r <= 0xFDFF) || (r >= 0xFE70 && r <= 0xFEFF):
			arabic++
		case r < 0x0250: // Latin plus its common extensions
			latin++
		}
	}

	if letters == 0 {
		return "en"
	}
	// A fifth of the letters in one RTL script is decisive even on pages
	// that mix in Latin numerals, names and links.
	if hebrew*5 >= letters && hebrew >= arabic {
		return "he"
	}
	if arabic*5 >= letters && arabic > hebrew {
		return "ar"
	}
	if latin*2 >= letters {
		return "en"
	}
	return "other"
}

// hashPrefixBytes is how much content participates in the duplicate hash.
// Titles plus the first kilobyte identify an article; trailing edits to long
// pieces should not defeat dedup.
const hashPrefixBytes = 1000

// ContentHash derives the duplicate-suppression digest from the title and
// the leading slice of content.
func ContentHash(title, content string) string {
	if len(content) > hashPrefixBytes {
		content = content[:hashPrefixBytes]
	}
	sum := sha256.Sum256([]byte(title + ":" + content))
	return hex.EncodeToString(sum[:])
}
