package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// MaxTextLength is the ceiling on extracted text, marker included.
const MaxTextLength = 100_000

const truncationMarker = "\n\n[Content truncated due to length...]"

var punctuation = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'", "\u201a", "'", "\u201b", "'",
	"\u201c", `"`, "\u201d", `"`, "\u201e", `"`, "\u201f", `"`,
	"\u2013", "-", "\u2014", "-", "\u2012", "-", "\u2015", "-",
	"\u2026", "...",
	"\u00a0", " ",
)

// stripped reports runes that never survive sanitizing. Whitespace controls
// are kept here and folded by the whitespace collapse.
func stripped(r rune) bool {
	switch {
	case r >= 0xD800 && r <= 0xDFFF:
		return true
	case r == '\uFEFF':
		return true
	case r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
		return false
	default:
		return unicode.IsControl(r)
	}
}

// Sanitize normalizes one extracted unit of text into single-spaced, valid UTF-8.
// Sanitizing already clean text returns it unchanged.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	// chains hold buffers; one per call
	cleaner := transform.Chain(runes.ReplaceIllFormed(), runes.Remove(runes.Predicate(stripped)))
	out, _, err := transform.String(cleaner, text)
	if err != nil {
		out = strings.ToValidUTF8(text, "\uFFFD")
	}
	out = punctuation.Replace(out)
	out = strings.Join(strings.Fields(out), " ")
	return strings.ToValidUTF8(out, "\uFFFD")
}

// Truncate caps text at MaxTextLength characters, marker included.
func Truncate(text string) string {
	if utf8.RuneCountInString(text) <= MaxTextLength {
		return text
	}
	keep := MaxTextLength - utf8.RuneCountInString(truncationMarker)
	n := 0
	for i := range text {
		if n == keep {
			return text[:i] + truncationMarker
		}
		n++
	}
	return text
}
