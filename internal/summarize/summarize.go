// Package summarize derives short excerpts from article text.
package summarize

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultSentences and DefaultMaxChars match the transport's
	// practical caption size.
	DefaultSentences = 5
	DefaultMaxChars  = 900
)

// Excerpt returns the first maxSentences sentences of text, capped at
// maxChars. When sentence splitting yields nothing it degrades to a
// hard character truncation.
func Excerpt(text string, maxSentences, maxChars int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if maxSentences <= 0 {
		maxSentences = DefaultSentences
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	sentences := splitSentences(text)
	if len(sentences) > maxSentences {
		sentences = sentences[:maxSentences]
	}
	out := strings.Join(sentences, " ")
	if out == "" {
		out = text
	}
	return truncate(out, maxChars)
}

// splitSentences splits on ". ", "! ", "? " and newline boundaries.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i := 0; i < len(text); i++ {
		current.WriteByte(text[i])

		if text[i] == '\n' {
			flush()
			continue
		}
		boundary := text[i] == '.' || text[i] == '!' || text[i] == '?'
		if boundary && i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\n') {
			flush()
		}
	}
	flush()

	return sentences
}

// truncate cuts at the last space before maxChars characters to avoid
// splitting a word, appending an ellipsis. The cap counts runes so
// multi-byte text is never cut mid-rune.
func truncate(s string, maxChars int) string {
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	cut := firstNRunes(s, maxChars)
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

func firstNRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
