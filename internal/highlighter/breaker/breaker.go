// Package breaker finds candidate passage boundaries in document text.
package breaker

import (
	"unicode"
	"unicode/utf8"
)

// Span is a half-open byte range [Start, End) of the text.
type Span struct {
	Start int
	End   int
}

func (s Span) Len() int { return s.End - s.Start }

// Contains reports whether offset falls inside the span.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start && offset < s.End
}

// Sentences splits text into contiguous, non-empty spans that together cover
// all of it. A sentence ends after '.', '!' or '?' followed by whitespace or
// the end of the text, or after a newline. Trailing whitespace stays with the
// sentence it follows.
func Sentences(text string) []Span {
	spans := make([]Span, 0, len(text)/64+1)
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		switch {
		case r == '\n':
		case r == '.' || r == '!' || r == '?':
			if i < len(text) {
				next, _ := utf8.DecodeRuneInString(text[i:])
				if !unicode.IsSpace(next) {
					continue
				}
			}
		default:
			continue
		}
		end := skipSpace(text, i)
		spans = append(spans, Span{Start: start, End: end})
		start = end
		i = end
	}
	if start < len(text) {
		spans = append(spans, Span{Start: start, End: len(text)})
	}
	return spans
}

func skipSpace(text string, i int) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}
