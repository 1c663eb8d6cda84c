// Package tokenizer breaks document text into normalised terms for
// highlighting. It lower-cases input, splits on non-alphanumeric
// boundaries, removes stop-words, and applies a simple suffix-based stemmer.
// Unlike an indexing tokenizer it keeps the byte offsets of every word so a
// term can be mapped back onto the original text.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token is a normalised term, its ordinal among kept tokens, and the byte
// range [StartOffset, EndOffset) of the source word.
type Token struct {
	Term        string
	Position    int
	StartOffset int
	EndOffset   int
}

// Tokenize returns the stemmed, lowercased tokens of text with stop-words
// removed, in text order.
func Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/8)
	pos := 0
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		term := Normalize(text[start:end])
		if term != "" {
			tokens = append(tokens, Token{
				Term:        term,
				Position:    pos,
				StartOffset: start,
				EndOffset:   end,
			})
			pos++
		}
		start = -1
	}
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
		} else {
			flush(i)
		}
		i += size
	}
	flush(len(text))
	return tokens
}

// Normalize maps a single word to its indexed form, or "" when the word is
// too short or a stop-word.
func Normalize(word string) string {
	word = strings.ToLower(word)
	if len(word) < 2 {
		return ""
	}
	if _, isStop := stopWords[word]; isStop {
		return ""
	}
	return stem(word)
}

var suffixes = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// stem applies the first matching suffix rule whose result is long enough.
func stem(word string) string {
	for _, rule := range suffixes {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}
