// Package formatter renders scored passages into a highlighted snippet.
package formatter

import (
	"html"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/passage"
)

const (
	DefaultPreTag   = "<b>"
	DefaultPostTag  = "</b>"
	DefaultEllipsis = "... "
)

// Formatter wraps matches in PreTag/PostTag and joins non-adjacent passages
// with Ellipsis. When Escape is set, document text is HTML-escaped; tags and
// ellipsis are written as given.
type Formatter struct {
	PreTag   string
	PostTag  string
	Ellipsis string
	Escape   bool
}

func New() *Formatter {
	return &Formatter{
		PreTag:   DefaultPreTag,
		PostTag:  DefaultPostTag,
		Ellipsis: DefaultEllipsis,
	}
}

// Format renders passages, which must be sorted by start offset, against
// content. A match that starts inside the previous highlight is merged with
// it, and a match may extend past the end of its passage.
func (f *Formatter) Format(passages []*passage.Passage[string], content string) string {
	var sb strings.Builder
	pos := 0
	for _, p := range passages {
		if p.StartOffset() > pos && pos > 0 {
			sb.WriteString(f.Ellipsis)
		}
		pos = max(pos, p.StartOffset())
		for _, m := range p.Matches() {
			if m.Start > pos {
				f.write(&sb, content, pos, m.Start)
			}
			if m.End > pos {
				sb.WriteString(f.PreTag)
				f.write(&sb, content, max(pos, m.Start), m.End)
				sb.WriteString(f.PostTag)
				pos = m.End
			}
		}
		f.write(&sb, content, pos, max(pos, p.EndOffset()))
		pos = max(pos, p.EndOffset())
	}
	return sb.String()
}

// Plain renders passages without markup, used when nothing matched.
func (f *Formatter) Plain(passages []*passage.Passage[string], content string) string {
	var sb strings.Builder
	pos := 0
	for _, p := range passages {
		if p.StartOffset() > pos && pos > 0 {
			sb.WriteString(f.Ellipsis)
		}
		f.write(&sb, content, p.StartOffset(), p.EndOffset())
		pos = p.EndOffset()
	}
	return sb.String()
}

func (f *Formatter) write(sb *strings.Builder, content string, start, end int) {
	end = min(end, len(content))
	if start >= end {
		return
	}
	if f.Escape {
		sb.WriteString(html.EscapeString(content[start:end]))
		return
	}
	sb.WriteString(content[start:end])
}
