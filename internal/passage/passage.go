// Package passage holds the reusable record the highlighter fills for each
// candidate span of a document: its boundaries, its score, and the term
// matches found inside it.
package passage

import (
	"errors"
	"fmt"
)

// Unset is the offset value of a passage whose boundaries were never set.
const Unset = -1

const initialMatchCapacity = 8

// ErrContractViolation is wrapped by the value AddMatch panics with when a
// match falls outside the passage bounds.
var ErrContractViolation = errors.New("passage contract violation")

// Match is one occurrence of a query term. Offsets are absolute, not
// relative to the passage start.
type Match[T any] struct {
	Start int
	End   int
	Term  T
}

// Passage is a span of a document with the matches found inside it. It is
// meant to be reset and refilled many times; it is not safe for concurrent
// use.
type Passage[T any] struct {
	startOffset int
	endOffset   int
	score       float64
	matches     []Match[T]
}

// New returns an empty passage with unset offsets.
func New[T any]() *Passage[T] {
	return &Passage[T]{
		startOffset: Unset,
		endOffset:   Unset,
		matches:     make([]Match[T], 0, initialMatchCapacity),
	}
}

// AddMatch appends a match. start must lie within [StartOffset, EndOffset];
// end may run past EndOffset when a term spans the passage boundary.
// Matches are expected in ascending start order.
func (p *Passage[T]) AddMatch(start, end int, term T) {
	if p.startOffset == Unset || p.endOffset == Unset {
		panic(fmt.Errorf("%w: match [%d,%d) added before bounds were set", ErrContractViolation, start, end))
	}
	if start < p.startOffset || start > p.endOffset {
		panic(fmt.Errorf("%w: match start %d outside passage [%d,%d]",
			ErrContractViolation, start, p.startOffset, p.endOffset))
	}
	p.matches = append(p.matches, Match[T]{Start: start, End: end, Term: term})
}

// Reset returns the passage to its unset state, keeping match capacity.
func (p *Passage[T]) Reset() {
	p.startOffset = Unset
	p.endOffset = Unset
	p.score = 0
	p.matches = p.matches[:0]
}

// Clone returns a copy that shares no storage with p.
func (p *Passage[T]) Clone() *Passage[T] {
	c := &Passage[T]{
		startOffset: p.startOffset,
		endOffset:   p.endOffset,
		score:       p.score,
		matches:     make([]Match[T], len(p.matches)),
	}
	copy(c.matches, p.matches)
	return c
}

func (p *Passage[T]) SetStartOffset(offset int) { p.startOffset = offset }
func (p *Passage[T]) SetEndOffset(offset int)   { p.endOffset = offset }
func (p *Passage[T]) SetScore(score float64)    { p.score = score }

// StartOffset of this passage, or Unset.
func (p *Passage[T]) StartOffset() int { return p.startOffset }

// EndOffset of this passage, or Unset.
func (p *Passage[T]) EndOffset() int { return p.endOffset }

func (p *Passage[T]) Score() float64 { return p.score }

// Len is the length of the passage text, 0 while the bounds are unset.
func (p *Passage[T]) Len() int {
	if p.startOffset == Unset || p.endOffset == Unset {
		return 0
	}
	return p.endOffset - p.startOffset
}

// NumMatches is the number of matches added since the last reset.
func (p *Passage[T]) NumMatches() int { return len(p.matches) }

// Matches returns the matches in the order they were added. The slice
// aliases the passage storage and is invalidated by Reset or AddMatch.
func (p *Passage[T]) Matches() []Match[T] { return p.matches }

func (p *Passage[T]) MatchStart(i int) int { return p.matches[i].Start }
func (p *Passage[T]) MatchEnd(i int) int   { return p.matches[i].End }
func (p *Passage[T]) MatchTerm(i int) T    { return p.matches[i].Term }

// MatchStarts returns a copy of the match start offsets.
func (p *Passage[T]) MatchStarts() []int {
	out := make([]int, len(p.matches))
	for i, m := range p.matches {
		out[i] = m.Start
	}
	return out
}

// MatchEnds returns a copy of the match end offsets. An end can exceed
// EndOffset if the analyzer produced a term spanning the passage boundary.
func (p *Passage[T]) MatchEnds() []int {
	out := make([]int, len(p.matches))
	for i, m := range p.matches {
		out[i] = m.End
	}
	return out
}

// MatchTerms returns a copy of the matched terms.
func (p *Passage[T]) MatchTerms() []T {
	out := make([]T, len(p.matches))
	for i, m := range p.matches {
		out[i] = m.Term
	}
	return out
}

// capacity is exposed to tests in this package only.
func (p *Passage[T]) capacity() int { return cap(p.matches) }
