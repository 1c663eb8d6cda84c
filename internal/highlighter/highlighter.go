// Package highlighter builds query-dependent snippets for documents. It
// splits content into sentence passages, collects the query term matches of
// each passage into a reusable passage record, scores it, keeps the best
// passages, and formats them with the matches marked up.
package highlighter

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/breaker"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/formatter"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/parser"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/scorer"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/passage"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/config"
)

// Options bound a single highlight. Zero values fall back to the
// highlighter defaults.
type Options struct {
	MaxPassages int
	MaxLength   int
}

type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type MatchResult struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Term  string `json:"term"`
}

type PassageResult struct {
	Start   int           `json:"start"`
	End     int           `json:"end"`
	Score   float64       `json:"score"`
	Matches []MatchResult `json:"matches"`
}

// Result is the highlight of one document. Highlighted is false when no
// query term matched and the snippet is the leading sentences instead.
type Result struct {
	DocumentID   string          `json:"document_id,omitempty"`
	Snippet      string          `json:"snippet"`
	Passages     []PassageResult `json:"passages"`
	TotalMatches int             `json:"total_matches"`
	Highlighted  bool            `json:"highlighted"`
}

// Highlighter is safe for concurrent use; each call draws its own passage
// from a pool.
type Highlighter struct {
	scorer      scorer.Scorer
	formatter   *formatter.Formatter
	pool        *passage.Pool[string]
	maxPassages int
	maxLength   int
	concurrency int
	logger      *slog.Logger
}

func New(cfg config.HighlightConfig) *Highlighter {
	f := formatter.New()
	if cfg.PreTag != "" || cfg.PostTag != "" {
		f.PreTag = cfg.PreTag
		f.PostTag = cfg.PostTag
	}
	if cfg.Ellipsis != "" {
		f.Ellipsis = cfg.Ellipsis
	}
	f.Escape = cfg.Escape

	h := &Highlighter{
		scorer:      scorer.New(),
		formatter:   f,
		pool:        passage.NewPool[string](),
		maxPassages: cfg.MaxPassages,
		maxLength:   cfg.MaxLength,
		concurrency: cfg.Concurrency,
		logger:      slog.Default().With("component", "highlighter"),
	}
	if h.maxPassages <= 0 {
		h.maxPassages = 3
	}
	if h.maxLength <= 0 {
		h.maxLength = 10000
	}
	if h.concurrency <= 0 {
		h.concurrency = 4
	}
	return h
}

// Highlight returns the best passages of text for the query plan.
func (h *Highlighter) Highlight(text string, plan *parser.QueryPlan, opts Options) *Result {
	maxPassages, maxLength := h.resolve(opts)
	content := truncate(text, maxLength)
	sentences := breaker.Sentences(content)

	terms := plan.TermSet()
	var matches []tokenizer.Token
	totalFreq := make(map[string]int, len(terms))
	if len(terms) > 0 {
		for _, tok := range tokenizer.Tokenize(content) {
			if _, ok := terms[tok.Term]; ok {
				matches = append(matches, tok)
				totalFreq[tok.Term]++
			}
		}
	}
	if len(matches) == 0 {
		return h.emptyHighlight(content, sentences, maxPassages)
	}

	weights := make(map[string]float64, len(totalFreq))
	for term, freq := range totalFreq {
		weights[term] = h.scorer.Weight(len(content), freq)
	}

	p := h.pool.Get()
	defer h.pool.Put(p)

	top := make(passageHeap, 0, maxPassages)
	freq := make(map[string]int, len(terms))
	next := 0
	for _, s := range sentences {
		if next >= len(matches) {
			break
		}
		if matches[next].StartOffset >= s.End {
			continue
		}
		p.SetStartOffset(s.Start)
		p.SetEndOffset(s.End)
		clear(freq)
		for next < len(matches) && matches[next].StartOffset < s.End {
			m := matches[next]
			p.AddMatch(m.StartOffset, m.EndOffset, m.Term)
			freq[m.Term]++
			next++
		}
		var score float64
		for term, f := range freq {
			score += weights[term] * h.scorer.TF(f, p.Len())
		}
		p.SetScore(score * h.scorer.Norm(p.StartOffset()))

		if len(top) < maxPassages {
			heap.Push(&top, p.Clone())
		} else if p.Score() > top[0].Score() {
			top[0] = p.Clone()
			heap.Fix(&top, 0)
		}
		p.Reset()
	}

	best := []*passage.Passage[string](top)
	sort.Slice(best, func(i, j int) bool {
		return best[i].StartOffset() < best[j].StartOffset()
	})
	return &Result{
		Snippet:      h.formatter.Format(best, content),
		Passages:     toResults(best),
		TotalMatches: len(matches),
		Highlighted:  true,
	}
}

// HighlightBatch highlights docs concurrently, at most Concurrency at a
// time. Results are returned in input order.
func (h *Highlighter) HighlightBatch(ctx context.Context, docs []Document, plan *parser.QueryPlan, opts Options) ([]*Result, error) {
	results := make([]*Result, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("highlighting document %s: %w", doc.ID, err)
			}
			res := h.Highlight(doc.Text, plan, opts)
			res.DocumentID = doc.ID
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	h.logger.Debug("batch highlighted",
		"documents", len(docs),
		"query", plan.RawQuery,
	)
	return results, nil
}

func (h *Highlighter) resolve(opts Options) (maxPassages, maxLength int) {
	maxPassages, maxLength = opts.MaxPassages, opts.MaxLength
	if maxPassages <= 0 {
		maxPassages = h.maxPassages
	}
	if maxLength <= 0 {
		maxLength = h.maxLength
	}
	return maxPassages, maxLength
}

// emptyHighlight returns the leading sentences when nothing matched.
func (h *Highlighter) emptyHighlight(content string, sentences []breaker.Span, maxPassages int) *Result {
	n := min(maxPassages, len(sentences))
	lead := make([]*passage.Passage[string], 0, n)
	for _, s := range sentences[:n] {
		p := passage.New[string]()
		p.SetStartOffset(s.Start)
		p.SetEndOffset(s.End)
		lead = append(lead, p)
	}
	return &Result{
		Snippet:  h.formatter.Plain(lead, content),
		Passages: toResults(lead),
	}
}

func toResults(passages []*passage.Passage[string]) []PassageResult {
	out := make([]PassageResult, 0, len(passages))
	for _, p := range passages {
		pr := PassageResult{
			Start:   p.StartOffset(),
			End:     p.EndOffset(),
			Score:   p.Score(),
			Matches: make([]MatchResult, 0, p.NumMatches()),
		}
		for _, m := range p.Matches() {
			pr.Matches = append(pr.Matches, MatchResult{Start: m.Start, End: m.End, Term: m.Term})
		}
		out = append(out, pr)
	}
	return out
}

// truncate cuts text to at most n bytes without splitting a rune.
func truncate(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}

// passageHeap is a min-heap on score; among equal scores the later passage
// is evicted first.
type passageHeap []*passage.Passage[string]

func (h passageHeap) Len() int { return len(h) }
func (h passageHeap) Less(i, j int) bool {
	if h[i].Score() != h[j].Score() {
		return h[i].Score() < h[j].Score()
	}
	return h[i].StartOffset() > h[j].StartOffset()
}
func (h passageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *passageHeap) Push(x any)   { *h = append(*h, x.(*passage.Passage[string])) }
func (h *passageHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
