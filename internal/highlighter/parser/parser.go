// Package parser turns a free-text query into the set of normalised terms
// the highlighter marks up.
package parser

import (
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/tokenizer"
)

type QueryType int

const (
	QueryAND QueryType = iota
	QueryOR
)

func (t QueryType) String() string {
	if t == QueryOR {
		return "OR"
	}
	return "AND"
}

// QueryPlan is a parsed query. Only Terms are highlighted; ExcludeTerms are
// kept so callers can report them.
type QueryPlan struct {
	Terms        []string
	Type         QueryType
	ExcludeTerms []string
	RawQuery     string
}

// Parse reads AND/OR/NOT operators and normalises the remaining words with
// the tokenizer. Repeated terms are kept once, in first-seen order.
func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Type:         QueryAND,
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	seen := make(map[string]struct{})
	excludeNext := false
	for _, word := range strings.Fields(query) {
		switch strings.ToUpper(word) {
		case "AND":
			plan.Type = QueryAND
			continue
		case "OR":
			plan.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		tokens := tokenizer.Tokenize(word)
		if len(tokens) == 0 {
			excludeNext = false
			continue
		}
		term := tokens[0].Term
		if excludeNext {
			plan.ExcludeTerms = append(plan.ExcludeTerms, term)
			excludeNext = false
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		plan.Terms = append(plan.Terms, term)
	}
	return plan
}

// TermSet returns the highlighted terms minus any excluded term.
func (p *QueryPlan) TermSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.Terms))
	for _, t := range p.Terms {
		set[t] = struct{}{}
	}
	for _, t := range p.ExcludeTerms {
		delete(set, t)
	}
	return set
}

// Normalized is a canonical form of the plan used for cache keys.
func (p *QueryPlan) Normalized() string {
	terms := make([]string, 0, len(p.Terms))
	for t := range p.TermSet() {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return p.Type.String() + "|" + strings.Join(terms, ",")
}
