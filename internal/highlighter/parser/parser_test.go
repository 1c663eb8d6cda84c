package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		terms    []string
		excludes []string
		typ      QueryType
	}{
		{"empty", "   ", []string{}, []string{}, QueryAND},
		{"single", "Dogs", []string{"dog"}, []string{}, QueryAND},
		{"or", "fox OR dogs", []string{"fox", "dog"}, []string{}, QueryOR},
		{"not", "search NOT engines", []string{"search"}, []string{"engin"}, QueryAND},
		{"dedupe", "dog dogs DOG", []string{"dog"}, []string{}, QueryAND},
		{"stop words dropped", "the fox", []string{"fox"}, []string{}, QueryAND},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Parse(tt.query)
			assert.Equal(t, tt.terms, plan.Terms)
			assert.Equal(t, tt.excludes, plan.ExcludeTerms)
			assert.Equal(t, tt.typ, plan.Type)
			assert.Equal(t, tt.query, plan.RawQuery)
		})
	}
}

func TestTermSet_DropsExcluded(t *testing.T) {
	plan := Parse("fox OR dog NOT fox")
	set := plan.TermSet()
	assert.Contains(t, set, "dog")
	assert.NotContains(t, set, "fox")
}

func TestNormalized_OrderIndependent(t *testing.T) {
	a := Parse("brown fox")
	b := Parse("FOX brown")
	assert.Equal(t, a.Normalized(), b.Normalized())
	assert.Equal(t, "AND|brown,fox", a.Normalized())
}
