// Package scorer ranks passages with a BM25 variant in which each passage is
// treated as a small document and the content length stands in for the
// collection size.
package scorer

import "math"

const (
	DefaultK1    = 1.2
	DefaultB     = 0.75
	DefaultPivot = 87
)

// Scorer holds the BM25 parameters. Pivot is the assumed average passage
// length in bytes.
type Scorer struct {
	K1    float64
	B     float64
	Pivot float64
}

func New() Scorer {
	return Scorer{K1: DefaultK1, B: DefaultB, Pivot: DefaultPivot}
}

// Weight is the per-term weight given the content length and the number of
// times the term occurs in the whole content.
func (s Scorer) Weight(contentLength, totalTermFreq int) float64 {
	numPassages := 1 + float64(contentLength)/s.Pivot
	docFreq := math.Min(numPassages, float64(totalTermFreq))
	return (s.K1 + 1) * computeIDF(numPassages, docFreq)
}

// TF is the saturated term frequency of a term within one passage.
func (s Scorer) TF(freq, passageLen int) float64 {
	if freq <= 0 {
		return 0
	}
	lengthRatio := float64(passageLen) / s.Pivot
	norm := s.K1 * (1 - s.B + s.B*lengthRatio)
	return float64(freq) / (float64(freq) + norm)
}

// Norm boosts passages near the start of the content.
func (s Scorer) Norm(passageStart int) float64 {
	return 1 + 1/math.Log(s.Pivot+float64(passageStart))
}

func computeIDF(numPassages, docFreq float64) float64 {
	return math.Log(1 + (numPassages+0.5)/(docFreq+0.5))
}
