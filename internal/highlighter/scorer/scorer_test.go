package scorer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeight_RareTermsWeighMore(t *testing.T) {
	s := New()
	rare := s.Weight(10000, 1)
	common := s.Weight(10000, 100)
	assert.Greater(t, rare, common)
	assert.Greater(t, common, 0.0)
}

func TestWeight_Formula(t *testing.T) {
	s := New()
	n := 1 + 870.0/87
	want := 2.2 * math.Log(1+(n+0.5)/(3+0.5))
	assert.InDelta(t, want, s.Weight(870, 3), 1e-9)
}

func TestTF(t *testing.T) {
	s := New()
	assert.Zero(t, s.TF(0, 50))
	assert.Greater(t, s.TF(2, 50), s.TF(1, 50))
	assert.Greater(t, s.TF(1, 20), s.TF(1, 200), "shorter passages score higher")
	assert.Less(t, s.TF(1000, 87), 1.0)
}

func TestNorm_FavoursEarlyPassages(t *testing.T) {
	s := New()
	assert.Greater(t, s.Norm(0), s.Norm(5000))
	assert.Greater(t, s.Norm(5000), 1.0)
}
