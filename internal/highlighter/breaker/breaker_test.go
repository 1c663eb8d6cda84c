package breaker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentences(t *testing.T) {
	text := "Hello world. This is a test!\nNext line? End"
	spans := Sentences(text)
	require.Len(t, spans, 4)

	want := []string{"Hello world. ", "This is a test!\n", "Next line? ", "End"}
	for i, w := range want {
		assert.Equal(t, w, text[spans[i].Start:spans[i].End])
	}
}

func TestSentences_CoversText(t *testing.T) {
	texts := []string{
		"",
		"no terminator at all",
		"3.14 is pi. e is 2.71.",
		"  leading space. trailing space.   ",
		"line one\nline two\n\nline four",
		"¿Qué tal? Muy bien… gracias!",
	}
	for _, text := range texts {
		spans := Sentences(text)
		pos := 0
		for _, s := range spans {
			assert.Equal(t, pos, s.Start, "spans must be contiguous in %q", text)
			assert.Greater(t, s.Len(), 0, "spans must be non-empty in %q", text)
			pos = s.End
		}
		assert.Equal(t, len(text), pos, "spans must cover %q", text)
	}
}

func TestSentences_DecimalPointDoesNotBreak(t *testing.T) {
	spans := Sentences("3.14 is pi.")
	require.Len(t, spans, 1)
	assert.Equal(t, Span{Start: 0, End: 11}, spans[0])
}

func TestSpan_Contains(t *testing.T) {
	s := Span{Start: 5, End: 10}
	assert.True(t, s.Contains(5))
	assert.True(t, s.Contains(9))
	assert.False(t, s.Contains(10))
	assert.False(t, s.Contains(4))
}

func BenchmarkSentences(b *testing.B) {
	text := strings.Repeat("First sentence here. Second one follows! Is this the third? ", 100)
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	for i := 0; i < b.N; i++ {
		_ = Sentences(text)
	}
}
