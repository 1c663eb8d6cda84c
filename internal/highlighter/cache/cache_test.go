package cache

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter"
)

type memoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string][]byte)}
}

func (m *memoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (m *memoryBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func sampleResult(snippet string) *highlighter.Result {
	return &highlighter.Result{
		Snippet:      snippet,
		TotalMatches: 1,
		Highlighted:  true,
		Passages: []highlighter.PassageResult{{
			Start: 0, End: 12, Score: 1.5,
			Matches: []highlighter.MatchResult{{Start: 4, End: 7, Term: "fox"}},
		}},
	}
}

func TestCache_SetGetRoundTrip(t *testing.T) {
	backend := newMemoryBackend()
	c := New(backend, time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "doc-1", "AND|fox", 3)
	assert.False(t, ok)

	want := sampleResult("the <b>fox</b>")
	c.Set(ctx, "doc-1", "AND|fox", 3, want)

	got, ok := c.Get(ctx, "doc-1", "AND|fox", 3)
	require.True(t, ok)
	assert.Equal(t, want, got)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	for k, v := range backend.data {
		assert.True(t, strings.HasPrefix(k, keyPrefix))
		assert.Equal(t, byte(CompressionZstd), v[0])
		assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, v[headerSize:headerSize+4], "payload is a zstd frame")
	}
}

func TestCache_LZ4ReadsZstdEntries(t *testing.T) {
	backend := newMemoryBackend()
	ctx := context.Background()
	want := sampleResult(strings.Repeat("the quick <b>fox</b> ", 20))

	New(backend, time.Minute).Set(ctx, "doc-1", "AND|fox", 3, want)
	c := New(backend, time.Minute, WithCompression(CompressionLZ4))
	got, ok := c.Get(ctx, "doc-1", "AND|fox", 3)
	require.True(t, ok)
	assert.Equal(t, want, got)

	c.Set(ctx, "doc-2", "AND|fox", 3, want)
	v := backend.data[BuildKey("doc-2", "AND|fox", 3)]
	assert.Equal(t, byte(CompressionLZ4), v[0])
	got, ok = c.Get(ctx, "doc-2", "AND|fox", 3)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestCache_CorruptValueIsMiss(t *testing.T) {
	backend := newMemoryBackend()
	c := New(backend, time.Minute)
	backend.data[BuildKey("doc", "q", 3)] = []byte{byte(CompressionZstd), 1}
	_, ok := c.Get(context.Background(), "doc", "q", 3)
	assert.False(t, ok)
}

func TestCache_GetOrCompute(t *testing.T) {
	c := New(newMemoryBackend(), time.Minute)
	ctx := context.Background()
	var calls atomic.Int32
	compute := func() (*highlighter.Result, error) {
		calls.Add(1)
		return sampleResult("x"), nil
	}

	_, hit, err := c.GetOrCompute(ctx, "doc", "AND|fox", 3, compute)
	require.NoError(t, err)
	assert.False(t, hit)

	_, hit, err = c.GetOrCompute(ctx, "doc", "AND|fox", 3, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_GetOrComputeError(t *testing.T) {
	c := New(newMemoryBackend(), time.Minute)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "doc", "q", 3, func() (*highlighter.Result, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCache_InvalidateDocument(t *testing.T) {
	backend := newMemoryBackend()
	c := New(backend, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "doc-1", "AND|fox", 3, sampleResult("a"))
	c.Set(ctx, "doc-1", "AND|dog", 3, sampleResult("b"))
	c.Set(ctx, "doc-2", "AND|fox", 3, sampleResult("c"))

	require.NoError(t, c.InvalidateDocument(ctx, "doc-1"))
	_, ok := c.Get(ctx, "doc-1", "AND|fox", 3)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "doc-2", "AND|fox", 3)
	assert.True(t, ok)

	require.NoError(t, c.Invalidate(ctx))
	assert.Empty(t, backend.data)
}

func TestBuildKey(t *testing.T) {
	assert.Equal(t, BuildKey("d", "AND|fox", 3), BuildKey("d", "AND|fox", 3))
	assert.NotEqual(t, BuildKey("d", "AND|fox", 3), BuildKey("d", "AND|fox", 4))
	assert.NotEqual(t, BuildKey("d", "AND|fox", 3), BuildKey("e", "AND|fox", 3))
	assert.True(t, strings.HasPrefix(BuildKey("d", "q", 1), documentPrefix("d")))
}
