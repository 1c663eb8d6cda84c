package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/kafka"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]kafka.Event(nil), events...))
	return nil
}

func (p *recordingPublisher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestCollector_BatchesAndFlushesOnClose(t *testing.T) {
	pub := &recordingPublisher{}
	agg := NewAggregator()
	c := NewCollector(pub, agg, 100, 2, time.Hour)
	c.Start(context.Background())

	for i := 0; i < 5; i++ {
		c.Track(HighlightEvent{Type: EventHighlight, DocumentID: "doc", Query: "fox", Matches: 2})
	}
	c.Close()

	assert.Equal(t, 5, pub.total())
	for _, b := range pub.batches {
		assert.LessOrEqual(t, len(b), 2)
	}
	assert.Equal(t, int64(5), agg.Stats().TotalHighlights)
}

func TestCollector_FlushesOnInterval(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, nil, 100, 50, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	c.Track(HighlightEvent{Type: EventHighlight, Query: "fox"})
	assert.Eventually(t, func() bool { return pub.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAggregator_Stats(t *testing.T) {
	agg := NewAggregator()
	agg.Record(HighlightEvent{Type: EventHighlight, Query: "fox", Matches: 4, LatencyMs: 10})
	agg.Record(HighlightEvent{Type: EventHighlight, Query: "fox", Matches: 2, LatencyMs: 20, CacheHit: true})
	agg.Record(HighlightEvent{Type: EventNoMatch, Query: "zebra", LatencyMs: 30})
	agg.Record(HighlightEvent{Type: EventBatch, Query: "fox", Documents: 10, Matches: 0, LatencyMs: 40})

	stats := agg.Stats()
	assert.Equal(t, int64(3), stats.TotalHighlights)
	assert.Equal(t, int64(1), stats.TotalBatches)
	assert.Equal(t, int64(1), stats.NoMatchCount)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.InDelta(t, 2.0, stats.AvgMatchesPerResult, 1e-9)
	assert.InDelta(t, 25.0, stats.AvgLatencyMs, 1e-9)
	require.NotEmpty(t, stats.TopQueries)
	assert.Equal(t, QueryCount{Query: "fox", Count: 2}, stats.TopQueries[0])
	assert.Equal(t, []QueryCount{{Query: "zebra", Count: 1}}, stats.NoMatchQueries)
}

func TestAggregator_LatencyRing(t *testing.T) {
	agg := NewAggregator()
	for i := 0; i < maxLatencySamples+10; i++ {
		agg.Record(HighlightEvent{Type: EventHighlight, LatencyMs: int64(i)})
	}
	assert.Len(t, agg.latencies, maxLatencySamples)
}

func TestAggregator_StatsHandler(t *testing.T) {
	agg := NewAggregator()
	agg.Record(HighlightEvent{Type: EventHighlight, Query: "fox"})
	rec := httptest.NewRecorder()
	agg.StatsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var stats AggregatedStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalHighlights)
}

type fakeInvalidator struct {
	docs    []string
	flushed int
	err     error
}

func (f *fakeInvalidator) InvalidateDocument(_ context.Context, id string) error {
	f.docs = append(f.docs, id)
	return f.err
}

func (f *fakeInvalidator) Invalidate(context.Context) error {
	f.flushed++
	return f.err
}

func TestInvalidationHandler(t *testing.T) {
	inv := &fakeInvalidator{}
	handle := InvalidationHandler(inv)
	ctx := context.Background()

	require.NoError(t, handle(ctx, nil, []byte(`{"document_id":"doc-7"}`)))
	require.NoError(t, handle(ctx, nil, []byte(`{}`)))
	require.NoError(t, handle(ctx, nil, []byte(`not json`)))

	assert.Equal(t, []string{"doc-7"}, inv.docs)
	assert.Equal(t, 1, inv.flushed)

	inv.err = errors.New("redis down")
	assert.Error(t, handle(ctx, nil, []byte(`{"document_id":"doc-8"}`)))
}
