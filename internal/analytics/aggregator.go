package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalHighlights     int64        `json:"total_highlights"`
	TotalBatches        int64        `json:"total_batches"`
	NoMatchCount        int64        `json:"no_match_count"`
	CacheHits           int64        `json:"cache_hits"`
	AvgMatchesPerResult float64      `json:"avg_matches_per_result"`
	AvgLatencyMs        float64      `json:"avg_latency_ms"`
	P50LatencyMs        int64        `json:"p50_latency_ms"`
	P95LatencyMs        int64        `json:"p95_latency_ms"`
	P99LatencyMs        int64        `json:"p99_latency_ms"`
	TopQueries          []QueryCount `json:"top_queries"`
	NoMatchQueries      []QueryCount `json:"no_match_queries"`
	HighlightsPerMinute float64      `json:"highlights_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps in-process counters over the highlight events of this
// instance. Latencies are kept in a ring of the most recent samples.
type Aggregator struct {
	mu             sync.Mutex
	highlights     int64
	batches        int64
	noMatch        int64
	cacheHits      int64
	matches        int64
	latencies      []int64
	nextLatency    int
	queryCounts    map[string]int64
	noMatchQueries map[string]int64
	startTime      time.Time
	logger         *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:      make([]int64, 0, 1024),
		queryCounts:    make(map[string]int64),
		noMatchQueries: make(map[string]int64),
		startTime:      time.Now(),
		logger:         slog.Default().With("component", "analytics-aggregator"),
	}
}

func (a *Aggregator) Record(event HighlightEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch event.Type {
	case EventBatch:
		a.batches++
	case EventNoMatch:
		a.highlights++
		a.noMatch++
		a.noMatchQueries[event.Query]++
	default:
		a.highlights++
	}
	if event.CacheHit {
		a.cacheHits++
	}
	a.matches += int64(event.Matches)
	if event.Type != EventBatch {
		a.queryCounts[event.Query]++
	}

	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.nextLatency] = event.LatencyMs
		a.nextLatency = (a.nextLatency + 1) % maxLatencySamples
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := AggregatedStats{
		TotalHighlights: a.highlights,
		TotalBatches:    a.batches,
		NoMatchCount:    a.noMatch,
		CacheHits:       a.cacheHits,
	}
	if a.highlights > 0 {
		stats.AvgMatchesPerResult = float64(a.matches) / float64(a.highlights)
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.NoMatchQueries = topN(a.noMatchQueries, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.HighlightsPerMinute = float64(stats.TotalHighlights) / elapsed
	}
	return stats
}

// StatsHandler serves the aggregated stats as JSON.
func (a *Aggregator) StatsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(a.Stats()); err != nil {
		a.logger.Error("failed to write analytics response", "error", err)
	}
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
