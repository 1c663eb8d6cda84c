package analytics

import "time"

type EventType string

const (
	EventHighlight EventType = "highlight"
	EventNoMatch   EventType = "no_match"
	EventBatch     EventType = "highlight_batch"
)

// HighlightEvent describes one served highlight, or one batch when Type is
// EventBatch.
type HighlightEvent struct {
	Type       EventType `json:"type"`
	DocumentID string    `json:"document_id,omitempty"`
	Query      string    `json:"query"`
	Terms      []string  `json:"terms"`
	Documents  int       `json:"documents"`
	Passages   int       `json:"passages"`
	Matches    int       `json:"matches"`
	LatencyMs  int64     `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

// InvalidationMessage is read from the cache invalidation topic. An empty
// DocumentID drops every cached highlight.
type InvalidationMessage struct {
	DocumentID string `json:"document_id"`
}
