package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/cache"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/store"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/metrics"
)

const foxText = "The quick brown fox jumps over the dog. Nothing to see here. Another fox appears at dusk."

type fakeStore struct {
	mu   sync.Mutex
	docs map[string]store.Document
	gets int
}

func newFakeStore(docs ...store.Document) *fakeStore {
	s := &fakeStore{docs: make(map[string]store.Document)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, id string) (*store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrDocumentNotFound)
	}
	return &d, nil
}

func (s *fakeStore) Put(_ context.Context, doc store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *fakeStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

type memoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
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

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func newTestServer(t *testing.T, docs DocumentStore, withCache bool, maxBatch int) http.Handler {
	t.Helper()
	mux, _ := newTestHandler(t, docs, withCache, maxBatch)
	return mux
}

func newTestHandler(t *testing.T, docs DocumentStore, withCache bool, maxBatch int) (*http.ServeMux, *Handler) {
	t.Helper()
	hl := highlighter.New(config.HighlightConfig{
		MaxPassages: 3,
		MaxLength:   10000,
		Concurrency: 2,
		PreTag:      "<b>",
		PostTag:     "</b>",
		Ellipsis:    "... ",
	})
	var hc *cache.HighlightCache
	if withCache {
		hc = cache.New(&memoryBackend{data: make(map[string][]byte)}, time.Minute)
	}
	h := New(hl, docs, hc, nil, metrics.New(prometheus.NewRegistry()), maxBatch)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux, h
}

func do(t *testing.T, srv http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) highlighter.Result {
	t.Helper()
	var res highlighter.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestHighlight(t *testing.T) {
	srv := newTestServer(t, nil, false, 10)
	body, _ := json.Marshal(highlightRequest{Text: foxText, Query: "fox"})

	rec := do(t, srv, http.MethodPost, "/api/v1/highlight", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeResult(t, rec)
	assert.True(t, res.Highlighted)
	assert.Equal(t, 2, res.TotalMatches)
	assert.Contains(t, res.Snippet, "<b>fox</b>")
	assert.NotContains(t, res.Snippet, "Nothing to see")
}

func TestHighlight_NoMatch(t *testing.T) {
	srv := newTestServer(t, nil, false, 10)
	body, _ := json.Marshal(highlightRequest{Text: foxText, Query: "zebra", MaxPassages: 1})

	rec := do(t, srv, http.MethodPost, "/api/v1/highlight", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeResult(t, rec)
	assert.False(t, res.Highlighted)
	assert.Len(t, res.Passages, 1)
	assert.NotContains(t, res.Snippet, "<b>")
}

func TestHighlight_BadRequests(t *testing.T) {
	srv := newTestServer(t, nil, false, 10)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"text":`},
		{"missing query", `{"text":"a fox"}`},
		{"negative passages", `{"text":"a fox","query":"fox","max_passages":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/v1/highlight", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestDocumentHighlight_NotFound(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), true, 10)
	rec := do(t, srv, http.MethodGet, "/api/v1/documents/missing/highlight?q=fox", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentHighlight_StoreDisabled(t *testing.T) {
	srv := newTestServer(t, nil, false, 10)
	rec := do(t, srv, http.MethodGet, "/api/v1/documents/doc-1/highlight?q=fox", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDocumentHighlight_Validation(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), false, 10)
	assert.Equal(t, http.StatusBadRequest,
		do(t, srv, http.MethodGet, "/api/v1/documents/doc-1/highlight", "").Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, srv, http.MethodGet, "/api/v1/documents/doc-1/highlight?q=fox&passages=0", "").Code)
}

func TestDocumentHighlight_Cached(t *testing.T) {
	docs := newFakeStore(store.Document{ID: "doc-1", Body: foxText})
	srv := newTestServer(t, docs, true, 10)

	first := do(t, srv, http.MethodGet, "/api/v1/documents/doc-1/highlight?q=fox&passages=2", "")
	require.Equal(t, http.StatusOK, first.Code)
	second := do(t, srv, http.MethodGet, "/api/v1/documents/doc-1/highlight?q=FOX&passages=2", "")
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, 1, docs.getCount())
	res := decodeResult(t, second)
	assert.Equal(t, "doc-1", res.DocumentID)
	assert.True(t, res.Highlighted)

	stats := do(t, srv, http.MethodGet, "/api/v1/cache/stats", "")
	var body map[string]any
	require.NoError(t, json.Unmarshal(stats.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["hits"])
	assert.EqualValues(t, 1, body["misses"])
}

func TestPutDocument_InvalidatesCache(t *testing.T) {
	docs := newFakeStore(store.Document{ID: "doc-1", Body: foxText})
	srv := newTestServer(t, docs, true, 10)

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/v1/documents/doc-1/highlight?q=fox", "").Code)

	rec := do(t, srv, http.MethodPut, "/api/v1/documents/doc-1", `{"title":"t","body":"A red fox. A grey fox."}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/documents/doc-1/highlight?q=fox", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, docs.getCount())
	assert.Contains(t, decodeResult(t, rec).Snippet, "grey")
}

func TestBatch(t *testing.T) {
	srv := newTestServer(t, nil, false, 10)
	req := batchRequest{Query: "fox", Documents: []highlighter.Document{
		{ID: "a", Text: foxText},
		{ID: "b", Text: "No animals in this one."},
		{ID: "c", Text: "Fox, fox and fox."},
	}}
	body, _ := json.Marshal(req)

	rec := do(t, srv, http.MethodPost, "/api/v1/highlight/batch", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "a", resp.Results[0].DocumentID)
	assert.Equal(t, "b", resp.Results[1].DocumentID)
	assert.False(t, resp.Results[1].Highlighted)
	assert.Equal(t, 3, resp.Results[2].TotalMatches)
}

func TestBatch_TooLarge(t *testing.T) {
	srv := newTestServer(t, nil, false, 2)
	req := batchRequest{Query: "fox", Documents: []highlighter.Document{
		{ID: "a", Text: "fox"}, {ID: "b", Text: "fox"}, {ID: "c", Text: "fox"},
	}}
	body, _ := json.Marshal(req)

	rec := do(t, srv, http.MethodPost, "/api/v1/highlight/batch", string(body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds the limit of 2")
}

func TestBatch_Empty(t *testing.T) {
	srv := newTestServer(t, nil, false, 2)
	rec := do(t, srv, http.MethodPost, "/api/v1/highlight/batch", `{"query":"fox","documents":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheEndpoints_Disabled(t *testing.T) {
	srv := newTestServer(t, nil, false, 10)

	rec := do(t, srv, http.MethodGet, "/api/v1/cache/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"disabled"}`, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/v1/cache/invalidate", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCacheInvalidate(t *testing.T) {
	docs := newFakeStore(store.Document{ID: "doc-1", Body: foxText})
	srv := newTestServer(t, docs, true, 10)

	do(t, srv, http.MethodGet, "/api/v1/documents/doc-1/highlight?q=fox", "")
	rec := do(t, srv, http.MethodPost, "/api/v1/cache/invalidate?document=doc-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	do(t, srv, http.MethodGet, "/api/v1/documents/doc-1/highlight?q=fox", "")
	assert.Equal(t, 2, docs.getCount())

	rec = do(t, srv, http.MethodPost, "/api/v1/cache/invalidate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"invalidated"}`, rec.Body.String())
}

func TestPutDocument_PublishesInvalidation(t *testing.T) {
	mux, h := newTestHandler(t, newFakeStore(), false, 10)
	pub := &recordingPublisher{}
	h.PublishInvalidations(pub)

	rec := do(t, mux, http.MethodPut, "/api/v1/documents/doc-9", `{"body":"A fox."}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "doc-9", pub.events[0].Key)
	assert.Equal(t, analytics.InvalidationMessage{DocumentID: "doc-9"}, pub.events[0].Value)
}
