package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/cache"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/parser"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/tracing"
)

const maxBodyBytes = 10 << 20

// DocumentStore is the document source for stored-document highlights;
// *store.PostgresStore satisfies it.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*store.Document, error)
	Put(ctx context.Context, doc store.Document) error
}

type highlightRequest struct {
	Text        string `json:"text"`
	Query       string `json:"query"`
	MaxPassages int    `json:"max_passages"`
}

type batchRequest struct {
	Query       string                 `json:"query"`
	MaxPassages int                    `json:"max_passages"`
	Documents   []highlighter.Document `json:"documents"`
}

type batchResponse struct {
	Query   string                `json:"query"`
	Results []*highlighter.Result `json:"results"`
}

type putDocumentRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Handler struct {
	highlighter   *highlighter.Highlighter
	store         DocumentStore
	cache         *cache.HighlightCache
	collector     *analytics.Collector
	invalidations analytics.Publisher
	metrics       *metrics.Metrics
	maxBatch      int
	logger        *slog.Logger
}

// New wires the HTTP handlers. docs, highlightCache and collector may be nil;
// the endpoints that need them then report the feature as unavailable.
func New(
	hl *highlighter.Highlighter,
	docs DocumentStore,
	highlightCache *cache.HighlightCache,
	collector *analytics.Collector,
	m *metrics.Metrics,
	maxBatch int,
) *Handler {
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &Handler{
		highlighter: hl,
		store:       docs,
		cache:       highlightCache,
		collector:   collector,
		metrics:     m,
		maxBatch:    maxBatch,
		logger:      slog.Default().With("component", "highlight-handler"),
	}
}

// PublishInvalidations makes PutDocument announce changed documents on p so
// other replicas drop their cached highlights too.
func (h *Handler) PublishInvalidations(p analytics.Publisher) {
	h.invalidations = p
}

// Register mounts the highlight API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/highlight", h.Highlight)
	mux.HandleFunc("POST /api/v1/highlight/batch", h.Batch)
	mux.HandleFunc("GET /api/v1/documents/{id}/highlight", h.DocumentHighlight)
	mux.HandleFunc("PUT /api/v1/documents/{id}", h.PutDocument)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Highlight serves POST /api/v1/highlight for text supplied in the body.
func (h *Handler) Highlight(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req highlightRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Query == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query is required"))
		return
	}
	if req.MaxPassages < 0 {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "max_passages must not be negative"))
		return
	}

	ctx, span := tracing.Start(r.Context(), "highlight", middleware.GetRequestID(r.Context()))
	plan := parser.Parse(req.Query)
	result := h.highlighter.Highlight(req.Text, plan, highlighter.Options{MaxPassages: req.MaxPassages})
	span.SetAttr("matches", result.TotalMatches)
	span.End()
	span.Log(logger.FromContext(ctx))

	h.observe(ctx, "", plan, result, "none", start)
	h.writeJSON(w, http.StatusOK, result)
}

// DocumentHighlight serves GET /api/v1/documents/{id}/highlight?q=&passages=
// from the document store, through the cache when one is configured.
func (h *Handler) DocumentHighlight(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := r.PathValue("id")
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'q' is required"))
		return
	}
	maxPassages := 0
	if v := r.URL.Query().Get("passages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "passages must be a positive integer"))
			return
		}
		maxPassages = n
	}
	if h.store == nil {
		h.writeError(w, r, apperrors.ErrStoreUnavailable)
		return
	}

	ctx, span := tracing.Start(r.Context(), "document-highlight", middleware.GetRequestID(r.Context()))
	span.SetAttr("document_id", id)
	plan := parser.Parse(query)
	compute := func() (*highlighter.Result, error) {
		fetchCtx, fetch := tracing.Start(ctx, "fetch", "")
		doc, err := h.store.Get(fetchCtx, id)
		fetch.End()
		if err != nil {
			return nil, err
		}
		_, hl := tracing.Start(ctx, "highlight", "")
		result := h.highlighter.Highlight(doc.Body, plan, highlighter.Options{MaxPassages: maxPassages})
		hl.End()
		result.DocumentID = doc.ID
		return result, nil
	}

	var (
		result      *highlighter.Result
		err         error
		cacheStatus = "none"
	)
	if h.cache != nil {
		var hit bool
		result, hit, err = h.cache.GetOrCompute(ctx, id, plan.Normalized(), maxPassages, compute)
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
			h.metrics.CacheHitsTotal.Inc()
		} else {
			h.metrics.CacheMissesTotal.Inc()
		}
	} else {
		result, err = compute()
	}
	span.SetAttr("cache", cacheStatus)
	span.End()
	span.Log(logger.FromContext(ctx))

	if err != nil {
		h.metrics.HighlightsTotal.WithLabelValues("error").Inc()
		h.writeError(w, r, err)
		return
	}
	h.observe(ctx, id, plan, result, cacheStatus, start)
	h.writeJSON(w, http.StatusOK, result)
}

// Batch serves POST /api/v1/highlight/batch.
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req batchRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	switch {
	case req.Query == "":
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query is required"))
		return
	case len(req.Documents) == 0:
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "documents must not be empty"))
		return
	case len(req.Documents) > h.maxBatch:
		h.writeError(w, r, apperrors.Newf(apperrors.ErrBatchTooLarge, http.StatusRequestEntityTooLarge,
			"%d documents exceeds the limit of %d", len(req.Documents), h.maxBatch))
		return
	case req.MaxPassages < 0:
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "max_passages must not be negative"))
		return
	}

	ctx, span := tracing.Start(ctx, "highlight-batch", middleware.GetRequestID(ctx))
	span.SetAttr("documents", len(req.Documents))
	plan := parser.Parse(req.Query)
	results, err := h.highlighter.HighlightBatch(ctx, req.Documents, plan, highlighter.Options{MaxPassages: req.MaxPassages})
	span.End()
	span.Log(log)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		h.metrics.HighlightsTotal.WithLabelValues("error").Inc()
		h.writeError(w, r, err)
		return
	}

	matches := 0
	for _, res := range results {
		matches += res.TotalMatches
	}
	latency := time.Since(start)
	h.metrics.BatchSize.Observe(float64(len(req.Documents)))
	h.metrics.HighlightLatency.WithLabelValues("none").Observe(latency.Seconds())
	log.Info("batch highlight completed",
		"query", req.Query,
		"documents", len(req.Documents),
		"matches", matches,
		"latency_ms", latency.Milliseconds(),
	)
	if h.collector != nil {
		h.collector.Track(analytics.HighlightEvent{
			Type:      analytics.EventBatch,
			Query:     req.Query,
			Terms:     plan.Terms,
			Documents: len(req.Documents),
			Matches:   matches,
			LatencyMs: latency.Milliseconds(),
			Timestamp: time.Now().UTC(),
			RequestID: middleware.GetRequestID(ctx),
		})
	}
	h.writeJSON(w, http.StatusOK, batchResponse{Query: req.Query, Results: results})
}

// PutDocument serves PUT /api/v1/documents/{id}. The document's cached
// highlights are dropped after a successful write.
func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, r, apperrors.ErrStoreUnavailable)
		return
	}
	var req putDocumentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	doc := store.Document{ID: r.PathValue("id"), Title: req.Title, Body: req.Body}
	if err := h.store.Put(r.Context(), doc); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.InvalidateDocument(r.Context(), doc.ID); err != nil {
			logger.FromContext(r.Context()).Warn("stale highlights may be served", "document_id", doc.ID, "error", err)
		} else {
			h.metrics.CacheInvalidationsTotal.Inc()
		}
	}
	if h.invalidations != nil {
		event := kafka.Event{Key: doc.ID, Value: analytics.InvalidationMessage{DocumentID: doc.ID}}
		if err := h.invalidations.Publish(r.Context(), event); err != nil {
			logger.FromContext(r.Context()).Warn("invalidation not announced", "document_id", doc.ID, "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"id": doc.ID, "status": "stored"})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate drops the highlights of ?document= or, without it, every
// cached highlight.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, r, apperrors.ErrCacheDisabled)
		return
	}

	docID := r.URL.Query().Get("document")
	var err error
	if docID != "" {
		err = h.cache.InvalidateDocument(r.Context(), docID)
	} else {
		err = h.cache.Invalidate(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.CacheInvalidationsTotal.Inc()
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) observe(ctx context.Context, docID string, plan *parser.QueryPlan, result *highlighter.Result, cacheStatus string, start time.Time) {
	latency := time.Since(start)
	outcome, eventType := "highlighted", analytics.EventHighlight
	if !result.Highlighted {
		outcome, eventType = "no_match", analytics.EventNoMatch
	}
	h.metrics.HighlightsTotal.WithLabelValues(outcome).Inc()
	h.metrics.HighlightLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	h.metrics.PassagesPerHighlight.Observe(float64(len(result.Passages)))
	h.metrics.MatchesPerHighlight.Observe(float64(result.TotalMatches))

	logger.FromContext(ctx).Info("highlight completed",
		"document_id", docID,
		"query", plan.RawQuery,
		"passages", len(result.Passages),
		"matches", result.TotalMatches,
		"cache", cacheStatus,
		"latency_ms", latency.Milliseconds(),
	)
	if h.collector == nil {
		return
	}
	h.collector.Track(analytics.HighlightEvent{
		Type:       eventType,
		DocumentID: docID,
		Query:      plan.RawQuery,
		Terms:      plan.Terms,
		Documents:  1,
		Passages:   len(result.Passages),
		Matches:    result.TotalMatches,
		LatencyMs:  latency.Milliseconds(),
		CacheHit:   cacheStatus == "hit",
		Timestamp:  time.Now().UTC(),
		RequestID:  middleware.GetRequestID(ctx),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to its status code. Messages of internal failures are
// logged rather than returned.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "status", status, "error", err)
		msg = http.StatusText(status)
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}
