// Package store reads and writes the documents whose text is highlighted.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/resilience"
)

// Schema creates the documents table.
const Schema = `CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PostgresStore struct {
	db      *sql.DB
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
	logger  *slog.Logger
}

func isTransient(err error) bool {
	return !errors.Is(err, apperrors.ErrDocumentNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
			Retryable:    isTransient,
		},
		breaker: resilience.NewBreaker("document-store", resilience.BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			IsFailure:        isTransient,
		}),
		logger: slog.Default().With("component", "document-store"),
	}
}

// Get returns the document with id, or ErrDocumentNotFound. Once reads
// keep failing the breaker opens and Get fails fast with ErrStoreUnavailable.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, "get-document", s.retry, func(ctx context.Context) error {
			return s.scan(ctx, id, &doc)
		})
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrDocumentNotFound) {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		s.logger.Error("document fetch failed", "document_id", id, "error", err)
		return nil, fmt.Errorf("fetching document %s: %w: %w", id, apperrors.ErrStoreUnavailable, err)
	}
	return &doc, nil
}

func (s *PostgresStore) scan(ctx context.Context, id string, doc *Document) error {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, body, updated_at FROM documents WHERE id = $1`, id)
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Body, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.ErrDocumentNotFound
		}
		return err
	}
	return nil
}

// Put inserts or replaces a document.
func (s *PostgresStore) Put(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is empty: %w", apperrors.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, body, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, body = EXCLUDED.body, updated_at = now()`,
		doc.ID, doc.Title, doc.Body)
	if err != nil {
		return fmt.Errorf("storing document %s: %w", doc.ID, err)
	}
	return nil
}
