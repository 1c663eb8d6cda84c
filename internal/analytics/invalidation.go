package analytics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/kafka"
)

// Invalidator drops cached highlights.
type Invalidator interface {
	InvalidateDocument(ctx context.Context, docID string) error
	Invalidate(ctx context.Context) error
}

// InvalidationHandler applies messages from the cache invalidation topic.
// Undecodable messages are logged and skipped so they are committed.
func InvalidationHandler(inv Invalidator) kafka.MessageHandler {
	logger := slog.Default().With("component", "cache-invalidation")
	return func(ctx context.Context, key []byte, value []byte) error {
		msg, err := kafka.DecodeJSON[InvalidationMessage](value)
		if err != nil {
			logger.Error("skipping malformed invalidation message", "key", string(key), "error", err)
			return nil
		}
		if msg.DocumentID == "" {
			if err := inv.Invalidate(ctx); err != nil {
				return fmt.Errorf("flushing highlight cache: %w", err)
			}
			return nil
		}
		if err := inv.InvalidateDocument(ctx, msg.DocumentID); err != nil {
			return fmt.Errorf("invalidating document %s: %w", msg.DocumentID, err)
		}
		return nil
	}
}
