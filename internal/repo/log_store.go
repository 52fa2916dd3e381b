package repo

import (
	"context"

	"github.com/siriusgroup/wa-notify/internal/model"
)

// LogStore persists the append-only audit history of dispatch outcomes.
type LogStore interface {
	Append(ctx context.Context, e model.LogEntry) error
	ListByBatch(ctx context.Context, batchID string) ([]model.LogEntry, error)
	FailedByBatch(ctx context.Context, batchID string) ([]model.LogEntry, error)
	Stats(ctx context.Context) (model.BatchStats, error)
}
