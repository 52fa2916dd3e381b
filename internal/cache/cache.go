package cache

import (
	"context"

	"github.com/siriusgroup/wa-notify/internal/model"
)

type SummaryCache interface {
	StoreSummary(ctx context.Context, res *model.DispatchResult) error
	GetSummary(ctx context.Context, batchID string) (*model.DispatchResult, bool, error)
}
