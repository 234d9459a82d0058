package billing

import (
	"context"
	"time"

	"github.com/askthestars/askthestars/app/models"
)

// Store persists entitlement records. All subscription writes go through
// UpsertMerge, which merges only the fields present in the patch and applies
// the idempotency and ordering guards atomically per user.
type Store interface {
	Get(ctx context.Context, userID string) (*models.Entitlement, error)
	UpsertMerge(ctx context.Context, userID string, p Patch) (WriteResult, error)
	EventApplied(ctx context.Context, eventID string) (bool, error)
	EnsureDefault(ctx context.Context, userID string) error
}

type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
