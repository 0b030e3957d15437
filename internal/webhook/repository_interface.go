package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, w *PendingWebhook) error
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]PendingWebhook, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, lastErr string) error
	CountPending(ctx context.Context) (int64, error)
}
