package paymentrequest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Create(ctx context.Context, r *PaymentRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*PaymentRequest, error)
	LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*PaymentRequest, error)
	MarkFulfilled(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error
	ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
