package transaction

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Repository is the Transaction Store. Methods taking a tx run inside the
// caller's locked unit of work.
type Repository interface {
	Create(ctx context.Context, tx *sqlx.Tx, t *Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	FindByProviderRef(ctx context.Context, ref string) (*Transaction, error)
	LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Transaction, error)
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status Status) error
	AssignUser(ctx context.Context, tx *sqlx.Tx, id, userID uuid.UUID) error
	SetProviderRef(ctx context.Context, id uuid.UUID, ref string) error
	FindPaymentForRequest(ctx context.Context, tx *sqlx.Tx, userID, requestID uuid.UUID, statuses ...Status) (*Transaction, error)
	SumRefunds(ctx context.Context, tx *sqlx.Tx, originalID uuid.UUID) (decimal.Decimal, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error)
}
