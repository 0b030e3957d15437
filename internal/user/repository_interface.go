package user

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type Repository interface {
	GetOrCreate(ctx context.Context, subject, name, email, role string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByRFID(ctx context.Context, tag string) (*User, error)
	LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*User, error)
	UpdateBalance(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, balance decimal.Decimal) error
	SetRFID(ctx context.Context, id uuid.UUID, tag *string) error
	SetBanned(ctx context.Context, id uuid.UUID, banned bool) error
}
