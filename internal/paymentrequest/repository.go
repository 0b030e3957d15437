package paymentrequest

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrRequestNotFound = errors.New("payment request not found")

const requestColumns = `id, amount, description, multi_use, fulfilled, created_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, pr *PaymentRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_requests (id, amount, description, multi_use, fulfilled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		pr.ID, pr.Amount, pr.Description, pr.MultiUse, pr.Fulfilled, pr.CreatedAt,
	)
	return err
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*PaymentRequest, error) {
	var pr PaymentRequest
	err := r.db.GetContext(ctx, &pr, `SELECT `+requestColumns+` FROM payment_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

// LockByID serialises payments and transaction creation for one request.
func (r *repository) LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*PaymentRequest, error) {
	var pr PaymentRequest
	err := tx.GetContext(ctx, &pr, `SELECT `+requestColumns+` FROM payment_requests WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (r *repository) MarkFulfilled(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	result, err := tx.ExecContext(ctx, `UPDATE payment_requests SET fulfilled = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// ExpireOlderThan closes every open request created before cutoff. Rows
// locked by an in-flight payment are skipped and picked up by the next run.
func (r *repository) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_requests SET fulfilled = TRUE
		WHERE id IN (
			SELECT id FROM payment_requests
			WHERE fulfilled = FALSE AND created_at < $1
			FOR UPDATE SKIP LOCKED
		)`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
