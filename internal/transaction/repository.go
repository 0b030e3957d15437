package transaction

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrCheckoutAlreadyOpen = errors.New("top-up already has a provider checkout")
)

const transactionColumns = `id, user_id, amount, description, status, type, provider_ref, request_id, refund_of, redirect_url, webhook_url, fallback_url, created_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, tx *sqlx.Tx, t *Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}

	row := toRow(t)
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount, description, status, type, provider_ref, request_id, refund_of, redirect_url, webhook_url, fallback_url, created_at)
		VALUES (:id, :user_id, :amount, :description, :status, :type, :provider_ref, :request_id, :refund_of, :redirect_url, :webhook_url, :fallback_url, :created_at)`,
		row,
	)
	return err
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return r.get(ctx, r.db, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

func (r *repository) FindByProviderRef(ctx context.Context, ref string) (*Transaction, error) {
	return r.get(ctx, r.db, `SELECT `+transactionColumns+` FROM transactions WHERE provider_ref = $1`, ref)
}

// LockByID reads the transaction row with an exclusive lock held until tx ends.
func (r *repository) LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Transaction, error) {
	return r.get(ctx, tx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

func (r *repository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status Status) error {
	result, err := tx.ExecContext(ctx, `UPDATE transactions SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *repository) AssignUser(ctx context.Context, tx *sqlx.Tx, id, userID uuid.UUID) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE transactions SET user_id = $1 WHERE id = $2 AND user_id IS NULL`,
		userID, id,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// SetProviderRef records the checkout of a pending top-up. A reference is
// written once; later calls fail with ErrCheckoutAlreadyOpen.
func (r *repository) SetProviderRef(ctx context.Context, id uuid.UUID, ref string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET provider_ref = $1
		WHERE id = $2 AND type = $3 AND status = $4 AND provider_ref IS NULL`,
		ref, id, TypeTopUp, StatusPending,
	)
	if err != nil {
		return err
	}
	if err := requireRow(result); err != nil {
		return ErrCheckoutAlreadyOpen
	}
	return nil
}

// FindPaymentForRequest returns the most recent payment of userID for the
// request whose status is one of statuses.
func (r *repository) FindPaymentForRequest(ctx context.Context, tx *sqlx.Tx, userID, requestID uuid.UUID, statuses ...Status) (*Transaction, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE user_id = $1 AND request_id = $2 AND type = $3 AND status = ANY($4)
		ORDER BY created_at DESC
		LIMIT 1`
	return r.get(ctx, tx, query, userID, requestID, TypePayment, pq.Array(names))
}

// SumRefunds returns the total already refunded against originalID.
func (r *repository) SumRefunds(ctx context.Context, tx *sqlx.Tx, originalID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.GetContext(ctx, &sum,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE refund_of = $1 AND type = $2 AND status = $3`,
		originalID, TypeRefund, StatusSuccessful,
	)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []transactionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}

	out := make([]Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := row.toTransaction()
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (r *repository) get(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*Transaction, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, q, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toTransaction()
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
