package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrWebhookNotFound = errors.New("pending webhook not found")

const webhookColumns = `id, transaction_id, url, payload, retry_count, next_attempt, status, last_error, created_at, updated_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, w *PendingWebhook) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO pending_webhooks (`+webhookColumns+`)
		 VALUES (:id, :transaction_id, :url, :payload, :retry_count, :next_attempt, :status, :last_error, :created_at, :updated_at)`,
		w,
	)
	return err
}

// ClaimDue leases up to limit due webhooks by moving their next attempt to
// leaseUntil, in one statement. A claimed row is not due again until the
// lease runs out, so a worker that dies mid-delivery only delays it.
func (r *repository) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]PendingWebhook, error) {
	var due []PendingWebhook
	err := r.db.SelectContext(ctx, &due,
		`UPDATE pending_webhooks SET next_attempt = $1, updated_at = NOW()
		 WHERE id IN (
			SELECT id FROM pending_webhooks
			WHERE status = $2 AND next_attempt <= $3
			ORDER BY next_attempt
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+webhookColumns,
		leaseUntil, StatusPending, now, limit,
	)
	return due, err
}

func (r *repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx,
		`UPDATE pending_webhooks SET status = $1, last_error = '', updated_at = NOW() WHERE id = $2 AND status = $3`,
		StatusSent, id, StatusPending,
	)
}

func (r *repository) MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, next time.Time, lastErr string) error {
	return r.update(ctx,
		`UPDATE pending_webhooks SET retry_count = $1, next_attempt = $2, last_error = $3, updated_at = NOW() WHERE id = $4 AND status = $5`,
		retryCount, next, lastErr, id, StatusPending,
	)
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, lastErr string) error {
	return r.update(ctx,
		`UPDATE pending_webhooks SET status = $1, retry_count = $2, last_error = $3, updated_at = NOW() WHERE id = $4 AND status = $5`,
		StatusFailed, retryCount, lastErr, id, StatusPending,
	)
}

func (r *repository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pending_webhooks WHERE status = $1`, StatusPending)
	return n, err
}

func (r *repository) update(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrWebhookNotFound
	}
	return nil
}
