package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WISVCH/CHPay-sub001/internal/db"
	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/WISVCH/CHPay-sub001/internal/metrics"
	"github.com/WISVCH/CHPay-sub001/internal/transaction"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// RetryConfig bounds refund retries after lock contention.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func newRefundRetryPolicy(cfg RetryConfig) retrypolicy.RetryPolicy[any] {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay * 2
	}

	return retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return db.IsLockError(err)
		}).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxAttempts - 1).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			metrics.RecordRefundAttempt("retry")
			logger.Warn("refund hit lock contention, retrying", "attempt", e.Attempts(), "error", e.LastError())
		}).
		Build()
}

// Refund credits amount back to userID and books a refund row against the
// original payment. Lock contention is retried with exponential backoff;
// business-rule failures are returned immediately.
func (e *Engine) Refund(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, originalID uuid.UUID) (*transaction.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return e.refund(ctx, userID, decimal.NullDecimal{Decimal: amount.Round(2), Valid: true}, originalID)
}

// RefundRemainder refunds everything not yet refunded on the original
// payment. The remainder is computed under the row locks.
func (e *Engine) RefundRemainder(ctx context.Context, userID, originalID uuid.UUID) (*transaction.Transaction, error) {
	return e.refund(ctx, userID, decimal.NullDecimal{}, originalID)
}

func (e *Engine) refund(ctx context.Context, userID uuid.UUID, amount decimal.NullDecimal, originalID uuid.UUID) (*transaction.Transaction, error) {
	result, err := failsafe.With[any](e.retry).WithContext(ctx).Get(func() (any, error) {
		return e.refundOnce(ctx, userID, amount, originalID)
	})
	if err != nil {
		metrics.RecordBalanceMutation("refund", err)
		if db.IsLockError(err) && !errors.Is(err, db.ErrLockTimeout) {
			metrics.RecordRefundAttempt("exhausted")
			logger.Error("refund gave up after lock contention", "transaction_id", originalID, "error", err)
			return nil, fmt.Errorf("refund %s: %w", originalID, db.ErrLockTimeout)
		}
		return nil, err
	}

	metrics.RecordRefundAttempt("ok")
	metrics.RecordBalanceMutation("refund", nil)
	refund := result.(*transaction.Transaction)
	logger.Info("refund booked", "transaction_id", originalID, "refund_id", refund.ID, "amount", refund.Amount.StringFixed(2))
	return refund, nil
}

// Refundable returns what can still be refunded on t given the refunds
// already booked.
func Refundable(t *transaction.Transaction, refunded decimal.Decimal) decimal.Decimal {
	return t.Amount.Abs().Sub(refunded)
}

func (e *Engine) refundOnce(ctx context.Context, userID uuid.UUID, requested decimal.NullDecimal, originalID uuid.UUID) (*transaction.Transaction, error) {
	var refund *transaction.Transaction

	err := e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		u, err := e.users.LockByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		original, err := e.txs.LockByID(ctx, tx, originalID)
		if err != nil {
			return err
		}

		if !original.IsRefundable() {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransactionState, original.ID, original.Status)
		}
		if !original.OwnedBy(userID) {
			return ErrUserMismatch
		}

		refunded, err := e.txs.SumRefunds(ctx, tx, originalID)
		if err != nil {
			return err
		}
		remainder := Refundable(original, refunded)
		amount := remainder
		if requested.Valid {
			amount = requested.Decimal
		}
		if !amount.IsPositive() {
			return fmt.Errorf("%w: nothing left to refund", ErrIllegalRefund)
		}
		if amount.GreaterThan(remainder) {
			return fmt.Errorf("%w: requested %s, remaining %s", ErrIllegalRefund, amount.StringFixed(2), remainder.StringFixed(2))
		}

		// The balance ceiling does not apply to refunds.
		if err := e.credit(ctx, tx, u, amount); err != nil {
			return err
		}

		refund = transaction.NewRefund(userID, originalID, amount, "Refund: "+original.Description)
		if err := e.txs.Create(ctx, tx, refund); err != nil {
			return err
		}

		status := transaction.StatusPartiallyRefunded
		if amount.Equal(remainder) {
			status = transaction.StatusRefunded
		}
		return e.txs.UpdateStatus(ctx, tx, originalID, status)
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}
