package ledger

import (
	"context"
	"fmt"

	"github.com/WISVCH/CHPay-sub001/internal/db"
	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/WISVCH/CHPay-sub001/internal/metrics"
	"github.com/WISVCH/CHPay-sub001/internal/paymentrequest"
	"github.com/WISVCH/CHPay-sub001/internal/transaction"
	"github.com/WISVCH/CHPay-sub001/internal/user"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Limits guards credits against the configured balance ceiling.
type Limits interface {
	AssertBalanceWithinLimit(ctx context.Context, current, delta decimal.Decimal) error
}

// Engine is the only writer of user balances. Every mutation locks the user
// row first, then the transaction row, then the payment request row, and
// reads fresh state after locking.
type Engine struct {
	tx       db.Transactor
	users    user.Repository
	txs      transaction.Repository
	requests paymentrequest.Repository
	limits   Limits
	retry    retrypolicy.RetryPolicy[any]
}

func NewEngine(
	tx db.Transactor,
	users user.Repository,
	txs transaction.Repository,
	requests paymentrequest.Repository,
	limits Limits,
	retry RetryConfig,
) *Engine {
	return &Engine{
		tx:       tx,
		users:    users,
		txs:      txs,
		requests: requests,
		limits:   limits,
		retry:    newRefundRetryPolicy(retry),
	}
}

// Debit withdraws amount from the user's balance.
func (e *Engine) Debit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}

	err := e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		u, err := e.users.LockByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		return e.debit(ctx, tx, u, amount)
	})
	metrics.RecordBalanceMutation("debit", err)
	return err
}

// Credit adds amount to the user's balance within the configured ceiling.
func (e *Engine) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}

	err := e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		u, err := e.users.LockByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := e.limits.AssertBalanceWithinLimit(ctx, u.Balance, amount); err != nil {
			return err
		}
		return e.credit(ctx, tx, u, amount)
	})
	metrics.RecordBalanceMutation("credit", err)
	return err
}

// Pay settles a pending payment or external payment for userID. An external
// payment without an owner is claimed by the first user that pays it.
func (e *Engine) Pay(ctx context.Context, userID, transactionID uuid.UUID) (*transaction.Transaction, error) {
	var paid *transaction.Transaction

	err := e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		u, err := e.users.LockByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if u.Banned {
			return ErrUserBanned
		}

		t, err := e.txs.LockByID(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if !t.IsPending() {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransactionState, t.ID, t.Status)
		}

		var request *paymentrequest.PaymentRequest
		switch t.Type {
		case transaction.TypePayment:
			if !t.OwnedBy(userID) {
				return ErrUserMismatch
			}
			requestID, _ := t.RequestID()
			request, err = e.requests.LockByID(ctx, tx, requestID)
			if err != nil {
				return err
			}
			if request.Fulfilled {
				return ErrRequestAlreadyFulfilled
			}
		case transaction.TypeExternalPayment:
			if t.UserID.Valid && !t.OwnedBy(userID) {
				return ErrUserMismatch
			}
		default:
			return fmt.Errorf("%w: cannot pay a %s", ErrInvalidTransactionState, t.Type)
		}

		if err := e.debit(ctx, tx, u, t.Amount.Abs()); err != nil {
			return err
		}

		if !t.UserID.Valid {
			if err := e.txs.AssignUser(ctx, tx, t.ID, userID); err != nil {
				return err
			}
			t.UserID = uuid.NullUUID{UUID: userID, Valid: true}
		}
		if err := e.txs.UpdateStatus(ctx, tx, t.ID, transaction.StatusSuccessful); err != nil {
			return err
		}
		t.Status = transaction.StatusSuccessful

		if request != nil && !request.MultiUse {
			if err := e.requests.MarkFulfilled(ctx, tx, request.ID); err != nil {
				return err
			}
		}

		paid = t
		return nil
	})
	metrics.RecordBalanceMutation("pay", err)
	if err != nil {
		return nil, err
	}

	logger.Info("transaction paid", "transaction_id", paid.ID, "user_id", userID, "amount", paid.Amount.StringFixed(2))
	return paid, nil
}

// MarkTopUpPaid credits a pending top-up and marks it successful. Calling it
// again for a successful top-up is a no-op and reports false.
func (e *Engine) MarkTopUpPaid(ctx context.Context, transactionID uuid.UUID) (*transaction.Transaction, bool, error) {
	current, err := e.txs.FindByID(ctx, transactionID)
	if err != nil {
		return nil, false, err
	}
	if current.Type != transaction.TypeTopUp || !current.UserID.Valid {
		return nil, false, fmt.Errorf("%w: %s is not a top-up", ErrInvalidTransactionState, transactionID)
	}

	var (
		result  *transaction.Transaction
		changed bool
	)
	err = e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		u, err := e.users.LockByID(ctx, tx, current.UserID.UUID)
		if err != nil {
			return err
		}
		t, err := e.txs.LockByID(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		result = t

		switch t.Status {
		case transaction.StatusSuccessful:
			return nil
		case transaction.StatusPending:
		default:
			return fmt.Errorf("%w: top-up %s is %s", ErrInvalidTransactionState, t.ID, t.Status)
		}

		if err := e.limits.AssertBalanceWithinLimit(ctx, u.Balance, t.Amount); err != nil {
			return err
		}
		if err := e.credit(ctx, tx, u, t.Amount); err != nil {
			return err
		}
		if err := e.txs.UpdateStatus(ctx, tx, t.ID, transaction.StatusSuccessful); err != nil {
			return err
		}
		t.Status = transaction.StatusSuccessful
		changed = true
		return nil
	})
	metrics.RecordBalanceMutation("top_up", err)
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

// MarkTopUpFailed moves a pending top-up to failed. It reports false when
// the top-up had already failed.
func (e *Engine) MarkTopUpFailed(ctx context.Context, transactionID uuid.UUID) (*transaction.Transaction, bool, error) {
	var (
		result  *transaction.Transaction
		changed bool
	)
	err := e.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		t, err := e.txs.LockByID(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		result = t

		switch {
		case t.Type != transaction.TypeTopUp:
			return fmt.Errorf("%w: %s is not a top-up", ErrInvalidTransactionState, t.ID)
		case t.Status == transaction.StatusFailed:
			return nil
		case t.Status != transaction.StatusPending:
			return fmt.Errorf("%w: top-up %s is %s", ErrInvalidTransactionState, t.ID, t.Status)
		}

		if err := e.txs.UpdateStatus(ctx, tx, t.ID, transaction.StatusFailed); err != nil {
			return err
		}
		t.Status = transaction.StatusFailed
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

func (e *Engine) debit(ctx context.Context, tx *sqlx.Tx, u *user.User, amount decimal.Decimal) error {
	if u.Banned {
		return ErrUserBanned
	}
	if u.Balance.LessThan(amount) {
		return ErrInsufficientBalance
	}
	u.Balance = u.Balance.Sub(amount)
	return e.users.UpdateBalance(ctx, tx, u.ID, u.Balance)
}

func (e *Engine) credit(ctx context.Context, tx *sqlx.Tx, u *user.User, amount decimal.Decimal) error {
	u.Balance = u.Balance.Add(amount)
	return e.users.UpdateBalance(ctx, tx, u.ID, u.Balance)
}

// validAmount accepts positive amounts without fractions of a cent; the
// balance column stores two decimals and would round anything finer.
func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(2))
}
