package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/WISVCH/CHPay-sub001/internal/db"
	"github.com/WISVCH/CHPay-sub001/internal/ledger"
	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/WISVCH/CHPay-sub001/internal/paymentrequest"
	"github.com/WISVCH/CHPay-sub001/internal/transaction"
	"github.com/WISVCH/CHPay-sub001/internal/user"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Ledger is the subset of the balance engine the orchestrator drives.
type Ledger interface {
	Pay(ctx context.Context, userID, transactionID uuid.UUID) (*transaction.Transaction, error)
	Refund(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, originalID uuid.UUID) (*transaction.Transaction, error)
	RefundRemainder(ctx context.Context, userID, originalID uuid.UUID) (*transaction.Transaction, error)
}

type Freezer interface {
	AssertNotFrozen(ctx context.Context) error
}

// CompletionNotifier informs the external party that a payment completed
// and returns where the payer should be redirected.
type CompletionNotifier interface {
	NotifyExternalCompletion(ctx context.Context, t *transaction.Transaction) string
}

type Service interface {
	CreateRequest(ctx context.Context, in paymentrequest.CreateRequest) (*paymentrequest.PaymentRequest, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*paymentrequest.PaymentRequest, error)
	TransactionFromRequest(ctx context.Context, requestID, userID uuid.UUID) (*transaction.Transaction, error)
	FulfillTransaction(ctx context.Context, transactionID, userID uuid.UUID) (*transaction.Transaction, error)
	CreateExternalTransaction(ctx context.Context, in CreateExternalRequest) (*transaction.Transaction, error)
	FulfillExternalTransaction(ctx context.Context, transactionID, userID uuid.UUID) (*ExternalResult, error)
	RefundTransaction(ctx context.Context, transactionID uuid.UUID) (*transaction.Transaction, error)
	PartialRefund(ctx context.Context, transactionID uuid.UUID, amount decimal.Decimal) (*transaction.Transaction, error)
	PayFromRequest(ctx context.Context, tag string, requestID uuid.UUID) (string, error)
	GetTransaction(ctx context.Context, transactionID uuid.UUID) (*transaction.Transaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]transaction.Transaction, error)
}

type service struct {
	tx       db.Transactor
	users    user.Repository
	txs      transaction.Repository
	requests paymentrequest.Repository
	ledger   Ledger
	freezer  Freezer
	notifier CompletionNotifier
}

func NewService(
	tx db.Transactor,
	users user.Repository,
	txs transaction.Repository,
	requests paymentrequest.Repository,
	ledger Ledger,
	freezer Freezer,
	notifier CompletionNotifier,
) Service {
	return &service{
		tx:       tx,
		users:    users,
		txs:      txs,
		requests: requests,
		ledger:   ledger,
		freezer:  freezer,
		notifier: notifier,
	}
}

func (s *service) CreateRequest(ctx context.Context, in paymentrequest.CreateRequest) (*paymentrequest.PaymentRequest, error) {
	if err := s.freezer.AssertNotFrozen(ctx); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	pr := paymentrequest.New(in.Amount, in.Description, in.MultiUse)
	if err := s.requests.Create(ctx, pr); err != nil {
		return nil, err
	}

	logger.Info("payment request created", "request_id", pr.ID, "amount", pr.Amount.StringFixed(2), "multi_use", pr.MultiUse)
	return pr, nil
}

func (s *service) GetRequest(ctx context.Context, id uuid.UUID) (*paymentrequest.PaymentRequest, error) {
	return s.requests.FindByID(ctx, id)
}

// TransactionFromRequest returns the payment userID should settle for the
// request. The request row is locked so concurrent calls for the same user
// yield one transaction.
func (s *service) TransactionFromRequest(ctx context.Context, requestID, userID uuid.UUID) (*transaction.Transaction, error) {
	if err := s.freezer.AssertNotFrozen(ctx); err != nil {
		return nil, err
	}

	var result *transaction.Transaction
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		pr, err := s.requests.LockByID(ctx, tx, requestID)
		if err != nil {
			return err
		}

		// A multi-use request may be paid repeatedly, so only an unpaid
		// attempt is reused.
		reusable := []transaction.Status{transaction.StatusPending}
		if !pr.MultiUse {
			reusable = append(reusable, transaction.StatusSuccessful)
		}

		existing, err := s.txs.FindPaymentForRequest(ctx, tx, userID, requestID, reusable...)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, transaction.ErrTransactionNotFound) {
			return err
		}

		if pr.Fulfilled {
			return ledger.ErrRequestAlreadyFulfilled
		}

		t := transaction.NewPayment(userID, pr.ID, pr.Amount, pr.Description)
		if err := s.txs.Create(ctx, tx, t); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) FulfillTransaction(ctx context.Context, transactionID, userID uuid.UUID) (*transaction.Transaction, error) {
	if err := s.freezer.AssertNotFrozen(ctx); err != nil {
		return nil, err
	}

	t, err := s.txs.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.Type != transaction.TypePayment {
		return nil, fmt.Errorf("%w: %s is not a payment", ledger.ErrInvalidTransactionState, t.ID)
	}
	if !t.IsPending() {
		return nil, fmt.Errorf("%w: %s is %s", ledger.ErrInvalidTransactionState, t.ID, t.Status)
	}
	if !t.OwnedBy(userID) {
		return nil, ledger.ErrUserMismatch
	}
	if err := s.precheckBalance(ctx, userID, t); err != nil {
		return nil, err
	}

	return s.ledger.Pay(ctx, userID, transactionID)
}

func (s *service) CreateExternalTransaction(ctx context.Context, in CreateExternalRequest) (*transaction.Transaction, error) {
	if err := s.freezer.AssertNotFrozen(ctx); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	t := transaction.NewExternalPayment(in.Amount, in.Description, transaction.ExternalDetails{
		RedirectURL: in.RedirectURL,
		WebhookURL:  in.WebhookURL,
		FallbackURL: in.FallbackURL,
	})
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		return s.txs.Create(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("external transaction created", "transaction_id", t.ID, "amount", t.Amount.StringFixed(2))
	return t, nil
}

// FulfillExternalTransaction pays an external transaction and notifies the
// external party. A transaction that is no longer pending is answered with
// its fallback URL.
func (s *service) FulfillExternalTransaction(ctx context.Context, transactionID, userID uuid.UUID) (*ExternalResult, error) {
	if err := s.freezer.AssertNotFrozen(ctx); err != nil {
		return nil, err
	}

	t, err := s.txs.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	ext, ok := t.External()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an external payment", ledger.ErrInvalidTransactionState, t.ID)
	}
	if !t.IsPending() {
		return &ExternalResult{RedirectURL: ext.FallbackURL, AlreadySettled: true}, nil
	}
	if t.UserID.Valid && !t.OwnedBy(userID) {
		return nil, ledger.ErrUserMismatch
	}
	if err := s.precheckBalance(ctx, userID, t); err != nil {
		return nil, err
	}

	paid, err := s.ledger.Pay(ctx, userID, transactionID)
	if errors.Is(err, ledger.ErrInvalidTransactionState) {
		return &ExternalResult{RedirectURL: ext.FallbackURL, AlreadySettled: true}, nil
	}
	if err != nil {
		return nil, err
	}

	return &ExternalResult{
		Transaction: paid,
		RedirectURL: s.notifier.NotifyExternalCompletion(ctx, paid),
	}, nil
}

func (s *service) RefundTransaction(ctx context.Context, transactionID uuid.UUID) (*transaction.Transaction, error) {
	if err := s.freezer.AssertNotFrozen(ctx); err != nil {
		return nil, err
	}

	owner, err := s.refundOwner(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return s.ledger.RefundRemainder(ctx, owner, transactionID)
}

func (s *service) PartialRefund(ctx context.Context, transactionID uuid.UUID, amount decimal.Decimal) (*transaction.Transaction, error) {
	if err := s.freezer.AssertNotFrozen(ctx); err != nil {
		return nil, err
	}

	owner, err := s.refundOwner(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return s.ledger.Refund(ctx, owner, amount, transactionID)
}

// PayFromRequest settles a request for the user holding the RFID tag and
// returns the payer's name for the point-of-sale display.
func (s *service) PayFromRequest(ctx context.Context, tag string, requestID uuid.UUID) (string, error) {
	u, err := s.users.FindByRFID(ctx, tag)
	if err != nil {
		return "", err
	}

	t, err := s.TransactionFromRequest(ctx, requestID, u.ID)
	if err != nil {
		return "", err
	}
	if !t.IsPending() {
		return "", ledger.ErrRequestAlreadyFulfilled
	}

	if _, err := s.FulfillTransaction(ctx, t.ID, u.ID); err != nil {
		return "", err
	}

	logger.Info("rfid payment completed", "request_id", requestID, "user_id", u.ID)
	return u.Name, nil
}

func (s *service) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*transaction.Transaction, error) {
	return s.txs.FindByID(ctx, transactionID)
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]transaction.Transaction, error) {
	return s.txs.ListByUser(ctx, userID, limit, offset)
}

// precheckBalance fails fast before any row is locked. The engine checks
// again under the lock.
func (s *service) precheckBalance(ctx context.Context, userID uuid.UUID, t *transaction.Transaction) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Balance.LessThan(t.Amount.Abs()) {
		return ledger.ErrInsufficientBalance
	}
	return nil
}

func (s *service) refundOwner(ctx context.Context, transactionID uuid.UUID) (uuid.UUID, error) {
	t, err := s.txs.FindByID(ctx, transactionID)
	if err != nil {
		return uuid.Nil, err
	}
	if !t.UserID.Valid || !t.IsRefundable() {
		return uuid.Nil, fmt.Errorf("%w: %s is %s", ledger.ErrInvalidTransactionState, t.ID, t.Status)
	}
	return t.UserID.UUID, nil
}
