package topup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/WISVCH/CHPay-sub001/internal/db"
	"github.com/WISVCH/CHPay-sub001/internal/lock"
	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/WISVCH/CHPay-sub001/internal/metrics"
	"github.com/WISVCH/CHPay-sub001/internal/transaction"
	"github.com/WISVCH/CHPay-sub001/internal/user"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Provider is the external payment provider that settles top-ups.
type Provider interface {
	CreatePayment(ctx context.Context, p ProviderPayment) (*Checkout, error)
	PaymentStatus(ctx context.Context, providerRef string) (ProviderStatus, error)
}

type Ledger interface {
	MarkTopUpPaid(ctx context.Context, transactionID uuid.UUID) (*transaction.Transaction, bool, error)
	MarkTopUpFailed(ctx context.Context, transactionID uuid.UUID) (*transaction.Transaction, bool, error)
}

type Limits interface {
	AssertTopUpAllowed(ctx context.Context, current, amount decimal.Decimal) error
}

type Freezer interface {
	AssertNotFrozen(ctx context.Context) error
}

type Notifier interface {
	SendTopUpSucceeded(ctx context.Context, to, name string, amount, balance decimal.Decimal) error
	SendTopUpFailed(ctx context.Context, to, name string, amount decimal.Decimal) error
}

type Config struct {
	PublicURL string
	Currency  string
	Fees      Fees
	Timeout   time.Duration
}

type Service interface {
	StartTopUp(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*CheckoutResponse, error)
	CreateTopUpCheckout(ctx context.Context, t *transaction.Transaction) (*CheckoutResponse, error)
	RetryCheckout(ctx context.Context, userID, transactionID uuid.UUID) (*CheckoutResponse, error)
	ValidateTopUp(ctx context.Context, transactionID uuid.UUID) (*transaction.Transaction, error)
	HandleProviderWebhook(ctx context.Context, providerRef string) error
}

type service struct {
	tx       db.Transactor
	users    user.Repository
	txs      transaction.Repository
	ledger   Ledger
	limits   Limits
	freezer  Freezer
	provider Provider
	locker   lock.Locker
	notifier Notifier
	cfg      Config
}

func NewService(
	tx db.Transactor,
	users user.Repository,
	txs transaction.Repository,
	ledger Ledger,
	limits Limits,
	freezer Freezer,
	provider Provider,
	locker lock.Locker,
	notifier Notifier,
	cfg Config,
) Service {
	return &service{
		tx:       tx,
		users:    users,
		txs:      txs,
		ledger:   ledger,
		limits:   limits,
		freezer:  freezer,
		provider: provider,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
	}
}

// StartTopUp books a pending top-up for the user and opens a provider
// checkout for it.
func (s *service) StartTopUp(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*CheckoutResponse, error) {
	amount = amount.Round(2)

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.limits.AssertTopUpAllowed(ctx, u.Balance, amount); err != nil {
		return nil, err
	}

	t := transaction.NewTopUp(u.ID, amount, "CHPay top-up")
	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		return s.txs.Create(ctx, tx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("create top-up: %w", err)
	}

	return s.checkout(ctx, t, u.Email)
}

func (s *service) CreateTopUpCheckout(ctx context.Context, t *transaction.Transaction) (*CheckoutResponse, error) {
	if err := s.freezer.AssertNotFrozen(ctx); err != nil {
		return nil, err
	}
	if t.Type != transaction.TypeTopUp {
		return nil, ErrNotTopUp
	}
	if t.ProviderRef() != "" {
		return nil, transaction.ErrCheckoutAlreadyOpen
	}
	u, err := s.users.FindByID(ctx, t.UserID.UUID)
	if err != nil {
		return nil, err
	}
	return s.checkout(ctx, t, u.Email)
}

// RetryCheckout opens a checkout for a pending top-up of the user whose
// earlier checkout creation failed. A top-up with an open checkout is settled
// through ValidateTopUp instead.
func (s *service) RetryCheckout(ctx context.Context, userID, transactionID uuid.UUID) (*CheckoutResponse, error) {
	if err := s.freezer.AssertNotFrozen(ctx); err != nil {
		return nil, err
	}
	t, err := s.txs.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.Type != transaction.TypeTopUp || !t.OwnedBy(userID) {
		return nil, transaction.ErrTransactionNotFound
	}
	if !t.IsPending() {
		return nil, fmt.Errorf("%w: top-up %s is %s", ErrNotPending, t.ID, t.Status)
	}
	return s.CreateTopUpCheckout(ctx, t)
}

// checkout asks the provider for a payment of amount plus fee. A failed
// call leaves the top-up pending so the user can retry it.
func (s *service) checkout(ctx context.Context, t *transaction.Transaction, email string) (*CheckoutResponse, error) {
	fee := s.cfg.Fees.For(t.Amount)
	base := strings.TrimRight(s.cfg.PublicURL, "/")

	pctx, cancel := s.providerContext(ctx)
	defer cancel()

	co, err := s.provider.CreatePayment(pctx, ProviderPayment{
		Amount:       t.Amount.Add(fee),
		Currency:     s.cfg.Currency,
		Description:  t.Description,
		BillingEmail: email,
		RedirectURL:  fmt.Sprintf("%s/topups/%s/complete", base, t.ID),
		WebhookURL:   base + "/api/v1/webhooks/provider",
		Metadata:     map[string]string{"transaction_id": t.ID.String()},
	})
	if err != nil {
		metrics.RecordTopUp("provider_error")
		logger.WithError(err).WithField("transaction_id", t.ID).Error("create checkout failed")
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}

	if err := s.txs.SetProviderRef(ctx, t.ID, co.ProviderRef); err != nil {
		return nil, fmt.Errorf("store provider reference: %w", err)
	}
	metrics.RecordTopUp("checkout_created")
	logger.Info("top-up checkout created", "transaction_id", t.ID, "provider_ref", co.ProviderRef)

	return &CheckoutResponse{
		TransactionID: t.ID,
		Amount:        t.Amount,
		Fee:           fee,
		CheckoutURL:   co.CheckoutURL,
	}, nil
}

// ValidateTopUp polls the provider and settles the top-up accordingly.
// Only one validation per top-up runs at a time; settled top-ups are
// returned without contacting the provider.
func (s *service) ValidateTopUp(ctx context.Context, transactionID uuid.UUID) (*transaction.Transaction, error) {
	if err := s.freezer.AssertNotFrozen(ctx); err != nil {
		return nil, err
	}
	release, err := s.locker.Acquire(ctx, "topup:"+transactionID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := s.txs.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.Type != transaction.TypeTopUp {
		return nil, ErrNotTopUp
	}
	if !t.IsPending() {
		return t, nil
	}
	if t.ProviderRef() == "" {
		return nil, ErrNoCheckout
	}

	pctx, cancel := s.providerContext(ctx)
	status, err := s.provider.PaymentStatus(pctx, t.ProviderRef())
	cancel()
	if err != nil {
		metrics.RecordTopUp("provider_error")
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}

	switch status {
	case ProviderPaid:
		settled, changed, err := s.ledger.MarkTopUpPaid(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if changed {
			metrics.RecordTopUp("paid")
			s.notify(ctx, settled, true)
		}
		return settled, nil
	case ProviderFailed:
		settled, changed, err := s.ledger.MarkTopUpFailed(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if changed {
			metrics.RecordTopUp("failed")
			s.notify(ctx, settled, false)
		}
		return settled, nil
	default:
		return t, nil
	}
}

func (s *service) HandleProviderWebhook(ctx context.Context, providerRef string) error {
	t, err := s.txs.FindByProviderRef(ctx, providerRef)
	if err != nil {
		return err
	}
	_, err = s.ValidateTopUp(ctx, t.ID)
	return err
}

// notify queues the outcome email. Failures are logged only; the ledger
// change is already committed.
func (s *service) notify(ctx context.Context, t *transaction.Transaction, paid bool) {
	u, err := s.users.FindByID(ctx, t.UserID.UUID)
	if err == nil {
		if paid {
			err = s.notifier.SendTopUpSucceeded(ctx, u.Email, u.Name, t.Amount, u.Balance)
		} else {
			err = s.notifier.SendTopUpFailed(ctx, u.Email, u.Name, t.Amount)
		}
	}
	if err != nil {
		logger.WithError(err).WithField("transaction_id", t.ID).Warn("top-up notification not queued")
	}
}

func (s *service) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}
