package topup

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrProviderError = errors.New("payment provider error")
	ErrNotTopUp      = errors.New("transaction is not a top-up")
	ErrNoCheckout    = errors.New("top-up has no provider checkout")
	ErrNotPending    = errors.New("top-up is no longer pending")
)

// ProviderStatus is the provider-side state of a checkout, collapsed to the
// three outcomes the ledger acts on.
type ProviderStatus string

const (
	ProviderPending ProviderStatus = "pending"
	ProviderPaid    ProviderStatus = "paid"
	ProviderFailed  ProviderStatus = "failed"
)

type ProviderPayment struct {
	Amount       decimal.Decimal
	Currency     string
	Description  string
	BillingEmail string
	RedirectURL  string
	WebhookURL   string
	Metadata     map[string]string
}

type Checkout struct {
	ProviderRef string
	CheckoutURL string
}

type CreateTopUpRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,gt=0"`
}

type CheckoutResponse struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	CheckoutURL   string          `json:"checkout_url"`
}

// Fees describes what the provider charges on top of a top-up.
type Fees struct {
	Fixed   decimal.Decimal
	Percent decimal.Decimal
}

// For returns the fee charged for a top-up of amount, rounded up to cents.
func (f Fees) For(amount decimal.Decimal) decimal.Decimal {
	variable := amount.Mul(f.Percent).Div(decimal.NewFromInt(100))
	return f.Fixed.Add(variable).RoundCeil(2)
}
