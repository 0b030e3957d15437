package payment

import (
	"github.com/WISVCH/CHPay-sub001/internal/transaction"
	"github.com/shopspring/decimal"
)

type CreateExternalRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Description string          `json:"description" validate:"required,max=255"`
	RedirectURL string          `json:"redirect_url" validate:"required,url"`
	WebhookURL  string          `json:"webhook_url" validate:"required,url"`
	FallbackURL string          `json:"fallback_url" validate:"required,url"`
}

type PartialRefundRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

type RFIDPaymentRequest struct {
	Tag string `json:"tag" validate:"required,min=4,max=64"`
}

type RFIDPaymentResponse struct {
	Payer string `json:"payer"`
}

// ExternalResult tells the client where to send the payer after an external
// payment. AlreadySettled is set when the transaction was no longer pending.
type ExternalResult struct {
	Transaction    *transaction.Transaction `json:"transaction,omitempty"`
	RedirectURL    string                   `json:"redirect_url"`
	AlreadySettled bool                     `json:"already_settled"`
}
