package paymentrequest

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRequest is a priced item that users pay through a Payment
// transaction. A single-use request accepts one successful payment.
type PaymentRequest struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Description string          `db:"description" json:"description"`
	MultiUse    bool            `db:"multi_use" json:"multi_use"`
	Fulfilled   bool            `db:"fulfilled" json:"fulfilled"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

type CreateRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Description string          `json:"description" validate:"required,max=255"`
	MultiUse    bool            `json:"multi_use"`
}

func New(amount decimal.Decimal, description string, multiUse bool) *PaymentRequest {
	return &PaymentRequest{
		ID:          uuid.New(),
		Amount:      amount.Round(2),
		Description: description,
		MultiUse:    multiUse,
		CreatedAt:   time.Now(),
	}
}
