package transaction

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeTopUp           Type = "top_up"
	TypePayment         Type = "payment"
	TypeRefund          Type = "refund"
	TypeExternalPayment Type = "external_payment"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusSuccessful        Status = "successful"
	StatusFailed            Status = "failed"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

var ErrInvalidTransaction = errors.New("invalid transaction")

// Details carries the fields specific to one transaction type.
type Details interface {
	Type() Type
}

type TopUpDetails struct {
	ProviderRef string `json:"provider_ref,omitempty"`
}

type PaymentDetails struct {
	RequestID uuid.UUID `json:"request_id"`
}

type RefundDetails struct {
	RefundOf uuid.UUID `json:"refund_of"`
}

type ExternalDetails struct {
	RedirectURL string `json:"redirect_url"`
	WebhookURL  string `json:"webhook_url"`
	FallbackURL string `json:"fallback_url"`
}

func (TopUpDetails) Type() Type    { return TypeTopUp }
func (PaymentDetails) Type() Type  { return TypePayment }
func (RefundDetails) Type() Type   { return TypeRefund }
func (ExternalDetails) Type() Type { return TypeExternalPayment }

// Transaction is a signed balance movement. Debits (payments) are negative,
// credits (top-ups and refunds) are positive.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.NullUUID   `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Status      Status          `json:"status"`
	Type        Type            `json:"type"`
	Details     Details         `json:"details"`
	CreatedAt   time.Time       `json:"created_at"`
}

func newTransaction(userID uuid.NullUUID, amount decimal.Decimal, description string, details Details) *Transaction {
	return &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount.Round(2),
		Description: description,
		Status:      StatusPending,
		Type:        details.Type(),
		Details:     details,
		CreatedAt:   time.Now(),
	}
}

func NewTopUp(userID uuid.UUID, amount decimal.Decimal, description string) *Transaction {
	return newTransaction(owner(userID), amount, description, TopUpDetails{})
}

// NewPayment creates a pending debit of amount for a payment request.
func NewPayment(userID, requestID uuid.UUID, amount decimal.Decimal, description string) *Transaction {
	return newTransaction(owner(userID), amount.Neg(), description, PaymentDetails{RequestID: requestID})
}

// NewRefund creates a successful credit linked to the refunded transaction.
func NewRefund(userID, original uuid.UUID, amount decimal.Decimal, description string) *Transaction {
	t := newTransaction(owner(userID), amount, description, RefundDetails{RefundOf: original})
	t.Status = StatusSuccessful
	return t
}

// NewExternalPayment creates an anonymous pending debit. The payer is linked
// when the payment is fulfilled.
func NewExternalPayment(amount decimal.Decimal, description string, d ExternalDetails) *Transaction {
	return newTransaction(uuid.NullUUID{}, amount.Neg(), description, d)
}

func owner(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: true}
}

// Validate checks the sign and detail invariants of the transaction type.
func (t *Transaction) Validate() error {
	if t.Details == nil || t.Details.Type() != t.Type {
		return fmt.Errorf("%w: details do not match type %q", ErrInvalidTransaction, t.Type)
	}

	switch t.Type {
	case TypeTopUp, TypeRefund:
		if !t.Amount.IsPositive() {
			return fmt.Errorf("%w: %s amount must be positive", ErrInvalidTransaction, t.Type)
		}
	case TypePayment, TypeExternalPayment:
		if !t.Amount.IsNegative() {
			return fmt.Errorf("%w: %s amount must be negative", ErrInvalidTransaction, t.Type)
		}
	}

	if !t.UserID.Valid && t.Type != TypeExternalPayment {
		return fmt.Errorf("%w: %s requires a user", ErrInvalidTransaction, t.Type)
	}
	return nil
}

func (t *Transaction) IsPending() bool {
	return t.Status == StatusPending
}

// IsRefundable reports whether refunds may still be booked against t.
func (t *Transaction) IsRefundable() bool {
	switch t.Type {
	case TypePayment, TypeExternalPayment:
		return t.Status == StatusSuccessful || t.Status == StatusPartiallyRefunded
	}
	return false
}

// OwnedBy reports whether t belongs to userID.
func (t *Transaction) OwnedBy(userID uuid.UUID) bool {
	return t.UserID.Valid && t.UserID.UUID == userID
}

func (t *Transaction) RequestID() (uuid.UUID, bool) {
	d, ok := t.Details.(PaymentDetails)
	return d.RequestID, ok
}

func (t *Transaction) External() (ExternalDetails, bool) {
	d, ok := t.Details.(ExternalDetails)
	return d, ok
}

func (t *Transaction) ProviderRef() string {
	d, _ := t.Details.(TopUpDetails)
	return d.ProviderRef
}

// transactionRow is the flat storage layout of a Transaction.
type transactionRow struct {
	ID          uuid.UUID       `db:"id"`
	UserID      uuid.NullUUID   `db:"user_id"`
	Amount      decimal.Decimal `db:"amount"`
	Description string          `db:"description"`
	Status      Status          `db:"status"`
	Type        Type            `db:"type"`
	ProviderRef sql.NullString  `db:"provider_ref"`
	RequestID   uuid.NullUUID   `db:"request_id"`
	RefundOf    uuid.NullUUID   `db:"refund_of"`
	RedirectURL sql.NullString  `db:"redirect_url"`
	WebhookURL  sql.NullString  `db:"webhook_url"`
	FallbackURL sql.NullString  `db:"fallback_url"`
	CreatedAt   time.Time       `db:"created_at"`
}

func toRow(t *Transaction) transactionRow {
	r := transactionRow{
		ID:          t.ID,
		UserID:      t.UserID,
		Amount:      t.Amount,
		Description: t.Description,
		Status:      t.Status,
		Type:        t.Type,
		CreatedAt:   t.CreatedAt,
	}

	switch d := t.Details.(type) {
	case TopUpDetails:
		r.ProviderRef = nullString(d.ProviderRef)
	case PaymentDetails:
		r.RequestID = uuid.NullUUID{UUID: d.RequestID, Valid: true}
	case RefundDetails:
		r.RefundOf = uuid.NullUUID{UUID: d.RefundOf, Valid: true}
	case ExternalDetails:
		r.RedirectURL = nullString(d.RedirectURL)
		r.WebhookURL = nullString(d.WebhookURL)
		r.FallbackURL = nullString(d.FallbackURL)
	}
	return r
}

func (r transactionRow) toTransaction() (*Transaction, error) {
	t := &Transaction{
		ID:          r.ID,
		UserID:      r.UserID,
		Amount:      r.Amount,
		Description: r.Description,
		Status:      r.Status,
		Type:        r.Type,
		CreatedAt:   r.CreatedAt,
	}

	switch r.Type {
	case TypeTopUp:
		t.Details = TopUpDetails{ProviderRef: r.ProviderRef.String}
	case TypePayment:
		t.Details = PaymentDetails{RequestID: r.RequestID.UUID}
	case TypeRefund:
		t.Details = RefundDetails{RefundOf: r.RefundOf.UUID}
	case TypeExternalPayment:
		t.Details = ExternalDetails{
			RedirectURL: r.RedirectURL.String,
			WebhookURL:  r.WebhookURL.String,
			FallbackURL: r.FallbackURL.String,
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, r.Type)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
