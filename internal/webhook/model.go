package webhook

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// PendingWebhook is a completion callback that could not be delivered
// synchronously and waits for the retry worker.
type PendingWebhook struct {
	ID            uuid.UUID `db:"id" json:"id"`
	TransactionID uuid.UUID `db:"transaction_id" json:"transaction_id"`
	URL           string    `db:"url" json:"url"`
	Payload       string    `db:"payload" json:"payload"`
	RetryCount    int       `db:"retry_count" json:"retry_count"`
	NextAttempt   time.Time `db:"next_attempt" json:"next_attempt"`
	Status        Status    `db:"status" json:"status"`
	LastError     string    `db:"last_error" json:"last_error"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

func NewPending(transactionID uuid.UUID, webhookURL string, next time.Time, lastErr string) *PendingWebhook {
	now := time.Now()
	return &PendingWebhook{
		ID:            uuid.New(),
		TransactionID: transactionID,
		URL:           webhookURL,
		Payload:       Payload(transactionID),
		NextAttempt:   next,
		Status:        StatusPending,
		LastError:     lastErr,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Payload is the form body posted to the external party.
func Payload(transactionID uuid.UUID) string {
	return url.Values{"id": {transactionID.String()}}.Encode()
}
