package webhook

import (
	"context"
	"net/url"
	"time"

	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/WISVCH/CHPay-sub001/internal/metrics"
	"github.com/WISVCH/CHPay-sub001/internal/transaction"
)

// Notifier tells the external party that its payment completed. Failed
// deliveries are queued for the Worker and never undo the payment.
type Notifier struct {
	sender    Deliverer
	repo      Repository
	baseDelay time.Duration
	now       func() time.Time
}

func NewNotifier(sender Deliverer, repo Repository, baseDelay time.Duration) *Notifier {
	return &Notifier{
		sender:    sender,
		repo:      repo,
		baseDelay: baseDelay,
		now:       time.Now,
	}
}

// NotifyExternalCompletion posts id=<transaction id> to the webhook URL and
// returns where the payer should be sent next.
func (n *Notifier) NotifyExternalCompletion(ctx context.Context, t *transaction.Transaction) string {
	d, ok := t.External()
	if !ok {
		return ""
	}
	if d.WebhookURL == "" {
		return d.RedirectURL
	}

	err := n.sender.Post(ctx, d.WebhookURL, Payload(t.ID))
	if err == nil {
		metrics.RecordWebhookDelivery("sent")
		return d.RedirectURL
	}

	pending := NewPending(t.ID, d.WebhookURL, n.now().Add(n.baseDelay), err.Error())
	if qerr := n.repo.Create(context.WithoutCancel(ctx), pending); qerr != nil {
		logger.Error("webhook lost: delivery failed and could not be queued",
			"transaction_id", t.ID, "delivery_error", err, "error", qerr)
		metrics.RecordWebhookDelivery("lost")
		return d.FallbackURL
	}

	logger.Warn("webhook delivery failed, queued for retry", "transaction_id", t.ID, "error", err)
	metrics.RecordWebhookDelivery("retrying")
	return RetryingURL(d.FallbackURL)
}

// RetryingURL marks the fallback URL so the external party knows its
// webhook is still on the way.
func RetryingURL(fallback string) string {
	u, err := url.Parse(fallback)
	if err != nil {
		return fallback
	}
	q := u.Query()
	q.Set("webhook", "retrying")
	u.RawQuery = q.Encode()
	return u.String()
}
