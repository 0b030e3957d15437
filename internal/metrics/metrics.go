package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chpay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chpay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	BalanceMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chpay_balance_mutations_total",
			Help: "Balance engine operations by outcome",
		},
		[]string{"operation", "result"},
	)

	RefundAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chpay_refund_attempts_total",
			Help: "Refund attempts, including retries after lock contention",
		},
		[]string{"result"},
	)

	TopUpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chpay_topups_total",
			Help: "Top-up checkouts and settlements by outcome",
		},
		[]string{"outcome"},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chpay_webhook_deliveries_total",
			Help: "Outbound webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	PendingWebhooks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chpay_pending_webhooks",
			Help: "Webhooks waiting for a retry",
		},
	)

	ExpiredRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chpay_expired_requests_total",
			Help: "Payment requests closed by the expiration sweeper",
		},
	)

	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chpay_emails_sent_total",
			Help: "Total number of emails sent",
		},
		[]string{"type", "status"},
	)

	EmailQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chpay_email_queue_length",
			Help: "Current length of email queue",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordBalanceMutation counts an engine operation; a nil error is "ok".
func RecordBalanceMutation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	BalanceMutationsTotal.WithLabelValues(operation, result).Inc()
}

func RecordRefundAttempt(result string) {
	RefundAttemptsTotal.WithLabelValues(result).Inc()
}

func RecordTopUp(outcome string) {
	TopUpsTotal.WithLabelValues(outcome).Inc()
}

func RecordWebhookDelivery(outcome string) {
	WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}

func RecordExpiredRequests(n int64) {
	ExpiredRequestsTotal.Add(float64(n))
}

func RecordEmail(emailType, status string) {
	EmailsSentTotal.WithLabelValues(emailType, status).Inc()
}
