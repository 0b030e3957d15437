package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/WISVCH/CHPay-sub001/internal/metrics"
)

const (
	batchSize    = 50
	defaultLease = 5 * time.Minute
	maxBackoff   = 24 * time.Hour
)

type WorkerConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Interval   time.Duration
	// Lease is how long a claimed webhook stays hidden from other runs.
	// It must cover one delivery including the sender's quick retries.
	Lease time.Duration
}

// Worker redelivers pending webhooks. The delay doubles after every failed
// retry; after MaxRetries failures the webhook is marked failed. Deliveries
// run outside any database transaction and each outcome is stored on its own.
type Worker struct {
	repo   Repository
	sender Deliverer
	cfg    WorkerConfig
	now    func() time.Time
}

func NewWorker(repo Repository, sender Deliverer, cfg WorkerConfig) *Worker {
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	return &Worker{
		repo:   repo,
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	logger.Info("starting webhook retry worker", "interval", w.cfg.Interval.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessDue(ctx); err != nil {
				logger.Error("webhook retry run failed", "error", err)
			}
		}
	}
}

// ProcessDue attempts every due webhook once and reports how many were
// delivered. A webhook whose outcome could not be stored becomes due again
// when its lease ends.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	cutoff := w.now()
	delivered := 0
	var errs []error

	// One row per claim keeps each lease as long as a single delivery.
	for i := 0; i < batchSize && ctx.Err() == nil; i++ {
		claimed, err := w.repo.ClaimDue(ctx, cutoff, w.now().Add(w.cfg.Lease), 1)
		if err != nil {
			errs = append(errs, fmt.Errorf("claim due webhook: %w", err))
			break
		}
		if len(claimed) == 0 {
			break
		}
		wh := claimed[0]
		ok, err := w.deliver(ctx, wh)
		if err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", wh.ID, err))
			continue
		}
		if ok {
			delivered++
		}
	}

	if n, err := w.repo.CountPending(ctx); err == nil {
		metrics.PendingWebhooks.Set(float64(n))
	}
	return delivered, errors.Join(errs...)
}

func (w *Worker) deliver(ctx context.Context, wh PendingWebhook) (bool, error) {
	sendErr := w.sender.Post(ctx, wh.URL, wh.Payload)
	if sendErr == nil {
		if err := w.repo.MarkSent(ctx, wh.ID); err != nil {
			return false, err
		}
		metrics.RecordWebhookDelivery("sent")
		return true, nil
	}

	retries := wh.RetryCount + 1
	if retries >= w.cfg.MaxRetries {
		if err := w.repo.MarkFailed(ctx, wh.ID, retries, sendErr.Error()); err != nil {
			return false, err
		}
		metrics.RecordWebhookDelivery("failed")
		logger.Warn("webhook given up", "transaction_id", wh.TransactionID, "retries", retries, "error", sendErr)
		return false, nil
	}

	if err := w.repo.MarkRetry(ctx, wh.ID, retries, w.now().Add(w.backoff(retries)), sendErr.Error()); err != nil {
		return false, err
	}
	metrics.RecordWebhookDelivery("retrying")
	return false, nil
}

// backoff is the wait after the given number of failed retries, capped at
// maxBackoff.
func (w *Worker) backoff(retries int) time.Duration {
	d := w.cfg.BaseDelay
	for i := 0; i < retries && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}
