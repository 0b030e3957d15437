package paymentrequest

import (
	"context"
	"time"

	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/WISVCH/CHPay-sub001/internal/metrics"
)

// Sweeper periodically closes payment requests older than maxAge. Balances
// are never touched.
type Sweeper struct {
	repo     Repository
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(repo Repository, maxAge, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:     repo,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("starting request expiration sweeper", "interval", s.interval.String(), "max_age", s.maxAge.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireOldRequests(ctx); err != nil {
				logger.Error("request expiration failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) ExpireOldRequests(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.repo.ExpireOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	metrics.RecordExpiredRequests(n)
	if n > 0 {
		logger.Info("expired payment requests", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}
