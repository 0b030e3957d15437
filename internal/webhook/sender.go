package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

var ErrDeliveryFailed = errors.New("webhook delivery failed")

type Deliverer interface {
	Post(ctx context.Context, url, payload string) error
}

// Sender posts form payloads and treats any 2xx answer as delivered.
type Sender struct {
	client   *http.Client
	executor failsafe.Executor[*http.Response]
}

// NewSender builds a sender whose calls are bounded by timeout and retried
// quickRetries times on network errors and 5xx/429 answers.
func NewSender(timeout time.Duration, quickRetries int) *Sender {
	policy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(shouldRetry).
		WithBackoff(100*time.Millisecond, time.Second).
		WithMaxRetries(quickRetries).
		ReturnLastFailure().
		Build()

	return &Sender{
		client:   &http.Client{Timeout: timeout},
		executor: failsafe.With[*http.Response](policy),
	}
}

func (s *Sender) Post(ctx context.Context, url, payload string) error {
	resp, err := s.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode)
	}
	return nil
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil || resp == nil {
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}
