package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"time"

	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/WISVCH/CHPay-sub001/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	queueKey  = "emails"
	failedKey = "emails:failed"
	maxTries  = 3
)

type EmailJob struct {
	To      string    `json:"to"`
	Name    string    `json:"name"`
	Kind    string    `json:"kind"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Tries   int       `json:"tries"`
	Created time.Time `json:"created"`
}

type Config struct {
	From     string
	FromName string
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
}

type Service struct {
	redis      *redis.Client
	cfg        Config
	retryDelay time.Duration
	send       func(job EmailJob) error
}

func New(rdb *redis.Client, cfg Config) *Service {
	s := &Service{
		redis:      rdb,
		cfg:        cfg,
		retryDelay: 5 * time.Second,
	}
	s.send = s.sendSMTP
	return s
}

func (s *Service) Send(ctx context.Context, kind, to, name, subject, body string) error {
	job := EmailJob{
		To:      to,
		Name:    name,
		Kind:    kind,
		Subject: subject,
		Body:    body,
		Created: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		logger.Errorf("Failed to marshal email job: %v", err)
		return err
	}

	if err := s.redis.LPush(ctx, queueKey, string(data)).Err(); err != nil {
		logger.Errorf("Failed to queue email to %s: %v", to, err)
		return err
	}

	logger.Info("email queued", "kind", kind, "to", to)
	return nil
}

func (s *Service) Start(ctx context.Context) {
	logger.Info("Email worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Email worker stopped")
			return
		default:
			s.processNext(ctx)
		}
	}
}

func (s *Service) processNext(ctx context.Context) {
	result, err := s.redis.BRPop(ctx, 2*time.Second, queueKey).Result()
	if err != nil {
		return
	}

	var job EmailJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		logger.Errorf("Bad email data: %v", err)
		return
	}

	job.Tries++
	if err := s.send(job); err != nil {
		logger.Error("failed to send email", "to", job.To, "attempt", job.Tries, "error", err)
		metrics.RecordEmail(job.Kind, "failed")

		if job.Tries < maxTries {
			s.requeue(ctx, job)
		} else {
			s.saveFailed(ctx, job, err)
		}
		return
	}

	metrics.RecordEmail(job.Kind, "success")
	logger.Info("email sent", "kind", job.Kind, "to", job.To)
}

func (s *Service) requeue(ctx context.Context, job EmailJob) {
	select {
	case <-ctx.Done():
	case <-time.After(s.retryDelay):
	}

	data, _ := json.Marshal(job)
	if err := s.redis.LPush(context.WithoutCancel(ctx), queueKey, string(data)).Err(); err != nil {
		logger.Error("failed to requeue email", "to", job.To, "error", err)
	}
}

func (s *Service) sendSMTP(job EmailJob) error {
	message := fmt.Sprintf("From: %s <%s>\r\n", s.cfg.FromName, s.cfg.From)
	message += fmt.Sprintf("To: %s\r\n", job.To)
	message += fmt.Sprintf("Subject: %s\r\n", job.Subject)
	message += "\r\n" + job.Body

	var auth smtp.Auth
	if s.cfg.SMTPUser != "" && s.cfg.SMTPPass != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)
	}

	addr := s.cfg.SMTPHost + ":" + s.cfg.SMTPPort
	return smtp.SendMail(addr, auth, s.cfg.From, []string{job.To}, []byte(message))
}

func (s *Service) saveFailed(ctx context.Context, job EmailJob, err error) {
	failed := map[string]interface{}{
		"job":   job,
		"error": err.Error(),
		"time":  time.Now(),
	}
	data, _ := json.Marshal(failed)
	s.redis.LPush(context.WithoutCancel(ctx), failedKey, string(data))
	logger.Errorf("Email moved to failed queue: %s", job.To)
}

func (s *Service) QueueLength(ctx context.Context) int64 {
	length, _ := s.redis.LLen(ctx, queueKey).Result()
	metrics.EmailQueueLength.Set(float64(length))
	return length
}

func (s *Service) SendTopUpSucceeded(ctx context.Context, to, name string, amount, balance decimal.Decimal) error {
	subject := "Top-up received"
	body := fmt.Sprintf(`Hi %s,

Your top-up of EUR %s has been received.
Your new balance is EUR %s.

- CH Pay`, name, amount.StringFixed(2), balance.StringFixed(2))

	return s.Send(ctx, "topup_succeeded", to, name, subject, body)
}

func (s *Service) SendTopUpFailed(ctx context.Context, to, name string, amount decimal.Decimal) error {
	subject := "Top-up failed"
	body := fmt.Sprintf(`Hi %s,

Your top-up of EUR %s could not be completed and no money was added
to your balance. You can try again at any time.

- CH Pay`, name, amount.StringFixed(2))

	return s.Send(ctx, "topup_failed", to, name, subject, body)
}
