package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/WISVCH/CHPay-sub001/internal/config"
	"github.com/WISVCH/CHPay-sub001/internal/db"
	"github.com/WISVCH/CHPay-sub001/internal/email"
	"github.com/WISVCH/CHPay-sub001/internal/ledger"
	"github.com/WISVCH/CHPay-sub001/internal/lock"
	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/WISVCH/CHPay-sub001/internal/payment"
	"github.com/WISVCH/CHPay-sub001/internal/paymentrequest"
	"github.com/WISVCH/CHPay-sub001/internal/server"
	"github.com/WISVCH/CHPay-sub001/internal/settings"
	"github.com/WISVCH/CHPay-sub001/internal/topup"
	"github.com/WISVCH/CHPay-sub001/internal/topup/mollie"
	"github.com/WISVCH/CHPay-sub001/internal/transaction"
	"github.com/WISVCH/CHPay-sub001/internal/user"
	"github.com/WISVCH/CHPay-sub001/internal/webhook"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger.Init()
	logger.Info("starting CHPay")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	database, err := db.Connect(cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, "migrations"); err != nil {
		logger.Fatalf("migrations: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	provider, err := mollie.NewClient(cfg.MollieAPIKey)
	if err != nil {
		logger.Fatalf("payment provider: %v", err)
	}

	transactor := db.NewTransactor(database, cfg.DBLockTimeout)
	users := user.NewRepository(database)
	txs := transaction.NewRepository(database)
	requests := paymentrequest.NewRepository(database)
	settingsStore := settings.NewStore(database)
	webhooks := webhook.NewRepository(database)

	policy := settings.NewPolicy(settingsStore)
	engine := ledger.NewEngine(transactor, users, txs, requests, policy, ledger.RetryConfig{
		MaxAttempts: cfg.RefundMaxAttempts,
		BaseDelay:   cfg.RefundBaseDelay,
		MaxDelay:    cfg.RefundMaxDelay,
	})

	emailService := email.New(rdb, email.Config{
		From:     cfg.EmailFrom,
		FromName: cfg.EmailFromName,
		SMTPHost: cfg.SMTPHost,
		SMTPPort: cfg.SMTPPort,
		SMTPUser: cfg.SMTPUser,
		SMTPPass: cfg.SMTPPass,
	})

	sender := webhook.NewSender(cfg.WebhookTimeout, 1)
	notifier := webhook.NewNotifier(sender, webhooks, cfg.WebhookBaseDelay)

	userService := user.NewService(users)
	paymentService := payment.NewService(transactor, users, txs, requests, engine, policy, notifier)
	topupService := topup.NewService(
		transactor, users, txs, engine, policy, policy, provider,
		lock.NewRedisLocker(rdb, 2*cfg.ProviderTimeout, cfg.ProviderTimeout),
		emailService,
		topup.Config{
			PublicURL: cfg.PublicURL,
			Currency:  cfg.Currency,
			Fees:      topup.Fees{Fixed: cfg.TopUpFeeFixed, Percent: cfg.TopUpFeePercent},
			Timeout:   cfg.ProviderTimeout,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go emailService.Start(ctx)
	go paymentrequest.NewSweeper(requests, cfg.RequestMaxAge, cfg.SweepInterval).Start(ctx)
	go webhook.NewWorker(webhooks, sender, webhook.WorkerConfig{
		MaxRetries: cfg.WebhookMaxRetries,
		BaseDelay:  cfg.WebhookBaseDelay,
		Interval:   cfg.WebhookRetryPeriod,
		Lease:      4 * cfg.WebhookTimeout,
	}).Start(ctx)

	srv := server.New(cfg, userService, server.Handlers{
		Users:    user.NewHandler(userService),
		Payments: payment.NewHandler(paymentService),
		TopUps:   topup.NewHandler(topupService),
		Settings: settings.NewHandler(settingsStore),
		Ready:    database.PingContext,
	})

	errc := make(chan error, 1)
	go func() {
		logger.Info("http listening", "port", cfg.Port)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errc:
		logger.Errorf("http server: %v", err)
	}
	// Background jobs observe ctx; cancel it before draining requests.
	stop()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Errorf("drain: %v", err)
	}
	logger.Info("CHPay stopped")
}
