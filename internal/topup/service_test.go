package topup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/WISVCH/CHPay-sub001/internal/ledger"
	"github.com/WISVCH/CHPay-sub001/internal/ledger/ledgertest"
	"github.com/WISVCH/CHPay-sub001/internal/lock"
	"github.com/WISVCH/CHPay-sub001/internal/settings"
	"github.com/WISVCH/CHPay-sub001/internal/transaction"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu        sync.Mutex
	status    ProviderStatus
	createErr error
	statusErr error
	created   []ProviderPayment
	polls     int
}

func (p *fakeProvider) CreatePayment(ctx context.Context, in ProviderPayment) (*Checkout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.created = append(p.created, in)
	ref := fmt.Sprintf("tr_%d", len(p.created))
	return &Checkout{ProviderRef: ref, CheckoutURL: "https://pay.example/" + ref}, nil
}

func (p *fakeProvider) PaymentStatus(ctx context.Context, ref string) (ProviderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	return p.status, p.statusErr
}

type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	busy  bool
}

func (l *memLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.busy {
		l.mu.Unlock()
		return nil, lock.ErrNotAcquired
	}
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	succeeded []string
	failed    []string
	err       error
}

func (n *recordingNotifier) SendTopUpSucceeded(ctx context.Context, to, name string, amount, balance decimal.Decimal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.succeeded = append(n.succeeded, to+" "+amount.StringFixed(2)+" "+balance.StringFixed(2))
	return n.err
}

func (n *recordingNotifier) SendTopUpFailed(ctx context.Context, to, name string, amount decimal.Decimal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, to+" "+amount.StringFixed(2))
	return n.err
}

type fixture struct {
	svc      Service
	store    *ledgertest.Store
	provider *fakeProvider
	locker   *memLocker
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledgertest.NewStore()
	policy := settings.NewPolicy(store.Settings())
	engine := ledger.NewEngine(
		store.Transactor(), store.Users(), store.Txs(), store.Requests(), policy,
		ledger.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	)
	f := &fixture{
		store:    store,
		provider: &fakeProvider{status: ProviderPending},
		locker:   &memLocker{},
		notifier: &recordingNotifier{},
	}
	f.svc = NewService(store.Transactor(), store.Users(), store.Txs(), engine, policy, policy, f.provider, f.locker, f.notifier, Config{
		PublicURL: "https://chpay.example/",
		Currency:  "EUR",
		Fees:      Fees{Fixed: dec("0.32"), Percent: dec("0")},
		Timeout:   time.Second,
	})
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) pendingTopUp(t *testing.T, userID uuid.UUID, amount string) *CheckoutResponse {
	t.Helper()
	resp, err := f.svc.StartTopUp(context.Background(), userID, dec(amount))
	require.NoError(t, err)
	return resp
}

func TestFees(t *testing.T) {
	assert.True(t, Fees{Fixed: dec("0.32")}.For(dec("10")).Equal(dec("0.32")))
	assert.True(t, Fees{Fixed: dec("0.25"), Percent: dec("1.5")}.For(dec("10.01")).Equal(dec("0.41")))
	assert.True(t, Fees{}.For(dec("10")).IsZero())
}

func TestStartTopUp_CreatesPendingCheckout(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "10.00")

	resp := f.pendingTopUp(t, u.ID, "20")

	assert.True(t, resp.Fee.Equal(dec("0.32")))
	assert.Contains(t, resp.CheckoutURL, "https://pay.example/tr_")

	stored := f.store.Transaction(resp.TransactionID)
	assert.Equal(t, transaction.StatusPending, stored.Status)
	assert.Equal(t, transaction.TypeTopUp, stored.Type)
	assert.NotEmpty(t, stored.ProviderRef())
	assert.True(t, f.store.User(u.ID).Balance.Equal(dec("10.00")))

	require.Len(t, f.provider.created, 1)
	sent := f.provider.created[0]
	assert.True(t, sent.Amount.Equal(dec("20.32")))
	assert.Equal(t, "EUR", sent.Currency)
	assert.Equal(t, "alice@example.com", sent.BillingEmail)
	assert.Equal(t, "https://chpay.example/api/v1/webhooks/provider", sent.WebhookURL)
	assert.Equal(t, "https://chpay.example/topups/"+resp.TransactionID.String()+"/complete", sent.RedirectURL)
	assert.Equal(t, resp.TransactionID.String(), sent.Metadata["transaction_id"])
}

func TestStartTopUp_PreChecks(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "490.00")

	_, err := f.svc.StartTopUp(context.Background(), u.ID, dec("1.00"))
	assert.ErrorIs(t, err, settings.ErrBelowMinimumTopUp)

	_, err = f.svc.StartTopUp(context.Background(), u.ID, dec("20.00"))
	assert.ErrorIs(t, err, settings.ErrBalanceCeilingExceeded)

	f.store.SetSettings(func(s *settings.Settings) { s.Frozen = true })
	_, err = f.svc.StartTopUp(context.Background(), u.ID, dec("5.00"))
	assert.ErrorIs(t, err, settings.ErrSystemFrozen)

	assert.Empty(t, f.store.Transactions(transaction.TypeTopUp))
	assert.Empty(t, f.provider.created)
}

func TestStartTopUp_ProviderErrorKeepsPending(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "0.00")
	f.provider.createErr = errors.New("503 from provider")

	_, err := f.svc.StartTopUp(context.Background(), u.ID, dec("10"))
	assert.ErrorIs(t, err, ErrProviderError)

	topUps := f.store.Transactions(transaction.TypeTopUp)
	require.Len(t, topUps, 1)
	assert.Equal(t, transaction.StatusPending, topUps[0].Status)
	assert.Empty(t, topUps[0].ProviderRef())

	_, err = f.svc.ValidateTopUp(context.Background(), topUps[0].ID)
	assert.ErrorIs(t, err, ErrNoCheckout)

	f.provider.createErr = nil
	resp, err := f.svc.RetryCheckout(context.Background(), u.ID, topUps[0].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, f.store.Transaction(resp.TransactionID).ProviderRef())
}

func TestRetryCheckout_Rejections(t *testing.T) {
	f := newFixture(t)
	alice := f.store.AddUser("alice", "0.00")
	bob := f.store.AddUser("bob", "0.00")
	resp := f.pendingTopUp(t, alice.ID, "10")

	_, err := f.svc.RetryCheckout(context.Background(), bob.ID, resp.TransactionID)
	assert.ErrorIs(t, err, transaction.ErrTransactionNotFound)

	f.provider.status = ProviderPaid
	_, err = f.svc.ValidateTopUp(context.Background(), resp.TransactionID)
	require.NoError(t, err)

	_, err = f.svc.RetryCheckout(context.Background(), alice.ID, resp.TransactionID)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestValidateTopUp_PendingIsNoop(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "5.00")
	resp := f.pendingTopUp(t, u.ID, "10")

	got, err := f.svc.ValidateTopUp(context.Background(), resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, got.Status)
	assert.True(t, f.store.User(u.ID).Balance.Equal(dec("5.00")))
	assert.Empty(t, f.notifier.succeeded)
}

func TestValidateTopUp_PaidCreditsOnce(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "5.00")
	resp := f.pendingTopUp(t, u.ID, "10")
	f.provider.status = ProviderPaid

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.svc.ValidateTopUp(context.Background(), resp.TransactionID)
			assert.NoError(t, err)
			assert.Equal(t, transaction.StatusSuccessful, got.Status)
		}()
	}
	wg.Wait()

	assert.True(t, f.store.User(u.ID).Balance.Equal(dec("15.00")))
	assert.Equal(t, 1, f.provider.polls)
	assert.Equal(t, []string{"alice@example.com 10.00 15.00"}, f.notifier.succeeded)
}

func TestValidateTopUp_FailedMarksFailed(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "5.00")
	resp := f.pendingTopUp(t, u.ID, "10")
	f.provider.status = ProviderFailed

	got, err := f.svc.ValidateTopUp(context.Background(), resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusFailed, got.Status)
	assert.True(t, f.store.User(u.ID).Balance.Equal(dec("5.00")))
	assert.Equal(t, []string{"alice@example.com 10.00"}, f.notifier.failed)

	f.provider.status = ProviderPaid
	got, err = f.svc.ValidateTopUp(context.Background(), resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusFailed, got.Status)
	assert.True(t, f.store.User(u.ID).Balance.Equal(dec("5.00")))
}

func TestValidateTopUp_NotificationFailureKeepsCredit(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "0.00")
	resp := f.pendingTopUp(t, u.ID, "10")
	f.provider.status = ProviderPaid
	f.notifier.err = errors.New("redis down")

	got, err := f.svc.ValidateTopUp(context.Background(), resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusSuccessful, got.Status)
	assert.True(t, f.store.User(u.ID).Balance.Equal(dec("10.00")))
}

func TestValidateTopUp_CeilingKeepsPending(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "480.00")
	resp := f.pendingTopUp(t, u.ID, "20")
	f.store.SetSettings(func(s *settings.Settings) { s.MaxBalance = dec("490.00") })
	f.provider.status = ProviderPaid

	_, err := f.svc.ValidateTopUp(context.Background(), resp.TransactionID)
	assert.ErrorIs(t, err, settings.ErrBalanceCeilingExceeded)
	assert.Equal(t, transaction.StatusPending, f.store.Transaction(resp.TransactionID).Status)
	assert.True(t, f.store.User(u.ID).Balance.Equal(dec("480.00")))
}

func TestValidateTopUp_Errors(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "5.00")
	resp := f.pendingTopUp(t, u.ID, "10")

	_, err := f.svc.ValidateTopUp(context.Background(), uuid.New())
	assert.ErrorIs(t, err, transaction.ErrTransactionNotFound)

	f.provider.statusErr = errors.New("timeout")
	_, err = f.svc.ValidateTopUp(context.Background(), resp.TransactionID)
	assert.ErrorIs(t, err, ErrProviderError)

	f.locker.busy = true
	_, err = f.svc.ValidateTopUp(context.Background(), resp.TransactionID)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
}

func TestHandleProviderWebhook(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "0.00")
	resp := f.pendingTopUp(t, u.ID, "10")
	f.provider.status = ProviderPaid
	ref := f.store.Transaction(resp.TransactionID).ProviderRef()

	require.NoError(t, f.svc.HandleProviderWebhook(context.Background(), ref))
	assert.True(t, f.store.User(u.ID).Balance.Equal(dec("10.00")))

	err := f.svc.HandleProviderWebhook(context.Background(), "tr_unknown")
	assert.ErrorIs(t, err, transaction.ErrTransactionNotFound)
}

func TestRetryCheckout_OpenCheckoutIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.store.AddUser("alice", "0.00")
	resp := f.pendingTopUp(t, u.ID, "10")
	first := f.store.Transaction(resp.TransactionID).ProviderRef()
	require.Equal(t, "tr_1", first)

	_, err := f.svc.RetryCheckout(ctx, u.ID, resp.TransactionID)
	assert.ErrorIs(t, err, transaction.ErrCheckoutAlreadyOpen)
	assert.Len(t, f.provider.created, 1)
	assert.Equal(t, first, f.store.Transaction(resp.TransactionID).ProviderRef())

	f.provider.status = ProviderPaid
	require.NoError(t, f.svc.HandleProviderWebhook(ctx, first))
	assert.Equal(t, transaction.StatusSuccessful, f.store.Transaction(resp.TransactionID).Status)
	assert.True(t, f.store.User(u.ID).Balance.Equal(dec("10.00")))
}

func TestProviderRefIsWrittenOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.store.AddUser("alice", "0.00")
	resp := f.pendingTopUp(t, u.ID, "10")

	err := f.store.Txs().SetProviderRef(ctx, resp.TransactionID, "tr_other")
	assert.ErrorIs(t, err, transaction.ErrCheckoutAlreadyOpen)
	assert.Equal(t, "tr_1", f.store.Transaction(resp.TransactionID).ProviderRef())
}

func TestFrozenSystemBlocksCheckoutAndCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.store.AddUser("alice", "5.00")

	f.provider.createErr = errors.New("503 from provider")
	_, err := f.svc.StartTopUp(ctx, u.ID, dec("10"))
	require.ErrorIs(t, err, ErrProviderError)
	failed := f.store.Transactions(transaction.TypeTopUp)[0]
	f.provider.createErr = nil

	paying := f.pendingTopUp(t, u.ID, "10")
	f.provider.status = ProviderPaid
	f.store.SetSettings(func(s *settings.Settings) { s.Frozen = true })

	_, err = f.svc.RetryCheckout(ctx, u.ID, failed.ID)
	assert.ErrorIs(t, err, settings.ErrSystemFrozen)
	_, err = f.svc.CreateTopUpCheckout(ctx, f.store.Transaction(failed.ID))
	assert.ErrorIs(t, err, settings.ErrSystemFrozen)
	assert.Len(t, f.provider.created, 1)

	_, err = f.svc.ValidateTopUp(ctx, paying.TransactionID)
	assert.ErrorIs(t, err, settings.ErrSystemFrozen)
	assert.Zero(t, f.provider.polls)
	assert.Equal(t, transaction.StatusPending, f.store.Transaction(paying.TransactionID).Status)
	assert.True(t, f.store.User(u.ID).Balance.Equal(dec("5.00")))

	f.store.SetSettings(func(s *settings.Settings) { s.Frozen = false })
	got, err := f.svc.ValidateTopUp(ctx, paying.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusSuccessful, got.Status)
	assert.True(t, f.store.User(u.ID).Balance.Equal(dec("15.00")))
}
