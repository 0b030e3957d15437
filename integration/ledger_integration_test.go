package integration_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/WISVCH/CHPay-sub001/internal/ledger"
	"github.com/WISVCH/CHPay-sub001/internal/paymentrequest"
	"github.com/WISVCH/CHPay-sub001/internal/transaction"
	"github.com/WISVCH/CHPay-sub001/internal/user"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fundedUser(t *testing.T, s *stack, name, balance string) *user.User {
	t.Helper()
	ctx := context.Background()
	u, err := s.users.GetOrCreate(ctx, "oidc|"+name, name, name+"@test.com", user.RoleMember)
	require.NoError(t, err)
	if b := dec(balance); b.IsPositive() {
		require.NoError(t, s.engine.Credit(ctx, u.ID, b))
	}
	return u
}

func balanceOf(t *testing.T, s *stack, u *user.User) decimal.Decimal {
	t.Helper()
	got, err := s.users.FindByID(context.Background(), u.ID)
	require.NoError(t, err)
	return got.Balance
}

func TestPaymentAndRefunds_Integration(t *testing.T) {
	s := newStack(setupTestDB(t))
	ctx := context.Background()
	alice := fundedUser(t, s, "alice", "50.00")

	pr, err := s.payments.CreateRequest(ctx, paymentrequest.CreateRequest{Amount: dec("30.00"), Description: "lunch"})
	require.NoError(t, err)

	pending, err := s.payments.TransactionFromRequest(ctx, pr.ID, alice.ID)
	require.NoError(t, err)
	again, err := s.payments.TransactionFromRequest(ctx, pr.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, again.ID)

	paid, err := s.payments.FulfillTransaction(ctx, pending.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusSuccessful, paid.Status)
	assert.True(t, balanceOf(t, s, alice).Equal(dec("20.00")))

	_, err = s.payments.PartialRefund(ctx, paid.ID, dec("10.00"))
	require.NoError(t, err)
	_, err = s.payments.PartialRefund(ctx, paid.ID, dec("25.00"))
	assert.ErrorIs(t, err, ledger.ErrIllegalRefund)

	_, err = s.payments.RefundTransaction(ctx, paid.ID)
	require.NoError(t, err)
	assert.True(t, balanceOf(t, s, alice).Equal(dec("50.00")))

	original, err := s.txs.FindByID(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusRefunded, original.Status)
}

func TestConcurrentOverspend_Integration(t *testing.T) {
	s := newStack(setupTestDB(t))
	ctx := context.Background()
	bob := fundedUser(t, s, "bob", "50.00")

	var ids [2]transaction.Transaction
	for i := range ids {
		pr, err := s.payments.CreateRequest(ctx, paymentrequest.CreateRequest{Amount: dec("30.00"), Description: "ticket"})
		require.NoError(t, err)
		tx, err := s.payments.TransactionFromRequest(ctx, pr.ID, bob.ID)
		require.NoError(t, err)
		ids[i] = *tx
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.engine.Pay(ctx, bob.ID, ids[i].ID)
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrInsufficientBalance):
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.True(t, balanceOf(t, s, bob).Equal(dec("20.00")))
}

func TestExpireOldRequests_Integration(t *testing.T) {
	database := setupTestDB(t)
	s := newStack(database)
	ctx := context.Background()

	old := paymentrequest.New(dec("5.00"), "old", false)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.requests.Create(ctx, old))
	fresh := paymentrequest.New(dec("5.00"), "fresh", false)
	require.NoError(t, s.requests.Create(ctx, fresh))

	n, err := paymentrequest.NewSweeper(s.requests, 24*time.Hour, time.Hour).ExpireOldRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.requests.FindByID(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, got.Fulfilled)

	got, err = s.requests.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, got.Fulfilled)
}
