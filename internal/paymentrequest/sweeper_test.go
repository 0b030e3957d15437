package paymentrequest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRequestRepo struct{ mock.Mock }

func (m *MockRequestRepo) Create(ctx context.Context, r *PaymentRequest) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockRequestRepo) FindByID(ctx context.Context, id uuid.UUID) (*PaymentRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaymentRequest), args.Error(1)
}

func (m *MockRequestRepo) LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*PaymentRequest, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaymentRequest), args.Error(1)
}

func (m *MockRequestRepo) MarkFulfilled(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	return m.Called(ctx, tx, id).Error(0)
}

func (m *MockRequestRepo) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func TestExpireOldRequests_UsesCutoff(t *testing.T) {
	repo := new(MockRequestRepo)
	sweeper := NewSweeper(repo, 30*24*time.Hour, time.Hour)

	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	sweeper.now = func() time.Time { return now }

	repo.On("ExpireOlderThan", mock.Anything, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)).
		Return(int64(2), nil)

	n, err := sweeper.ExpireOldRequests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	repo.AssertExpectations(t)
}

func TestExpireOldRequests_Error(t *testing.T) {
	repo := new(MockRequestRepo)
	sweeper := NewSweeper(repo, time.Hour, time.Hour)

	repo.On("ExpireOlderThan", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down"))

	_, err := sweeper.ExpireOldRequests(context.Background())
	assert.Error(t, err)
}

func TestSweeperStart_RunsOnTick(t *testing.T) {
	repo := new(MockRequestRepo)
	sweeper := NewSweeper(repo, time.Hour, 10*time.Millisecond)

	ran := make(chan struct{}, 1)
	repo.On("ExpireOlderThan", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case ran <- struct{}{}:
			default:
			}
		}).
		Return(int64(0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
