// Package ledgertest provides an in-memory ledger store for tests. InTx
// serialises units of work and restores the previous state when fn fails,
// mirroring the row locks and rollback of the SQL store.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/WISVCH/CHPay-sub001/internal/db"
	"github.com/WISVCH/CHPay-sub001/internal/paymentrequest"
	"github.com/WISVCH/CHPay-sub001/internal/settings"
	"github.com/WISVCH/CHPay-sub001/internal/transaction"
	"github.com/WISVCH/CHPay-sub001/internal/user"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users    map[uuid.UUID]user.User
	txs      map[uuid.UUID]transaction.Transaction
	requests map[uuid.UUID]paymentrequest.PaymentRequest
	settings settings.Settings

	lockFailures int
	lockErr      error
	lockCalls    int
}

func NewStore() *Store {
	return &Store{
		users:    make(map[uuid.UUID]user.User),
		txs:      make(map[uuid.UUID]transaction.Transaction),
		requests: make(map[uuid.UUID]paymentrequest.PaymentRequest),
		settings: settings.Settings{
			MaxBalance: decimal.RequireFromString("500.00"),
			MinTopUp:   decimal.RequireFromString("2.00"),
		},
	}
}

// FailUserLocks makes the next n user row locks fail with err.
func (s *Store) FailUserLocks(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockFailures = n
	s.lockErr = err
}

// UserLockCalls reports how many user row locks were requested.
func (s *Store) UserLockCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockCalls
}

func (s *Store) AddUser(name string, balance string) user.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := user.User{
		ID:        uuid.New(),
		Name:      name,
		Email:     name + "@example.com",
		Subject:   "oidc|" + name,
		Role:      user.RoleMember,
		Balance:   decimal.RequireFromString(balance),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.users[u.ID] = u
	return u
}

func (s *Store) AddRequest(amount string, multiUse bool) paymentrequest.PaymentRequest {
	pr := paymentrequest.New(decimal.RequireFromString(amount), "request", multiUse)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[pr.ID] = *pr
	return *pr
}

func (s *Store) AddTransaction(t *transaction.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[t.ID] = *t
}

func (s *Store) User(id uuid.UUID) user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

// Transaction returns a copy of the stored row, or a zero row when unknown.
func (s *Store) Transaction(id uuid.UUID) *transaction.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.txs[id]
	return &t
}

func (s *Store) Request(id uuid.UUID) paymentrequest.PaymentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id]
}

// Transactions returns all stored transactions of the given type.
func (s *Store) Transactions(typ transaction.Type) []transaction.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []transaction.Transaction
	for _, t := range s.txs {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) SetSettings(fn func(*settings.Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.settings)
}

func (s *Store) Transactor() db.Transactor           { return transactor{s} }
func (s *Store) Users() user.Repository              { return userRepo{s} }
func (s *Store) Txs() transaction.Repository         { return txRepo{s} }
func (s *Store) Requests() paymentrequest.Repository { return requestRepo{s} }
func (s *Store) Settings() settings.Store            { return settingsStore{s} }

type snapshot struct {
	users    map[uuid.UUID]user.User
	txs      map[uuid.UUID]transaction.Transaction
	requests map[uuid.UUID]paymentrequest.PaymentRequest
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		users:    make(map[uuid.UUID]user.User, len(s.users)),
		txs:      make(map[uuid.UUID]transaction.Transaction, len(s.txs)),
		requests: make(map[uuid.UUID]paymentrequest.PaymentRequest, len(s.requests)),
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.txs {
		snap.txs[k] = v
	}
	for k, v := range s.requests {
		snap.requests[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.txs = snap.txs
	s.requests = snap.requests
}

type transactor struct{ s *Store }

func (t transactor) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	t.s.txMu.Lock()
	defer t.s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := t.s.snapshot()
	if err := fn(nil); err != nil {
		t.s.restore(snap)
		return err
	}
	return nil
}

type userRepo struct{ s *Store }

func (r userRepo) GetOrCreate(ctx context.Context, subject, name, email, role string) (*user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, u := range r.s.users {
		if u.Subject == subject {
			u.Name, u.Email, u.Role = name, email, role
			r.s.users[id] = u
			return &u, nil
		}
	}
	u := user.User{ID: uuid.New(), Subject: subject, Name: name, Email: email, Role: role, Balance: decimal.Zero}
	r.s.users[u.ID] = u
	return &u, nil
}

func (r userRepo) FindByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return &u, nil
}

func (r userRepo) FindByRFID(ctx context.Context, tag string) (*user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.RFID != nil && *u.RFID == tag {
			return &u, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (r userRepo) LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*user.User, error) {
	r.s.mu.Lock()
	r.s.lockCalls++
	if r.s.lockFailures > 0 {
		r.s.lockFailures--
		err := r.s.lockErr
		r.s.mu.Unlock()
		return nil, err
	}
	r.s.mu.Unlock()

	return r.FindByID(ctx, id)
}

func (r userRepo) UpdateBalance(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, balance decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return user.ErrUserNotFound
	}
	u.Balance = balance
	r.s.users[id] = u
	return nil
}

func (r userRepo) SetRFID(ctx context.Context, id uuid.UUID, tag *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return user.ErrUserNotFound
	}
	if tag != nil {
		for other, o := range r.s.users {
			if other != id && o.RFID != nil && *o.RFID == *tag {
				return user.ErrRFIDTaken
			}
		}
	}
	u.RFID = tag
	r.s.users[id] = u
	return nil
}

func (r userRepo) SetBanned(ctx context.Context, id uuid.UUID, banned bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return user.ErrUserNotFound
	}
	u.Banned = banned
	r.s.users[id] = u
	return nil
}

type txRepo struct{ s *Store }

func (r txRepo) Create(ctx context.Context, tx *sqlx.Tx, t *transaction.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.txs[t.ID] = *t
	return nil
}

func (r txRepo) FindByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.txs[id]
	if !ok {
		return nil, transaction.ErrTransactionNotFound
	}
	return &t, nil
}

func (r txRepo) FindByProviderRef(ctx context.Context, ref string) (*transaction.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, t := range r.s.txs {
		if t.ProviderRef() == ref && ref != "" {
			return &t, nil
		}
	}
	return nil, transaction.ErrTransactionNotFound
}

func (r txRepo) LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*transaction.Transaction, error) {
	return r.FindByID(ctx, id)
}

func (r txRepo) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status transaction.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.txs[id]
	if !ok {
		return transaction.ErrTransactionNotFound
	}
	t.Status = status
	r.s.txs[id] = t
	return nil
}

func (r txRepo) AssignUser(ctx context.Context, tx *sqlx.Tx, id, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.txs[id]
	if !ok || t.UserID.Valid {
		return transaction.ErrTransactionNotFound
	}
	t.UserID = uuid.NullUUID{UUID: userID, Valid: true}
	r.s.txs[id] = t
	return nil
}

func (r txRepo) SetProviderRef(ctx context.Context, id uuid.UUID, ref string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.txs[id]
	if !ok || t.Type != transaction.TypeTopUp || t.Status != transaction.StatusPending || t.ProviderRef() != "" {
		return transaction.ErrCheckoutAlreadyOpen
	}
	t.Details = transaction.TopUpDetails{ProviderRef: ref}
	r.s.txs[id] = t
	return nil
}

func (r txRepo) FindPaymentForRequest(ctx context.Context, tx *sqlx.Tx, userID, requestID uuid.UUID, statuses ...transaction.Status) (*transaction.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var found *transaction.Transaction
	for _, t := range r.s.txs {
		reqID, ok := t.RequestID()
		if !ok || reqID != requestID || !t.OwnedBy(userID) || !hasStatus(t.Status, statuses) {
			continue
		}
		if found == nil || t.CreatedAt.After(found.CreatedAt) {
			cp := t
			found = &cp
		}
	}
	if found == nil {
		return nil, transaction.ErrTransactionNotFound
	}
	return found, nil
}

func (r txRepo) SumRefunds(ctx context.Context, tx *sqlx.Tx, originalID uuid.UUID) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sum := decimal.Zero
	for _, t := range r.s.txs {
		if d, ok := t.Details.(transaction.RefundDetails); ok && d.RefundOf == originalID && t.Status == transaction.StatusSuccessful {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

func (r txRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]transaction.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []transaction.Transaction
	for _, t := range r.s.txs {
		if t.OwnedBy(userID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= len(out) {
		return []transaction.Transaction{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func hasStatus(s transaction.Status, statuses []transaction.Status) bool {
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

type requestRepo struct{ s *Store }

func (r requestRepo) Create(ctx context.Context, pr *paymentrequest.PaymentRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.requests[pr.ID] = *pr
	return nil
}

func (r requestRepo) FindByID(ctx context.Context, id uuid.UUID) (*paymentrequest.PaymentRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	pr, ok := r.s.requests[id]
	if !ok {
		return nil, paymentrequest.ErrRequestNotFound
	}
	return &pr, nil
}

func (r requestRepo) LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*paymentrequest.PaymentRequest, error) {
	return r.FindByID(ctx, id)
}

func (r requestRepo) MarkFulfilled(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	pr, ok := r.s.requests[id]
	if !ok {
		return paymentrequest.ErrRequestNotFound
	}
	pr.Fulfilled = true
	r.s.requests[id] = pr
	return nil
}

func (r requestRepo) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, pr := range r.s.requests {
		if !pr.Fulfilled && pr.CreatedAt.Before(cutoff) {
			pr.Fulfilled = true
			r.s.requests[id] = pr
			n++
		}
	}
	return n, nil
}

type settingsStore struct{ s *Store }

func (r settingsStore) Get(ctx context.Context) (*settings.Settings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := r.s.settings
	return &cp, nil
}

func (r settingsStore) Update(ctx context.Context, in *settings.Settings) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.settings = *in
	return nil
}
