package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrLockTimeout is returned once a row lock could not be obtained in time.
var ErrLockTimeout = errors.New("lock timeout")

// Transactor runs fn inside a single database transaction. Every row lock
// taken inside fn is held until fn returns and the transaction commits.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type sqlTransactor struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

func NewTransactor(db *sqlx.DB, lockTimeout time.Duration) Transactor {
	return &sqlTransactor{db: db, lockTimeout: lockTimeout}
}

func (t *sqlTransactor) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if t.lockTimeout > 0 {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", t.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// Postgres error codes raised by contended row locks.
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

// IsLockError reports whether err was caused by lock contention rather than
// by a business rule, so the operation may be retried.
func IsLockError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLockTimeout) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return true
		}
	}
	return false
}
