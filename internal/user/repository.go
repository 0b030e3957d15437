package user

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrRFIDTaken    = errors.New("rfid tag already assigned")
)

const userColumns = `id, name, email, subject, role, balance, banned, rfid, created_at, updated_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// GetOrCreate registers a user on first login and refreshes profile fields on
// later ones. Balance is never touched here.
func (r *repository) GetOrCreate(ctx context.Context, subject, name, email, role string) (*User, error) {
	query := `
		INSERT INTO users (id, name, email, subject, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role, updated_at = NOW()
		RETURNING ` + userColumns

	var u User
	if err := r.db.GetContext(ctx, &u, query, uuid.New(), name, email, subject, role); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) FindByRFID(ctx context.Context, tag string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE rfid = $1`, tag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// LockByID reads the user row with an exclusive lock held until tx ends.
func (r *repository) LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*User, error) {
	var u User
	err := tx.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) UpdateBalance(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, balance decimal.Decimal) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2`,
		balance, id,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) SetRFID(ctx context.Context, id uuid.UUID, tag *string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET rfid = $1, updated_at = NOW() WHERE id = $2`,
		tag, id,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrRFIDTaken
		}
		return err
	}
	return requireRow(result)
}

func (r *repository) SetBanned(ctx context.Context, id uuid.UUID, banned bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET banned = $1, updated_at = NOW() WHERE id = $2`,
		banned, id,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}
