package settings

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Store reads and writes the settings row. Reads are never cached.
type Store interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

func (s *store) Get(ctx context.Context) (*Settings, error) {
	var out Settings
	err := s.db.GetContext(ctx, &out,
		`SELECT frozen, max_balance, min_top_up, updated_at FROM system_settings WHERE id = 1`,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *store) Update(ctx context.Context, in *Settings) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE system_settings SET frozen = $1, max_balance = $2, min_top_up = $3, updated_at = NOW() WHERE id = 1`,
		in.Frozen, in.MaxBalance, in.MinTopUp,
	)
	return err
}
