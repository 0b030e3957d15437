package settings

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settings is the singleton system configuration row.
type Settings struct {
	Frozen     bool            `db:"frozen" json:"frozen"`
	MaxBalance decimal.Decimal `db:"max_balance" json:"max_balance"`
	MinTopUp   decimal.Decimal `db:"min_top_up" json:"min_top_up"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// UpdateSettingsRequest patches the fields that are present.
type UpdateSettingsRequest struct {
	Frozen     *bool            `json:"frozen"`
	MaxBalance *decimal.Decimal `json:"max_balance" validate:"omitempty,gt=0"`
	MinTopUp   *decimal.Decimal `json:"min_top_up" validate:"omitempty,gt=0"`
}

func (r UpdateSettingsRequest) apply(s *Settings) {
	if r.Frozen != nil {
		s.Frozen = *r.Frozen
	}
	if r.MaxBalance != nil {
		s.MaxBalance = r.MaxBalance.Round(2)
	}
	if r.MinTopUp != nil {
		s.MinTopUp = r.MinTopUp.Round(2)
	}
}
