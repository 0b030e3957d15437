package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrSystemFrozen           = errors.New("system is frozen")
	ErrBalanceCeilingExceeded = errors.New("balance would exceed the maximum")
	ErrBelowMinimumTopUp      = errors.New("amount is below the minimum top-up")
)

// Policy enforces the freeze switch and balance limits. Every check reads
// the settings row again.
type Policy struct {
	store Store
}

func NewPolicy(store Store) *Policy {
	return &Policy{store: store}
}

// AssertNotFrozen fails every mutating operation while the system is frozen.
func (p *Policy) AssertNotFrozen(ctx context.Context) error {
	s, err := p.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if s.Frozen {
		return ErrSystemFrozen
	}
	return nil
}

func (p *Policy) AssertBalanceWithinLimit(ctx context.Context, current, delta decimal.Decimal) error {
	s, err := p.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	return withinLimit(s, current, delta)
}

// AssertTopUpAllowed checks the minimum top-up and that the credit would
// still fit under the ceiling.
func (p *Policy) AssertTopUpAllowed(ctx context.Context, current, amount decimal.Decimal) error {
	s, err := p.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if s.Frozen {
		return ErrSystemFrozen
	}
	if amount.LessThan(s.MinTopUp) {
		return fmt.Errorf("%w of %s", ErrBelowMinimumTopUp, s.MinTopUp.StringFixed(2))
	}
	return withinLimit(s, current, amount)
}

func withinLimit(s *Settings, current, delta decimal.Decimal) error {
	if current.Add(delta).GreaterThan(s.MaxBalance) {
		return fmt.Errorf("%w of %s", ErrBalanceCeilingExceeded, s.MaxBalance.StringFixed(2))
	}
	return nil
}
