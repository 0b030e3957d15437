package user

import (
	"context"
	"strings"

	"github.com/WISVCH/CHPay-sub001/internal/auth"
	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/google/uuid"
)

type Service interface {
	ResolveIdentity(ctx context.Context, id auth.Identity) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	AssignRFID(ctx context.Context, id uuid.UUID, tag string) error
	ClearRFID(ctx context.Context, id uuid.UUID) error
	SetBanned(ctx context.Context, id uuid.UUID, banned bool) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// ResolveIdentity implements auth.IdentityResolver. Users are created on
// their first authenticated request.
func (s *service) ResolveIdentity(ctx context.Context, id auth.Identity) (uuid.UUID, error) {
	role := RoleMember
	if id.Role == RoleAdmin {
		role = RoleAdmin
	}

	u, err := s.repo.GetOrCreate(ctx, id.Subject, id.Name, id.Email, role)
	if err != nil {
		logger.Error("failed to resolve identity", "subject", id.Subject, "error", err)
		return uuid.Nil, err
	}
	return u.ID, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) AssignRFID(ctx context.Context, id uuid.UUID, tag string) error {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if err := s.repo.SetRFID(ctx, id, &tag); err != nil {
		return err
	}
	logger.Info("rfid assigned", "user_id", id)
	return nil
}

func (s *service) ClearRFID(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetRFID(ctx, id, nil)
}

func (s *service) SetBanned(ctx context.Context, id uuid.UUID, banned bool) error {
	if err := s.repo.SetBanned(ctx, id, banned); err != nil {
		return err
	}
	logger.Info("user ban status changed", "user_id", id, "banned", banned)
	return nil
}
