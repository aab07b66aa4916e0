package service

import (
	"context"
	"fmt"
	"strings"

	"userstore/internal/domain"
	"userstore/pkg/logger"
)

type UserService struct {
	repo     domain.UserRepository
	auditLog domain.AuditLogService
	logger   logger.Logger
}

var _ domain.UserService = (*UserService)(nil)

func NewUserService(
	repo domain.UserRepository,
	auditLog domain.AuditLogService,
	logger logger.Logger,
) *UserService {
	return &UserService{
		repo:     repo,
		auditLog: auditLog,
		logger:   logger,
	}
}

// Register saves a new user holding the given authorities. Every authority
// must name an existing role.
func (s *UserService) Register(ctx context.Context, user *domain.User, authorities ...string) error {
	roles, err := s.resolveRoles(ctx, authorities)
	if err != nil {
		return fmt.Errorf("kullanıcı oluşturulamadı: %w", err)
	}
	for _, role := range roles {
		user.AddRole(role)
	}

	if err := s.repo.Save(ctx, user); err != nil {
		return fmt.Errorf("kullanıcı oluşturulamadı: %w", err)
	}

	s.audit(ctx, user.ID, domain.ActionTypeCreate, fmt.Sprintf("Kullanıcı oluşturuldu: %s", user.Username))
	return nil
}

func (s *UserService) UpdateUser(ctx context.Context, user *domain.User) error {
	if err := s.repo.Update(ctx, user); err != nil {
		return fmt.Errorf("kullanıcı güncellenemedi: %w", err)
	}

	s.audit(ctx, user.ID, domain.ActionTypeUpdate, fmt.Sprintf("Kullanıcı güncellendi: %s", user.Username))
	return nil
}

// DeleteUser removes the user if present; an unknown id is not an error.
func (s *UserService) DeleteUser(ctx context.Context, id int64) error {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("kullanıcı silinemedi: %w", err)
	}

	if existing == nil {
		s.logger.InfoContext(ctx, "Silinecek kullanıcı bulunamadı", map[string]interface{}{"id": id})
		return nil
	}

	if err := s.repo.RemoveByID(ctx, id); err != nil {
		return fmt.Errorf("kullanıcı silinemedi: %w", err)
	}

	s.audit(ctx, id, domain.ActionTypeDelete, fmt.Sprintf("Kullanıcı silindi: %s", existing.Username))
	return nil
}

func (s *UserService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, fmt.Errorf("kullanıcı ID'ye göre bulunamadı: %d: %w", id, domain.ErrUserNotFound)
	}

	return user, nil
}

func (s *UserService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.repo.ListAll(ctx)
}

func (s *UserService) AssignRoles(ctx context.Context, id int64, authorities ...string) (*domain.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	roles, err := s.resolveRoles(ctx, authorities)
	if err != nil {
		return nil, fmt.Errorf("roller atanamadı: %w", err)
	}
	for _, role := range roles {
		user.AddRole(role)
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("roller atanamadı: %w", err)
	}

	s.audit(ctx, id, domain.ActionTypeUpdate, fmt.Sprintf("Roller atandı: %s", strings.Join(authorities, ",")))
	return user, nil
}

// RevokeRole drops the membership only; the role stays in place for others.
func (s *UserService) RevokeRole(ctx context.Context, id int64, authority string) (*domain.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if !user.HasAuthority(authority) {
		return user, nil
	}

	user.RemoveRole(domain.Role{Authority: authority})

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("rol kaldırılamadı: %w", err)
	}

	s.audit(ctx, id, domain.ActionTypeUpdate, fmt.Sprintf("Rol kaldırıldı: %s", authority))
	return user, nil
}

// LoadPrincipal resolves the account an authentication layer checks
// credentials against.
func (s *UserService) LoadPrincipal(ctx context.Context, username string) (domain.Principal, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, fmt.Errorf("kullanıcı adına göre bulunamadı: %s: %w", username, domain.ErrUserNotFound)
	}

	return user, nil
}

func (s *UserService) resolveRoles(ctx context.Context, authorities []string) ([]domain.Role, error) {
	if len(authorities) == 0 {
		return nil, nil
	}

	roles, err := s.repo.FindRolesByAuthorities(ctx, authorities...)
	if err != nil {
		return nil, err
	}

	found := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		found[role.Authority] = struct{}{}
	}
	for _, authority := range authorities {
		if _, ok := found[authority]; !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrRoleNotFound, authority)
		}
	}

	return roles, nil
}

func (s *UserService) audit(ctx context.Context, userID int64, action domain.ActionType, details string) {
	if s.auditLog == nil {
		return
	}
	// LogAction already logs its own failures.
	_ = s.auditLog.LogAction(ctx, domain.EntityTypeUser, userID, action, details)
}
