package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"userstore/internal/domain"
	"userstore/pkg/logger"
)

type RoleRepository struct {
	db     DBTX
	logger logger.Logger
}

var _ domain.RoleRepository = (*RoleRepository)(nil)

func NewRoleRepository(db DBTX, logger logger.Logger) *RoleRepository {
	return &RoleRepository{
		db:     db,
		logger: logger,
	}
}

func (r *RoleRepository) WithTx(tx *sql.Tx) *RoleRepository {
	return &RoleRepository{db: tx, logger: r.logger}
}

func (r *RoleRepository) Create(ctx context.Context, role *domain.Role) error {
	if role.Authority == "" {
		return fmt.Errorf("rol adı boş olamaz: %w", domain.ErrPersistenceFailure)
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO roles (authority) VALUES ($1) RETURNING id`,
		role.Authority,
	).Scan(&role.ID)

	if err != nil {
		r.logger.ErrorContext(ctx, "Rol oluşturulamadı", map[string]interface{}{"authority": role.Authority, "error": err.Error()})
		return fmt.Errorf("%w: rol oluşturulamadı: %w", domain.ErrPersistenceFailure, err)
	}

	return nil
}

func (r *RoleRepository) FindByAuthority(ctx context.Context, authority string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.QueryRowContext(ctx,
		`SELECT id, authority FROM roles WHERE authority = $1`,
		authority,
	).Scan(&role.ID, &role.Authority)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Rol bulunamadı", map[string]interface{}{"authority": authority, "error": err.Error()})
		return nil, fmt.Errorf("rol bulunamadı: %w", err)
	}

	return &role, nil
}

func (r *RoleRepository) FindAll(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, authority FROM roles ORDER BY authority`)
	if err != nil {
		r.logger.ErrorContext(ctx, "Roller listelenemedi", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("roller listelenemedi: %w", err)
	}
	defer rows.Close()

	roles := []domain.Role{}
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Authority); err != nil {
			return nil, fmt.Errorf("rol verileri okunamadı: %w", err)
		}
		roles = append(roles, role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rol verileri okunamadı: %w", err)
	}

	return roles, nil
}
