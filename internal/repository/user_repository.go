package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"userstore/internal/domain"
	"userstore/pkg/logger"
	"userstore/pkg/metrics"
	"userstore/pkg/validator"
)

const userColumns = `id, username, age, email, password`

// UsernameLocker guards a username for the duration of an Update.
type UsernameLocker interface {
	Lock(ctx context.Context, username string) (release func(), err error)
}

type UserRepository struct {
	db        DBTX
	logger    logger.Logger
	validator *validator.Validator
	locker    UsernameLocker
}

type UserRepositoryOption func(*UserRepository)

func WithUsernameLocker(locker UsernameLocker) UserRepositoryOption {
	return func(r *UserRepository) {
		r.locker = locker
	}
}

var _ domain.UserRepository = (*UserRepository)(nil)

func NewUserRepository(db DBTX, logger logger.Logger, opts ...UserRepositoryOption) *UserRepository {
	r := &UserRepository{
		db:        db,
		logger:    logger,
		validator: validator.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithTx returns a copy bound to a caller-owned transaction. The caller
// commits or rolls back; the copy never does.
func (r *UserRepository) WithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{
		db:        tx,
		logger:    r.logger,
		validator: r.validator,
		locker:    r.locker,
	}
}

func (r *UserRepository) Save(ctx context.Context, user *domain.User) (err error) {
	ctx, finish := startOperation(ctx, "save", "user")
	defer func() { finish(err) }()

	if user.Roles == nil {
		user.Roles = []domain.Role{}
	}

	if verr := r.validator.Struct(user); verr != nil {
		r.logger.WarnContext(ctx, "Kullanıcı doğrulanamadı", map[string]interface{}{"username": user.Username, "error": verr.Error()})
		return fmt.Errorf("%w: %w: %v", domain.ErrPersistenceFailure, domain.ErrInvalidUser, verr)
	}

	var (
		id    int64
		roles []domain.Role
	)
	err = runInTx(ctx, r.db, func(q DBTX) error {
		query := `
			INSERT INTO users (username, age, email, password)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`
		if err := q.QueryRowContext(ctx, query, user.Username, user.Age, user.Email, user.Password).Scan(&id); err != nil {
			return err
		}

		var err error
		roles, err = r.insertRoles(ctx, q, id, user.Roles)
		return err
	})

	if err != nil {
		r.logger.ErrorContext(ctx, "Kullanıcı oluşturulamadı", map[string]interface{}{"username": user.Username, "error": err.Error()})
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w: %w", domain.ErrPersistenceFailure, domain.ErrDuplicateUsername, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err)
	}

	user.ID = id
	user.Roles = roles

	return nil
}

// Update overwrites every column of the row matched by user.ID and replaces
// its role links with user.Roles.
func (r *UserRepository) Update(ctx context.Context, user *domain.User) (err error) {
	ctx, finish := startOperation(ctx, "update", "user")
	defer func() { finish(err) }()

	if user.Roles == nil {
		user.Roles = []domain.Role{}
	}

	if verr := r.validator.Struct(user); verr != nil {
		r.logger.WarnContext(ctx, "Kullanıcı doğrulanamadı", map[string]interface{}{"id": user.ID, "error": verr.Error()})
		return fmt.Errorf("%w: %v", domain.ErrInvalidUser, verr)
	}

	if r.locker != nil {
		release, lockErr := r.locker.Lock(ctx, user.Username)
		if lockErr != nil {
			metrics.RecordLockContention()
			r.logger.WarnContext(ctx, "Kullanıcı adı kilitlenemedi", map[string]interface{}{"username": user.Username, "error": lockErr.Error()})
			return fmt.Errorf("kullanıcı güncellenemedi: %w", lockErr)
		}
		defer release()
	}

	var roles []domain.Role
	err = runInTx(ctx, r.db, func(q DBTX) error {
		existing, err := r.scanUser(q.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE username = $1`, user.Username))
		if err != nil {
			return err
		}

		if existing != nil && existing.ID != user.ID {
			return domain.ErrDuplicateUsername
		}

		query := `
			UPDATE users
			SET username = $1, age = $2, email = $3, password = $4
			WHERE id = $5
		`
		res, err := q.ExecContext(ctx, query, user.Username, user.Age, user.Email, user.Password, user.ID)
		if err != nil {
			return err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrUserNotFound
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM users_role WHERE user_id = $1`, user.ID); err != nil {
			return err
		}

		roles, err = r.insertRoles(ctx, q, user.ID, user.Roles)
		return err
	})

	switch {
	case err == nil:
		user.Roles = roles
		return nil
	case errors.Is(err, domain.ErrDuplicateUsername):
		metrics.RecordDuplicateUsername()
		r.logger.WarnContext(ctx, "Kullanıcı adı başka bir kullanıcıya ait", map[string]interface{}{"id": user.ID, "username": user.Username})
		return fmt.Errorf("%w: %s", domain.ErrDuplicateUsername, user.Username)
	case errors.Is(err, domain.ErrUserNotFound):
		return fmt.Errorf("güncellenecek kullanıcı bulunamadı: %d: %w", user.ID, domain.ErrUserNotFound)
	case isUniqueViolation(err):
		metrics.RecordDuplicateUsername()
		r.logger.WarnContext(ctx, "Kullanıcı adı benzersizlik kısıtı ihlal edildi", map[string]interface{}{"id": user.ID, "username": user.Username})
		return fmt.Errorf("%w: %w", domain.ErrDuplicateUsername, err)
	default:
		r.logger.ErrorContext(ctx, "Kullanıcı güncellenemedi", map[string]interface{}{"id": user.ID, "error": err.Error()})
		return fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err)
	}
}

// RemoveByID is a no-op for unknown ids. Roles are never deleted.
func (r *UserRepository) RemoveByID(ctx context.Context, id int64) (err error) {
	ctx, finish := startOperation(ctx, "remove", "user")
	defer func() { finish(err) }()

	err = runInTx(ctx, r.db, func(q DBTX) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM users_role WHERE user_id = $1`, id); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		return err
	})

	if err != nil {
		r.logger.ErrorContext(ctx, "Kullanıcı silinemedi", map[string]interface{}{"id": id, "error": err.Error()})
		return fmt.Errorf("kullanıcı silinemedi: %w", err)
	}

	return nil
}

// ListAll returns users ordered by id, each with its roles. Roles for all
// users are fetched with a single query.
func (r *UserRepository) ListAll(ctx context.Context) (users []*domain.User, err error) {
	ctx, finish := startOperation(ctx, "list", "user")
	defer func() { finish(err) }()

	err = runInTx(ctx, r.db, func(q DBTX) error {
		var err error
		users, err = r.queryUsers(ctx, q)
		if err != nil {
			return err
		}

		byID := make(map[int64]*domain.User, len(users))
		for _, u := range users {
			byID[u.ID] = u
		}

		query := `
			SELECT ur.user_id, r.id, r.authority
			FROM users_role ur
			JOIN roles r ON r.id = ur.role_id
			WHERE ur.user_id IN (SELECT id FROM users)
			ORDER BY ur.user_id, r.authority
		`
		rows, err := q.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				userID int64
				role   domain.Role
			)
			if err := rows.Scan(&userID, &role.ID, &role.Authority); err != nil {
				return err
			}
			if u, ok := byID[userID]; ok {
				u.Roles = append(u.Roles, role)
			}
		}

		return rows.Err()
	})

	if err != nil {
		r.logger.ErrorContext(ctx, "Kullanıcılar listelenemedi", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("kullanıcılar listelenemedi: %w", err)
	}

	return users, nil
}

// FindByUsername returns (nil, nil) when no user has that username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (user *domain.User, err error) {
	ctx, finish := startOperation(ctx, "find_by_username", "user")
	defer func() { finish(err) }()

	user, err = r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err == nil && user != nil {
		user.Roles, err = r.loadRoles(ctx, r.db, user.ID)
	}

	if err != nil {
		r.logger.ErrorContext(ctx, "Kullanıcı adına göre bulunamadı", map[string]interface{}{"username": username, "error": err.Error()})
		return nil, fmt.Errorf("kullanıcı bulunamadı: %w", err)
	}

	return user, nil
}

// GetByID returns (nil, nil) when the id is unknown.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (user *domain.User, err error) {
	ctx, finish := startOperation(ctx, "get_by_id", "user")
	defer func() { finish(err) }()

	user, err = r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == nil && user != nil {
		user.Roles, err = r.loadRoles(ctx, r.db, user.ID)
	}

	if err != nil {
		r.logger.ErrorContext(ctx, "Kullanıcı ID'ye göre bulunamadı", map[string]interface{}{"id": id, "error": err.Error()})
		return nil, fmt.Errorf("kullanıcı bulunamadı: %w", err)
	}

	return user, nil
}

// FindRolesByAuthorities returns each matching role once, ordered by authority.
func (r *UserRepository) FindRolesByAuthorities(ctx context.Context, authorities ...string) (roles []domain.Role, err error) {
	roles = []domain.Role{}

	seen := make(map[string]struct{}, len(authorities))
	args := make([]interface{}, 0, len(authorities))
	placeholders := make([]string, 0, len(authorities))
	for _, authority := range authorities {
		if _, ok := seen[authority]; ok {
			continue
		}
		seen[authority] = struct{}{}
		args = append(args, authority)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	if len(args) == 0 {
		return roles, nil
	}

	ctx, finish := startOperation(ctx, "find_by_authorities", "role")
	defer func() { finish(err) }()

	query := `SELECT DISTINCT id, authority FROM roles WHERE authority IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY authority`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Roller bulunamadı", map[string]interface{}{"authorities": authorities, "error": err.Error()})
		return nil, fmt.Errorf("roller bulunamadı: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Authority); err != nil {
			return nil, fmt.Errorf("rol verileri okunamadı: %w", err)
		}
		roles = append(roles, role)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rol verileri okunamadı: %w", err)
	}

	return roles, nil
}

func (r *UserRepository) scanUser(row *sql.Row) (*domain.User, error) {
	user := domain.User{Roles: []domain.Role{}}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Age,
		&user.Email,
		&user.Password,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &user, nil
}

func (r *UserRepository) queryUsers(ctx context.Context, q DBTX) ([]*domain.User, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user := domain.User{Roles: []domain.Role{}}
		if err := rows.Scan(&user.ID, &user.Username, &user.Age, &user.Email, &user.Password); err != nil {
			return nil, err
		}
		users = append(users, &user)
	}

	return users, rows.Err()
}

func (r *UserRepository) loadRoles(ctx context.Context, q DBTX, userID int64) ([]domain.Role, error) {
	query := `
		SELECT r.id, r.authority
		FROM roles r
		JOIN users_role ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.authority
	`
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []domain.Role{}
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Authority); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// insertRoles links userID to each distinct role. Roles without an id are
// resolved by authority and must already exist.
func (r *UserRepository) insertRoles(ctx context.Context, q DBTX, userID int64, roles []domain.Role) ([]domain.Role, error) {
	linked := make([]domain.Role, 0, len(roles))
	seen := make(map[int64]struct{}, len(roles))

	for _, role := range roles {
		if role.ID == 0 {
			err := q.QueryRowContext(ctx, `SELECT id FROM roles WHERE authority = $1`, role.Authority).Scan(&role.ID)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: %s", domain.ErrRoleNotFound, role.Authority)
			}
			if err != nil {
				return nil, err
			}
		}

		if _, ok := seen[role.ID]; ok {
			continue
		}
		seen[role.ID] = struct{}{}

		if _, err := q.ExecContext(ctx, `INSERT INTO users_role (user_id, role_id) VALUES ($1, $2)`, userID, role.ID); err != nil {
			return nil, fmt.Errorf("rol ilişkisi eklenemedi %d: %w", role.ID, err)
		}
		linked = append(linked, role)
	}

	return linked, nil
}
