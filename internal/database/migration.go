package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"userstore/internal/config"
	"userstore/pkg/logger"
	"userstore/pkg/tracing"
)

type Dialect string

const (
	DialectPostgres Dialect = config.DriverPostgres
	DialectSQLite   Dialect = config.DriverSQLite
)

func (d Dialect) IdentityColumn() string {
	if d == DialectSQLite {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}

func (d Dialect) ForeignKeyType() string {
	if d == DialectSQLite {
		return "INTEGER"
	}
	return "BIGINT"
}

type Migration struct {
	Name string
	Func func(ctx context.Context, tx *sql.Tx, dialect Dialect) error
}

type MigrationService struct {
	db         *sql.DB
	dialect    Dialect
	logger     logger.Logger
	migrations []Migration
}

func NewMigrationService(db *sql.DB, dialect Dialect, logger logger.Logger, seedRoles []string) *MigrationService {
	return &MigrationService{
		db:      db,
		dialect: dialect,
		logger:  logger,
		migrations: []Migration{
			{"create_users_table", CreateUsersTable},
			{"create_roles_table", CreateRolesTable},
			{"create_users_role_table", CreateUsersRoleTable},
			{"create_audit_logs_table", CreateAuditLogsTable},
			{"seed_default_roles", SeedRoles(seedRoles)},
		},
	}
}

func (m *MigrationService) InitMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS migrations (
        id %s,
        name TEXT NOT NULL UNIQUE,
        applied_at TIMESTAMP NOT NULL
    )
    `, m.dialect.IdentityColumn())

	if _, err := m.db.ExecContext(ctx, query); err != nil {
		m.logger.Error("Migration tablosu oluşturulamadı", map[string]interface{}{"error": err.Error()})
		return err
	}

	return nil
}

func (m *MigrationService) IsMigrationApplied(ctx context.Context, name string) (bool, error) {
	var count int
	query := "SELECT COUNT(*) FROM migrations WHERE name = $1"
	if err := m.db.QueryRowContext(ctx, query, name).Scan(&count); err != nil {
		m.logger.Error("Migration durumu kontrol edilemedi", map[string]interface{}{"name": name, "error": err.Error()})
		return false, err
	}

	return count > 0, nil
}

func (m *MigrationService) ApplyMigration(ctx context.Context, migration Migration) (err error) {
	ctx, span := tracing.StartSpan(ctx, "migration.apply", attribute.String("migration.name", migration.Name))
	defer func() { tracing.EndSpan(span, err) }()

	applied, err := m.IsMigrationApplied(ctx, migration.Name)
	if err != nil {
		return err
	}

	if applied {
		m.logger.Debug("Migration zaten uygulanmış", map[string]interface{}{"name": migration.Name})
		return nil
	}

	m.logger.InfoContext(ctx, "Migration uygulanıyor", map[string]interface{}{"name": migration.Name})

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		m.logger.ErrorContext(ctx, "Transaction başlatılamadı", map[string]interface{}{"error": err.Error()})
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			m.logger.ErrorContext(ctx, "Migration geri alındı", map[string]interface{}{"name": migration.Name, "error": err.Error()})
		}
	}()

	if err = migration.Func(ctx, tx, m.dialect); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, "INSERT INTO migrations (name, applied_at) VALUES ($1, $2)", migration.Name, time.Now().UTC()); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Migration başarıyla uygulandı", map[string]interface{}{"name": migration.Name})
	return nil
}

func (m *MigrationService) RunMigrations(ctx context.Context) error {
	m.logger.Info("Migrationlar başlatılıyor", map[string]interface{}{"dialect": string(m.dialect)})

	if err := m.InitMigrationTable(ctx); err != nil {
		return fmt.Errorf("migration tablosu oluşturulamadı: %w", err)
	}

	for _, migration := range m.migrations {
		if err := m.ApplyMigration(ctx, migration); err != nil {
			return fmt.Errorf("migration uygulanamadı %s: %w", migration.Name, err)
		}
	}

	return nil
}

func CreateUsersTable(ctx context.Context, tx *sql.Tx, dialect Dialect) error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS users (
        id %s,
        username VARCHAR(30) NOT NULL,
        age INTEGER NOT NULL DEFAULT 0,
        email TEXT NOT NULL,
        password TEXT NOT NULL
    )
    `, dialect.IdentityColumn())

	if _, err := tx.ExecContext(ctx, query); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS users_username_key ON users (username)`)
	return err
}

func CreateRolesTable(ctx context.Context, tx *sql.Tx, dialect Dialect) error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS roles (
        id %s,
        authority TEXT NOT NULL UNIQUE
    )
    `, dialect.IdentityColumn())

	_, err := tx.ExecContext(ctx, query)
	return err
}

func CreateUsersRoleTable(ctx context.Context, tx *sql.Tx, dialect Dialect) error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS users_role (
        user_id %[1]s NOT NULL,
        role_id %[1]s NOT NULL,
        PRIMARY KEY (user_id, role_id),
        FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE,
        FOREIGN KEY (role_id) REFERENCES roles (id)
    )
    `, dialect.ForeignKeyType())

	if _, err := tx.ExecContext(ctx, query); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS users_role_role_id_idx ON users_role (role_id)`)
	return err
}

func CreateAuditLogsTable(ctx context.Context, tx *sql.Tx, dialect Dialect) error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS audit_logs (
        id %s,
        entity_type TEXT NOT NULL,
        entity_id %s NOT NULL,
        action TEXT NOT NULL,
        details TEXT,
        created_at TIMESTAMP NOT NULL
    )
    `, dialect.IdentityColumn(), dialect.ForeignKeyType())

	_, err := tx.ExecContext(ctx, query)
	return err
}

func SeedRoles(authorities []string) func(ctx context.Context, tx *sql.Tx, dialect Dialect) error {
	return func(ctx context.Context, tx *sql.Tx, _ Dialect) error {
		for _, authority := range authorities {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO roles (authority) VALUES ($1) ON CONFLICT (authority) DO NOTHING`,
				authority,
			)
			if err != nil {
				return fmt.Errorf("rol eklenemedi %s: %w", authority, err)
			}
		}
		return nil
	}
}
