package factory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"userstore/internal/config"
	"userstore/internal/database"
	"userstore/internal/domain"
	"userstore/internal/repository"
	"userstore/internal/service"
	dbconn "userstore/pkg/database"
	"userstore/pkg/logger"
	"userstore/pkg/redis"
	"userstore/pkg/tracing"
)

type Factory interface {
	GetLogger() logger.Logger
	GetConfig() *config.Config
	GetDB() *sql.DB
	GetRedisClient() *redis.RedisClient
	GetMigrationService() *database.MigrationService

	GetUserRepository() domain.UserRepository
	GetRoleRepository() domain.RoleRepository
	GetAuditLogRepository() domain.AuditLogRepository

	GetUserService() domain.UserService
	GetAuditLogService() domain.AuditLogService

	Close() error
}

type AppFactory struct {
	config      *config.Config
	logger      logger.Logger
	db          *sql.DB
	redisClient *redis.RedisClient

	shutdownTracer func(context.Context) error

	migrationService *database.MigrationService

	userRepository     domain.UserRepository
	roleRepository     domain.RoleRepository
	auditLogRepository domain.AuditLogRepository

	userService     domain.UserService
	auditLogService domain.AuditLogService
}

func NewFactory(ctx context.Context) (Factory, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	return NewFactoryWithConfig(ctx, cfg, logger.New(logger.LogLevel(cfg.LogLevel), nil))
}

func NewFactoryWithConfig(ctx context.Context, cfg *config.Config, log logger.Logger) (Factory, error) {
	var shutdownTracer func(context.Context) error
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracer(ctx, cfg.Tracing)
		if err != nil {
			return nil, err
		}
		shutdownTracer = shutdown
		log.Info("Tracing etkin", map[string]interface{}{
			"endpoint":     cfg.Tracing.Endpoint,
			"service":      cfg.Tracing.ServiceName,
			"sample_ratio": cfg.Tracing.SampleRatio,
		})
	}

	db, err := dbconn.Open(ctx, cfg.Database, log)
	if err != nil {
		if shutdownTracer != nil {
			shutdownTracer(context.WithoutCancel(ctx))
		}
		return nil, err
	}

	factory := &AppFactory{
		config:         cfg,
		logger:         log,
		db:             db,
		shutdownTracer: shutdownTracer,
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			factory.Close()
			return nil, fmt.Errorf("Redis bağlantısı kurulamadı: %w", err)
		}
		factory.redisClient = redisClient
		log.Info("Kullanıcı adı kilidi etkin", map[string]interface{}{
			"addr": cfg.Redis.Addr(),
			"ttl":  cfg.Users.UsernameLockTTL.String(),
		})
	}

	factory.migrationService = database.NewMigrationService(db, database.Dialect(cfg.Database.Driver), log, cfg.Users.SeedRoles)

	factory.initRepositories()
	factory.initServices()

	return factory, nil
}

func (f *AppFactory) initRepositories() {
	var opts []repository.UserRepositoryOption
	if f.redisClient != nil {
		locker := redis.NewUsernameLocker(f.redisClient.Client, f.config.Users.UsernameLockTTL, f.logger)
		opts = append(opts, repository.WithUsernameLocker(locker))
	}

	f.userRepository = repository.NewUserRepository(f.db, f.logger, opts...)
	f.roleRepository = repository.NewRoleRepository(f.db, f.logger)
	f.auditLogRepository = repository.NewAuditLogRepository(f.db, f.logger)
}

func (f *AppFactory) initServices() {
	f.auditLogService = service.NewAuditLogService(f.auditLogRepository, f.logger)
	f.userService = service.NewUserService(f.userRepository, f.auditLogService, f.logger)
}

func (f *AppFactory) GetLogger() logger.Logger {
	return f.logger
}

func (f *AppFactory) GetConfig() *config.Config {
	return f.config
}

func (f *AppFactory) GetDB() *sql.DB {
	return f.db
}

// GetRedisClient returns nil when REDIS_ENABLED is off.
func (f *AppFactory) GetRedisClient() *redis.RedisClient {
	return f.redisClient
}

func (f *AppFactory) GetMigrationService() *database.MigrationService {
	return f.migrationService
}

func (f *AppFactory) GetUserRepository() domain.UserRepository {
	return f.userRepository
}

func (f *AppFactory) GetRoleRepository() domain.RoleRepository {
	return f.roleRepository
}

func (f *AppFactory) GetAuditLogRepository() domain.AuditLogRepository {
	return f.auditLogRepository
}

func (f *AppFactory) GetUserService() domain.UserService {
	return f.userService
}

func (f *AppFactory) GetAuditLogService() domain.AuditLogService {
	return f.auditLogService
}

func (f *AppFactory) Close() error {
	var errs []error
	if f.redisClient != nil {
		if err := f.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("Redis bağlantısı kapatılamadı: %w", err))
		}
	}
	if err := f.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("veritabanı bağlantısı kapatılamadı: %w", err))
	}
	if f.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer kapatılamadı: %w", err))
		}
	}
	return errors.Join(errs...)
}
