package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userstore/internal/config"
	"userstore/internal/database"
	"userstore/internal/domain"
	dbconn "userstore/pkg/database"
	"userstore/pkg/logger"
	"userstore/pkg/redis"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := dbconn.Open(ctx, config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "users.db"),
		MaxIdleConns: 1,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrations := database.NewMigrationService(db, database.DialectSQLite, logger.Nop(), []string{"ADMIN", "USER"})
	require.NoError(t, migrations.RunMigrations(ctx))

	return db
}

func newUser(username string, age int) *domain.User {
	u := domain.NewUser(username, age, username+"@x.com")
	u.Password = "p"
	return u
}

func mustSave(t *testing.T, repo *UserRepository, user *domain.User) *domain.User {
	t.Helper()
	require.NoError(t, repo.Save(context.Background(), user))
	require.NotZero(t, user.ID)
	return user
}

func usernames(users []*domain.User) []string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return names
}

func TestUserRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	saved := mustSave(t, repo, newUser("alice", 30))

	byName, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.True(t, byName.Equal(saved))
	assert.Equal(t, saved.ID, byName.ID)
	assert.Equal(t, 30, byName.Age)
	assert.Equal(t, "alice@x.com", byName.Email)
	assert.Equal(t, "p", byName.Password)
	assert.NotNil(t, byName.Roles)
	assert.Empty(t, byName.Roles)

	byID, err := repo.GetByID(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "alice", byID.Username)
}

func TestUserRepository_SaveIgnoresIncomingID(t *testing.T) {
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	first := mustSave(t, repo, newUser("alice", 30))

	second := newUser("bobby", 40)
	second.ID = first.ID
	mustSave(t, repo, second)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestUserRepository_SaveWithRoles(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	roles, err := repo.FindRolesByAuthorities(ctx, "ADMIN", "USER")
	require.NoError(t, err)
	require.Len(t, roles, 2)

	user := newUser("alice", 30)
	user.Roles = append(roles, roles[0])
	user.AddRole(domain.Role{Authority: "USER"})
	mustSave(t, repo, user)
	assert.Len(t, user.Roles, 2)

	found, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ADMIN", "USER"}, found.Authorities())
}

func TestUserRepository_SaveConstraintViolationIsPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	mustSave(t, repo, newUser("alice", 30))

	err := repo.Save(ctx, newUser("alice", 31))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailure)
	assert.ErrorIs(t, err, domain.ErrDuplicateUsername)

	users, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, usernames(users))
	assert.Equal(t, 30, users[0].Age)
}

func TestUserRepository_SaveLeavesNoPartialRecord(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	user := newUser("alice", 30)
	user.Roles = []domain.Role{{ID: 999, Authority: "GHOST"}}

	err := repo.Save(ctx, user)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailure)
	assert.Zero(t, user.ID)

	user.Roles = []domain.Role{{Authority: "MISSING"}}
	err = repo.Save(ctx, user)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailure)
	assert.ErrorIs(t, err, domain.ErrRoleNotFound)

	users, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	found, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestUserRepository_SaveValidation(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	tests := []struct {
		name   string
		mutate func(u *domain.User)
	}{
		{"short username", func(u *domain.User) { u.Username = "al" }},
		{"negative age", func(u *domain.User) { u.Age = -1 }},
		{"empty email", func(u *domain.User) { u.Email = "" }},
		{"malformed email", func(u *domain.User) { u.Email = "alice" }},
		{"empty password", func(u *domain.User) { u.Password = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := newUser("alice", 30)
			tt.mutate(user)

			err := repo.Save(ctx, user)
			assert.ErrorIs(t, err, domain.ErrPersistenceFailure)
			assert.ErrorIs(t, err, domain.ErrInvalidUser)
		})
	}

	users, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestUserRepository_UpdateDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	alice := mustSave(t, repo, newUser("alice", 30))
	bob := mustSave(t, repo, newUser("bobby", 40))

	rename := newUser("alice", 41)
	rename.ID = bob.ID
	err := repo.Update(ctx, rename)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateUsername)

	storedBob, err := repo.GetByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "bobby", storedBob.Username)
	assert.Equal(t, 40, storedBob.Age)

	storedAlice, err := repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, storedAlice.Age)
}

func TestUserRepository_UpdateOverwritesAllFields(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	alice := mustSave(t, repo, newUser("alice", 30))
	mustSave(t, repo, newUser("bobby", 40))

	sameName := &domain.User{ID: alice.ID, Username: "alice", Age: 31, Email: "new@x.com", Password: "q"}
	require.NoError(t, repo.Update(ctx, sameName))

	renamed := &domain.User{ID: alice.ID, Username: "alicia", Age: 32, Email: "alicia@x.com", Password: "r"}
	require.NoError(t, repo.Update(ctx, renamed))

	users, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, []string{"alicia", "bobby"}, usernames(users))
	assert.Equal(t, alice.ID, users[0].ID)
	assert.Equal(t, 32, users[0].Age)
	assert.Equal(t, "alicia@x.com", users[0].Email)
	assert.Equal(t, "r", users[0].Password)

	gone, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestUserRepository_UpdateReplacesRoles(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	user := newUser("alice", 30)
	user.Roles = []domain.Role{{Authority: "ADMIN"}, {Authority: "USER"}}
	mustSave(t, repo, user)

	user.Roles = []domain.Role{{Authority: "USER"}}
	require.NoError(t, repo.Update(ctx, user))

	found, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"USER"}, found.Authorities())

	roles, err := repo.FindRolesByAuthorities(ctx, "ADMIN")
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestUserRepository_UpdateUnknownID(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	ghost := newUser("ghost", 1)
	ghost.ID = 4242

	err := repo.Update(ctx, ghost)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	users, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestUserRepository_UpdateValidation(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	alice := mustSave(t, repo, newUser("alice", 30))
	alice.Age = -5

	err := repo.Update(ctx, alice)
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	stored, err := repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, stored.Age)
}

func TestUserRepository_RemoveByID(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	alice := newUser("alice", 30)
	alice.Roles = []domain.Role{{Authority: "ADMIN"}}
	mustSave(t, repo, alice)
	mustSave(t, repo, newUser("bobby", 40))

	require.NoError(t, repo.RemoveByID(ctx, 9999))

	users, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bobby"}, usernames(users))

	require.NoError(t, repo.RemoveByID(ctx, alice.ID))
	require.NoError(t, repo.RemoveByID(ctx, alice.ID))

	users, err = repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bobby"}, usernames(users))

	gone, err := repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	roles, err := repo.FindRolesByAuthorities(ctx, "ADMIN")
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestUserRepository_ListAllLoadsRolesInIDOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	for _, name := range []string{"carol", "alice", "bobby"} {
		u := newUser(name, 20)
		u.Roles = []domain.Role{{Authority: "USER"}}
		if name == "alice" {
			u.AddRole(domain.Role{Authority: "ADMIN"})
		}
		mustSave(t, repo, u)
	}

	users, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "alice", "bobby"}, usernames(users))
	assert.Equal(t, []string{"USER"}, users[0].Authorities())
	assert.Equal(t, []string{"ADMIN", "USER"}, users[1].Authorities())

	for i := 1; i < len(users); i++ {
		assert.Less(t, users[i-1].ID, users[i].ID)
	}
}

func TestUserRepository_NotFoundIsNotAnError(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	byName, err := repo.FindByUsername(ctx, "nobody")
	assert.NoError(t, err)
	assert.Nil(t, byName)

	byID, err := repo.GetByID(ctx, 1)
	assert.NoError(t, err)
	assert.Nil(t, byID)

	users, err := repo.ListAll(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, users)
	assert.Empty(t, users)
}

func TestUserRepository_FindRolesByAuthorities(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewUserRepository(db, logger.Nop())

	require.NoError(t, NewRoleRepository(db, logger.Nop()).Create(ctx, &domain.Role{Authority: "AUDITOR"}))

	for _, name := range []string{"alice", "bobby", "carol"} {
		u := newUser(name, 20)
		u.Roles = []domain.Role{{Authority: "ADMIN"}, {Authority: "USER"}}
		mustSave(t, repo, u)
	}

	roles, err := repo.FindRolesByAuthorities(ctx, "ADMIN", "USER")
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "ADMIN", roles[0].Authority)
	assert.Equal(t, "USER", roles[1].Authority)

	roles, err = repo.FindRolesByAuthorities(ctx, "USER", "USER", "UNKNOWN")
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "USER", roles[0].Authority)

	roles, err = repo.FindRolesByAuthorities(ctx)
	require.NoError(t, err)
	assert.NotNil(t, roles)
	assert.Empty(t, roles)
}

func TestUserRepository_RenameConflictScenario(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), logger.Nop())

	require.NoError(t, repo.Save(ctx, &domain.User{Username: "alice", Age: 30, Email: "a@x.com", Password: "p"}))

	alice, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, alice)
	require.NotZero(t, alice.ID)

	require.NoError(t, repo.Update(ctx, &domain.User{ID: alice.ID, Username: "alice", Age: 31, Email: "a@x.com", Password: "p"}))

	alice, err = repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 31, alice.Age)

	other := mustSave(t, repo, &domain.User{Username: "bobby", Age: 25, Email: "b@x.com", Password: "p"})
	err = repo.Update(ctx, &domain.User{ID: other.ID, Username: "alice", Age: 25, Email: "b@x.com", Password: "p"})
	assert.ErrorIs(t, err, domain.ErrDuplicateUsername)
}

func TestUserRepository_WithTxUsesCallerTransaction(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewUserRepository(db, logger.Nop())

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	txRepo := repo.WithTx(tx)
	user := newUser("alice", 30)
	user.Roles = []domain.Role{{Authority: "USER"}}
	require.NoError(t, txRepo.Save(ctx, user))

	inTx, err := txRepo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, inTx)
	assert.Equal(t, []string{"USER"}, inTx.Authorities())

	require.NoError(t, tx.Rollback())

	after, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, after)
}

func TestUserRepository_UpdateHonoursUsernameLock(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := redis.NewUsernameLocker(client, 5*time.Second, logger.Nop())

	repo := NewUserRepository(newTestDB(t), logger.Nop(), WithUsernameLocker(locker))
	alice := mustSave(t, repo, newUser("alice", 30))

	release, err := locker.Lock(ctx, "alice")
	require.NoError(t, err)

	alice.Age = 31
	err = repo.Update(ctx, alice)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	release()
	require.NoError(t, repo.Update(ctx, alice))
	assert.False(t, mr.Exists("userstore:lock:username:alice"))

	stored, err := repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 31, stored.Age)
}

func TestIsUniqueViolation(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Exec(`INSERT INTO users (username, age, email, password) VALUES ($1, $2, $3, $4)`, "alice", 1, "a@x.com", "p")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (username, age, email, password) VALUES ($1, $2, $3, $4)`, "alice", 2, "b@x.com", "p")
	require.Error(t, err)

	assert.True(t, isUniqueViolation(err))
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}
