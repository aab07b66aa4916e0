package domain

import (
	"context"
	"fmt"
)

// User is the persisted account record. Two users are equal when their
// usernames are equal, regardless of id.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username" validate:"required,min=3,max=30"`
	Age      int    `json:"age" validate:"gte=0"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"-" validate:"required"`
	Roles    []Role `json:"roles"`
}

func NewUser(username string, age int, email string) *User {
	return &User{
		Username: username,
		Age:      age,
		Email:    email,
		Roles:    []Role{},
	}
}

func (u *User) Equal(other *User) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.Username == other.Username
}

// Key is the map key for in-memory collections of users.
func (u *User) Key() string {
	return u.Username
}

func (u *User) String() string {
	return fmt.Sprintf("User{id=%d, username='%s', age=%d, email='%s'}", u.ID, u.Username, u.Age, u.Email)
}

// AddRole adds role unless a role with the same id is already present.
func (u *User) AddRole(role Role) {
	if u.Roles == nil {
		u.Roles = []Role{}
	}
	for _, r := range u.Roles {
		if r.Equal(role) {
			return
		}
	}
	u.Roles = append(u.Roles, role)
}

// RemoveRole drops the association only; the role itself is untouched.
func (u *User) RemoveRole(role Role) {
	roles := make([]Role, 0, len(u.Roles))
	for _, r := range u.Roles {
		if !r.Equal(role) {
			roles = append(roles, r)
		}
	}
	u.Roles = roles
}

func (u *User) HasAuthority(authority string) bool {
	for _, r := range u.Roles {
		if r.Authority == authority {
			return true
		}
	}
	return false
}

func (u *User) Authorities() []string {
	authorities := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		authorities = append(authorities, r.Authority)
	}
	return authorities
}

func (u *User) Identity() string {
	return u.Username
}

func (u *User) Credentials() string {
	return u.Password
}

// AccountStatus reports an active account; the schema carries no status columns.
func (u *User) AccountStatus() AccountStatus {
	return AccountStatus{
		Enabled:               true,
		AccountNonExpired:     true,
		AccountNonLocked:      true,
		CredentialsNonExpired: true,
	}
}

type UserRepository interface {
	Save(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	RemoveByID(ctx context.Context, id int64) error
	ListAll(ctx context.Context) ([]*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindRolesByAuthorities(ctx context.Context, authorities ...string) ([]Role, error)
	GetByID(ctx context.Context, id int64) (*User, error)
}

type UserService interface {
	Register(ctx context.Context, user *User, authorities ...string) error
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id int64) error
	GetUser(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	AssignRoles(ctx context.Context, id int64, authorities ...string) (*User, error)
	RevokeRole(ctx context.Context, id int64, authority string) (*User, error)
	LoadPrincipal(ctx context.Context, username string) (Principal, error)
}
