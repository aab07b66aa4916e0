package domain

import "context"

const (
	AuthorityAdmin = "ADMIN"
	AuthorityUser  = "USER"
)

type Role struct {
	ID        int64  `json:"id"`
	Authority string `json:"authority"`
}

// Equal compares persisted roles by id and unsaved ones by authority.
func (r Role) Equal(other Role) bool {
	if r.ID != 0 && other.ID != 0 {
		return r.ID == other.ID
	}
	return r.Authority == other.Authority
}

type RoleRepository interface {
	Create(ctx context.Context, role *Role) error
	FindByAuthority(ctx context.Context, authority string) (*Role, error)
	FindAll(ctx context.Context) ([]Role, error)
}
