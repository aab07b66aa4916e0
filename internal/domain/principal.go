package domain

type AccountStatus struct {
	Enabled               bool `json:"enabled"`
	AccountNonExpired     bool `json:"account_non_expired"`
	AccountNonLocked      bool `json:"account_non_locked"`
	CredentialsNonExpired bool `json:"credentials_non_expired"`
}

// Active reports whether every status flag allows authentication.
func (s AccountStatus) Active() bool {
	return s.Enabled && s.AccountNonExpired && s.AccountNonLocked && s.CredentialsNonExpired
}

// Principal is what an authentication layer needs from an account.
type Principal interface {
	Identity() string
	Credentials() string
	Authorities() []string
	AccountStatus() AccountStatus
}

var _ Principal = (*User)(nil)
