package model

import "time"

const (
	StatusPending         = "pending"
	StatusVerified        = "verified"
	StatusAccountsCreated = "accounts_created"
	StatusFailed          = "failed"
)

// Signup is one registration record per email address.
type Signup struct {
	ID                    int64      `json:"id"`
	Email                 string     `json:"email"`
	PasswordHash          string     `json:"-"`
	VerificationToken     *string    `json:"-"`
	TokenExpiresAt        time.Time  `json:"token_expires_at"`
	Status                string     `json:"status"`
	EmailVerifiedAt       *time.Time `json:"email_verified_at"`
	DemoLogin             *string    `json:"demo_login"`
	RealLogin             *string    `json:"real_login"`
	AccountPasswordSynced bool       `json:"account_password_synced"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// HasAccount reports whether any trading login is linked.
func (s *Signup) HasAccount() bool {
	return (s.DemoLogin != nil && *s.DemoLogin != "") || (s.RealLogin != nil && *s.RealLogin != "")
}

// PrimaryLogin returns the live login when present, otherwise the demo login.
func (s *Signup) PrimaryLogin() string {
	if s.RealLogin != nil && *s.RealLogin != "" {
		return *s.RealLogin
	}
	if s.DemoLogin != nil {
		return *s.DemoLogin
	}
	return ""
}

// Owns reports whether login is one of the record's linked logins.
func (s *Signup) Owns(login string) bool {
	if login == "" {
		return false
	}
	return (s.DemoLogin != nil && *s.DemoLogin == login) || (s.RealLogin != nil && *s.RealLogin == login)
}

// AccountType returns "real", "demo" or "" for the given login.
func (s *Signup) AccountType(login string) string {
	switch {
	case s.RealLogin != nil && *s.RealLogin == login:
		return "real"
	case s.DemoLogin != nil && *s.DemoLogin == login:
		return "demo"
	default:
		return ""
	}
}
