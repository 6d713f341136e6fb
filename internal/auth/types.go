package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the coarse authorization tier of a principal.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleHRManager Role = "hr_manager"
	RoleManager   Role = "manager"
	RoleEmployee  Role = "employee"
)

// ParseRole normalizes raw and rejects unknown roles.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, raw)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHRManager, RoleManager, RoleEmployee:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// Principal is a user account as held by the credential store.
type Principal struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	Role              Role       `json:"role"`
	Active            bool       `json:"active"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// EmployeeScope is the tenant context attached to a principal through its employee record.
type EmployeeScope struct {
	EmployeeID   string `json:"employee_id"`
	CompanyID    string `json:"company_id"`
	DepartmentID string `json:"department_id,omitempty"`
	Status       string `json:"status"`
}

// ScopeOption holds an EmployeeScope or nothing. The zero value is NoScope.
type ScopeOption struct {
	scope   EmployeeScope
	present bool
}

// SomeScope wraps a resolved scope.
func SomeScope(s EmployeeScope) ScopeOption { return ScopeOption{scope: s, present: true} }

// NoScope is the absent scope, e.g. for a pure admin account.
func NoScope() ScopeOption { return ScopeOption{} }

// Get returns the scope and whether one is attached.
func (o ScopeOption) Get() (EmployeeScope, bool) { return o.scope, o.present }

// Present reports whether a scope is attached.
func (o ScopeOption) Present() bool { return o.present }

// AuthContext is the request-scoped result of a successful authentication. It can only
// be produced by an Authenticator; the zero value is unauthenticated.
type AuthContext struct {
	principalID string
	email       string
	role        Role
	active      bool
	scope       ScopeOption
	tokenID     string
	expiresAt   time.Time
	valid       bool
}

// Authenticated reports whether the context was produced by an Authenticator.
func (c AuthContext) Authenticated() bool { return c.valid }

func (c AuthContext) PrincipalID() string  { return c.principalID }
func (c AuthContext) Email() string        { return c.email }
func (c AuthContext) Role() Role           { return c.role }
func (c AuthContext) Active() bool         { return c.active }
func (c AuthContext) Scope() ScopeOption   { return c.scope }
func (c AuthContext) TokenID() string      { return c.tokenID }
func (c AuthContext) ExpiresAt() time.Time { return c.expiresAt }

// IsRole reports whether the authenticated caller holds one of roles.
func (c AuthContext) IsRole(roles ...Role) bool {
	if !c.valid {
		return false
	}
	for _, r := range roles {
		if c.role == r {
			return true
		}
	}
	return false
}

// View is the JSON representation of an AuthContext returned by /v1/auth/me.
type View struct {
	PrincipalID string         `json:"principal_id"`
	Email       string         `json:"email"`
	Role        Role           `json:"role"`
	Scope       *EmployeeScope `json:"scope"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// View renders the context for API responses.
func (c AuthContext) View() View {
	v := View{
		PrincipalID: c.principalID,
		Email:       c.email,
		Role:        c.role,
		ExpiresAt:   c.expiresAt,
	}
	if s, ok := c.scope.Get(); ok {
		v.Scope = &s
	}
	return v
}
