// Package authz holds the scope predicates every endpoint composes into its access rule.
//
// All predicates share two invariants: an admin caller passes every predicate, and a
// caller without an employee scope fails every scoped predicate. The zero AuthContext
// fails everything.
package authz

import (
	"hrgate.org/internal/auth"
	"hrgate.org/internal/obs"
)

// Target carries the scope fields of the resource being accessed. Empty fields never match.
type Target struct {
	CompanyID       string
	DepartmentID    string
	OwnerEmployeeID string
}

// IsAdmin reports whether the caller is an authenticated admin.
func IsAdmin(ac auth.AuthContext) bool {
	return ac.IsRole(auth.RoleAdmin)
}

// SameCompany reports whether the resource belongs to the caller's company.
func SameCompany(ac auth.AuthContext, companyID string) bool {
	if IsAdmin(ac) {
		return true
	}
	s, ok := scopeOf(ac)
	return ok && companyID != "" && s.CompanyID == companyID
}

// SameDepartment reports whether the resource belongs to the caller's department.
func SameDepartment(ac auth.AuthContext, departmentID string) bool {
	if IsAdmin(ac) {
		return true
	}
	s, ok := scopeOf(ac)
	return ok && departmentID != "" && s.DepartmentID == departmentID
}

// IsSelf reports whether the resource is owned by the caller's employee record.
func IsSelf(ac auth.AuthContext, ownerEmployeeID string) bool {
	if IsAdmin(ac) {
		return true
	}
	s, ok := scopeOf(ac)
	return ok && ownerEmployeeID != "" && s.EmployeeID == ownerEmployeeID
}

// HasRole reports whether the caller holds one of roles.
func HasRole(ac auth.AuthContext, roles ...auth.Role) bool {
	return IsAdmin(ac) || ac.IsRole(roles...)
}

func scopeOf(ac auth.AuthContext) (auth.EmployeeScope, bool) {
	if !ac.Authenticated() {
		return auth.EmployeeScope{}, false
	}
	return ac.Scope().Get()
}

// Rule is a composable access decision.
type Rule func(auth.AuthContext) bool

// Admin allows admins only.
func Admin() Rule { return IsAdmin }

// Company allows callers in companyID.
func Company(companyID string) Rule {
	return func(ac auth.AuthContext) bool { return SameCompany(ac, companyID) }
}

// Department allows callers in departmentID.
func Department(departmentID string) Rule {
	return func(ac auth.AuthContext) bool { return SameDepartment(ac, departmentID) }
}

// Self allows the owner of the resource.
func Self(ownerEmployeeID string) Rule {
	return func(ac auth.AuthContext) bool { return IsSelf(ac, ownerEmployeeID) }
}

// Roles allows callers holding one of roles.
func Roles(roles ...auth.Role) Rule {
	return func(ac auth.AuthContext) bool { return HasRole(ac, roles...) }
}

// AnyOf passes when at least one rule passes. An empty AnyOf denies.
func AnyOf(rules ...Rule) Rule {
	return func(ac auth.AuthContext) bool {
		for _, r := range rules {
			if r != nil && r(ac) {
				return true
			}
		}
		return false
	}
}

// AllOf passes when every rule passes. An empty AllOf denies.
func AllOf(rules ...Rule) Rule {
	return func(ac auth.AuthContext) bool {
		if len(rules) == 0 {
			return false
		}
		for _, r := range rules {
			if r == nil || !r(ac) {
				return false
			}
		}
		return true
	}
}

// Scoped applies the role precedence policy: admins pass; callers without an employee
// scope fail; a resource in another company fails; otherwise the narrowest scope for the
// caller's role decides (self for employees, department or self for managers, company for
// HR managers).
func Scoped(t Target) Rule {
	return func(ac auth.AuthContext) bool {
		if IsAdmin(ac) {
			return true
		}
		s, ok := scopeOf(ac)
		if !ok {
			return false
		}
		if t.CompanyID != "" && t.CompanyID != s.CompanyID {
			return false
		}
		switch ac.Role() {
		case auth.RoleEmployee:
			return IsSelf(ac, t.OwnerEmployeeID)
		case auth.RoleManager:
			return SameDepartment(ac, t.DepartmentID) || IsSelf(ac, t.OwnerEmployeeID)
		case auth.RoleHRManager:
			return SameCompany(ac, t.CompanyID)
		default:
			return false
		}
	}
}

// Require evaluates rule for ac. It returns auth.ErrUnauthenticated for an
// unauthenticated context and auth.ErrForbidden when the rule denies.
func Require(ac auth.AuthContext, rule Rule) error {
	if !ac.Authenticated() {
		return auth.ErrUnauthenticated
	}
	if rule == nil || !rule(ac) {
		obs.ObserveAuthzDenial()
		return auth.ErrForbidden
	}
	return nil
}
