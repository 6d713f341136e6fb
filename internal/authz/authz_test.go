package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrgate.org/internal/auth"
)

type callers struct {
	store *auth.MemoryStore
	codec *auth.Codec
	authn *auth.Authenticator
}

func newCallers(t *testing.T) *callers {
	t.Helper()
	store := auth.NewMemoryStore()
	codec, err := auth.NewCodec([]byte("authz-test-secret-authz-test-secret"))
	require.NoError(t, err)
	authn, err := auth.NewAuthenticator(store, codec, nil)
	require.NoError(t, err)
	return &callers{store: store, codec: codec, authn: authn}
}

// as authenticates a fresh principal with role and optional scope.
func (c *callers) as(t *testing.T, id string, role auth.Role, scope *auth.EmployeeScope) auth.AuthContext {
	t.Helper()
	require.NoError(t, c.store.PutPrincipal(auth.Principal{ID: id, Email: id + "@company.com", Role: role, Active: true}))
	if scope != nil {
		c.store.PutScope(id, *scope)
	}
	tok, err := c.codec.Issue(id, role, time.Now().Add(time.Hour))
	require.NoError(t, err)
	ac, err := c.authn.AuthenticateToken(context.Background(), tok)
	require.NoError(t, err)
	return ac
}

var (
	scopeE1 = &auth.EmployeeScope{EmployeeID: "e-1", CompanyID: "c-1", DepartmentID: "d-1", Status: "active"}
	scopeE2 = &auth.EmployeeScope{EmployeeID: "e-2", CompanyID: "c-1", DepartmentID: "d-2", Status: "active"}
)

func TestAdminPassesEveryPredicate(t *testing.T) {
	c := newCallers(t)
	admin := c.as(t, "admin", auth.RoleAdmin, nil)

	targets := []Target{
		{},
		{CompanyID: "c-9", DepartmentID: "d-9", OwnerEmployeeID: "e-9"},
		{CompanyID: "c-1"},
	}
	for _, tg := range targets {
		assert.True(t, IsAdmin(admin))
		assert.True(t, SameCompany(admin, tg.CompanyID))
		assert.True(t, SameDepartment(admin, tg.DepartmentID))
		assert.True(t, IsSelf(admin, tg.OwnerEmployeeID))
		assert.True(t, HasRole(admin, auth.RoleHRManager))
		assert.True(t, Scoped(tg)(admin))
		assert.NoError(t, Require(admin, Scoped(tg)))
	}
}

func TestIsSelfForEmployee(t *testing.T) {
	c := newCallers(t)
	emp := c.as(t, "emp", auth.RoleEmployee, scopeE1)

	assert.True(t, IsSelf(emp, "e-1"))
	assert.False(t, IsSelf(emp, "e-2"))
	assert.False(t, IsSelf(emp, ""))
	assert.False(t, IsAdmin(emp))
}

func TestScopedPrecedence(t *testing.T) {
	c := newCallers(t)
	emp := c.as(t, "emp", auth.RoleEmployee, scopeE1)
	mgr := c.as(t, "mgr", auth.RoleManager, scopeE2)
	hr := c.as(t, "hr", auth.RoleHRManager, &auth.EmployeeScope{EmployeeID: "e-3", CompanyID: "c-1", Status: "active"})
	hrNoScope := c.as(t, "hr-ghost", auth.RoleHRManager, nil)
	empNoScope := c.as(t, "emp-ghost", auth.RoleEmployee, nil)

	cases := []struct {
		name   string
		caller auth.AuthContext
		target Target
		want   bool
	}{
		{"employee own record", emp, Target{CompanyID: "c-1", DepartmentID: "d-1", OwnerEmployeeID: "e-1"}, true},
		{"employee colleague record", emp, Target{CompanyID: "c-1", DepartmentID: "d-1", OwnerEmployeeID: "e-4"}, false},
		{"employee department resource", emp, Target{CompanyID: "c-1", DepartmentID: "d-1"}, false},
		{"manager own department", mgr, Target{CompanyID: "c-1", DepartmentID: "d-2", OwnerEmployeeID: "e-5"}, true},
		{"manager other department", mgr, Target{CompanyID: "c-1", DepartmentID: "d-1", OwnerEmployeeID: "e-1"}, false},
		{"manager own record elsewhere", mgr, Target{CompanyID: "c-1", DepartmentID: "d-7", OwnerEmployeeID: "e-2"}, true},
		{"manager other company", mgr, Target{CompanyID: "c-2", DepartmentID: "d-2"}, false},
		{"hr same company", hr, Target{CompanyID: "c-1", DepartmentID: "d-8"}, true},
		{"hr other company", hr, Target{CompanyID: "c-2"}, false},
		{"hr target without company", hr, Target{DepartmentID: "d-1"}, false},
		{"hr without scope", hrNoScope, Target{CompanyID: "c-1"}, false},
		{"employee without scope", empNoScope, Target{OwnerEmployeeID: ""}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Scoped(tc.target)(tc.caller))
		})
	}
}

func TestNoScopeFailsEveryScopedPredicate(t *testing.T) {
	c := newCallers(t)
	hr := c.as(t, "hr", auth.RoleHRManager, nil)

	assert.False(t, SameCompany(hr, "c-1"))
	assert.False(t, SameDepartment(hr, "d-1"))
	assert.False(t, IsSelf(hr, "e-1"))
	assert.True(t, HasRole(hr, auth.RoleHRManager))
	assert.ErrorIs(t, Require(hr, Company("c-1")), auth.ErrForbidden)
}

func TestComposition(t *testing.T) {
	c := newCallers(t)
	mgr := c.as(t, "mgr", auth.RoleManager, scopeE2)

	assert.True(t, AnyOf(Admin(), Department("d-2"))(mgr))
	assert.False(t, AnyOf(Admin(), Department("d-1"))(mgr))
	assert.True(t, AllOf(Roles(auth.RoleManager), Company("c-1"))(mgr))
	assert.False(t, AllOf(Roles(auth.RoleHRManager), Company("c-1"))(mgr))
	assert.False(t, AnyOf()(mgr))
	assert.False(t, AllOf()(mgr))
	assert.False(t, AllOf(Company("c-1"), nil)(mgr))
}

func TestRequire(t *testing.T) {
	c := newCallers(t)
	emp := c.as(t, "emp", auth.RoleEmployee, scopeE1)

	require.NoError(t, Require(emp, Self("e-1")))
	assert.ErrorIs(t, Require(emp, Self("e-2")), auth.ErrForbidden)
	assert.ErrorIs(t, Require(emp, nil), auth.ErrForbidden)
	assert.ErrorIs(t, Require(auth.AuthContext{}, Admin()), auth.ErrUnauthenticated)
}

func TestZeroContextFailsEverything(t *testing.T) {
	var zero auth.AuthContext
	assert.False(t, IsAdmin(zero))
	assert.False(t, SameCompany(zero, ""))
	assert.False(t, SameDepartment(zero, "d-1"))
	assert.False(t, IsSelf(zero, "e-1"))
	assert.False(t, HasRole(zero, auth.RoleEmployee))
	assert.False(t, Scoped(Target{})(zero))
}
