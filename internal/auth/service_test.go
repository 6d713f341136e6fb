package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(t, "p-1", "Hr@Company.com", "password-1", RoleHRManager)

	res, err := f.svc.Login(context.Background(), " hr@company.com ", "password-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token == "" || !res.ExpiresAt.Equal(f.now.Add(15*time.Minute)) {
		t.Fatalf("unexpected login result: %+v", res)
	}
	p, err := f.store.FindPrincipalByID(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("FindPrincipalByID: %v", err)
	}
	if p.LastLoginAt == nil || !p.LastLoginAt.Equal(f.now) {
		t.Fatalf("expected last login to be touched, got %v", p.LastLoginAt)
	}
	ac, err := f.svc.Authenticator().AuthenticateToken(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ac.Role() != RoleHRManager {
		t.Fatalf("unexpected role %s", ac.Role())
	}
}

func TestLoginRefusesUniformly(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(t, "p-1", "one@company.com", "password-1", RoleEmployee)
	f.addPrincipal(t, "p-2", "two@company.com", "password-2", RoleEmployee)
	if err := f.store.SetActive("p-2", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	cases := []struct{ email, password string }{
		{"nobody@company.com", "password-1"},
		{"one@company.com", "wrong-password"},
		{"two@company.com", "password-2"},
		{"", ""},
	}
	for _, tc := range cases {
		_, err := f.svc.Login(context.Background(), tc.email, tc.password)
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("login %q: expected ErrUnauthenticated, got %v", tc.email, err)
		}
		if err.Error() == "" {
			t.Fatal("expected error text")
		}
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(t, "p-1", "one@company.com", "password-1", RoleEmployee)
	f.addPrincipal(t, "p-2", "two@company.com", "password-2", RoleEmployee)
	f.addPrincipal(t, "p-admin", "admin@company.com", "password-a", RoleAdmin)

	oldToken := f.token(t, "p-1", RoleEmployee)
	self, err := f.svc.Authenticator().AuthenticateToken(context.Background(), oldToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if _, err := f.svc.ChangePassword(context.Background(), self, "", "short"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.ChangePassword(context.Background(), self, "p-2", "new-password"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for another principal, got %v", err)
	}
	if _, err := f.svc.ChangePassword(context.Background(), AuthContext{}, "p-1", "new-password"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	f.now = f.now.Add(time.Minute)
	change, err := f.svc.ChangePassword(context.Background(), self, "", "new-password")
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if change.Before.PasswordHash == change.After.PasswordHash {
		t.Fatal("expected hash to change")
	}
	if change.After.PasswordChangedAt == nil || !change.After.PasswordChangedAt.Equal(f.now) {
		t.Fatalf("expected password_changed_at to be set, got %v", change.After.PasswordChangedAt)
	}
	if _, err := f.svc.Login(context.Background(), "one@company.com", "password-1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "one@company.com", "new-password"); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
	if _, err := f.svc.Authenticator().AuthenticateToken(context.Background(), oldToken); err != nil {
		t.Fatalf("tokens issued before a password change stay valid: %v", err)
	}

	admin, err := f.svc.Authenticator().AuthenticateToken(context.Background(), f.token(t, "p-admin", RoleAdmin))
	if err != nil {
		t.Fatalf("Authenticate admin: %v", err)
	}
	if _, err := f.svc.ChangePassword(context.Background(), admin, "p-2", "reset-by-admin"); err != nil {
		t.Fatalf("admin ChangePassword: %v", err)
	}
	if _, err := f.svc.ChangePassword(context.Background(), admin, "p-missing", "reset-by-admin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLogoutRevokesCurrentToken(t *testing.T) {
	f := newFixture(t)
	f.addPrincipal(t, "p-1", "one@company.com", "password-1", RoleEmployee)
	first, err := f.svc.Login(context.Background(), "one@company.com", "password-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, err := f.svc.Login(context.Background(), "one@company.com", "password-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	ac, err := f.svc.Authenticator().AuthenticateToken(context.Background(), first.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	revoked, err := f.svc.Logout(context.Background(), ac)
	if err != nil || !revoked {
		t.Fatalf("Logout: revoked=%v err=%v", revoked, err)
	}
	_, err = f.svc.Authenticator().AuthenticateToken(context.Background(), first.Token)
	if RefusalReason(err) != ReasonRevoked {
		t.Fatalf("expected revoked refusal, got %v", err)
	}
	if _, err := f.svc.Authenticator().AuthenticateToken(context.Background(), second.Token); err != nil {
		t.Fatalf("other sessions stay valid: %v", err)
	}

	f.now = f.now.Add(16 * time.Minute)
	if ok, _ := f.revoker.IsRevoked(context.Background(), ac.TokenID()); ok {
		t.Fatal("revocation entries lapse with the token")
	}
}

func TestLogoutWithoutRevoker(t *testing.T) {
	f := newFixture(t)
	svc, err := NewService(f.store, f.hasher, f.codec)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.addPrincipal(t, "p-1", "one@company.com", "password-1", RoleEmployee)
	ac, err := svc.Authenticator().AuthenticateToken(context.Background(), f.token(t, "p-1", RoleEmployee))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	revoked, err := svc.Logout(context.Background(), ac)
	if err != nil || revoked {
		t.Fatalf("expected no-op logout, got revoked=%v err=%v", revoked, err)
	}
}

func TestMemoryStoreEmailUniqueAmongActive(t *testing.T) {
	s := NewMemoryStore()
	if err := s.PutPrincipal(Principal{ID: "a", Email: "x@company.com", Role: RoleEmployee, Active: true}); err != nil {
		t.Fatalf("PutPrincipal: %v", err)
	}
	if err := s.PutPrincipal(Principal{ID: "b", Email: "X@company.com", Role: RoleEmployee, Active: true}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.PutPrincipal(Principal{ID: "b", Email: "x@company.com", Role: RoleEmployee, Active: false}); err != nil {
		t.Fatalf("inactive duplicate should be allowed: %v", err)
	}
	p, err := s.FindPrincipalByEmail(context.Background(), "x@company.com")
	if err != nil || p.ID != "a" {
		t.Fatalf("expected active principal a, got %+v (%v)", p, err)
	}
}

func TestMemoryStoreRollbackKeepsWritesOutsideTx(t *testing.T) {
	s := NewMemoryStore()
	for _, id := range []string{"p1", "p2"} {
		if err := s.PutPrincipal(Principal{ID: id, Email: id + "@company.com", Role: RoleEmployee, PasswordHash: "old", Active: true}); err != nil {
			t.Fatalf("PutPrincipal: %v", err)
		}
	}
	boom := errors.New("audit sink down")

	err := s.InTx(context.Background(), func(ctx context.Context) error {
		if err := s.UpdatePasswordHash(ctx, "p2", "new"); err != nil {
			return err
		}
		if err := s.SetActive("p1", false); err != nil {
			return err
		}
		if err := s.TouchLastLogin(context.Background(), "p1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	p1, err := s.FindPrincipalByID(context.Background(), "p1")
	if err != nil {
		t.Fatalf("FindPrincipalByID: %v", err)
	}
	if p1.Active || p1.LastLoginAt == nil {
		t.Fatalf("writes outside the transaction were reverted: %+v", p1)
	}
	p2, err := s.FindPrincipalByID(context.Background(), "p2")
	if err != nil {
		t.Fatalf("FindPrincipalByID: %v", err)
	}
	if p2.PasswordHash != "old" || p2.PasswordChangedAt != nil {
		t.Fatalf("transactional write survived rollback: %+v", p2)
	}
}
