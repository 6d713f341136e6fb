package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hrgate.org/internal/obs"
)

// Service provides login, logout and password management on top of the Authenticator.
type Service struct {
	store    CredentialStore
	hasher   *Hasher
	codec    *Codec
	revoker  Revoker
	tokenTTL time.Duration
	authn    *Authenticator
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenTTL configures access token lifetime.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl < 0 {
			return fmt.Errorf("%w: token ttl must be positive", ErrValidation)
		}
		if ttl > 0 {
			s.tokenTTL = ttl
		}
		return nil
	}
}

// WithRevoker enables the token revocation list for logout and authentication.
func WithRevoker(r Revoker) ServiceOption {
	return func(s *Service) error {
		s.revoker = r
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store CredentialStore, hasher *Hasher, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if hasher == nil {
		return nil, errors.New("auth: password hasher is required")
	}
	svc := &Service{
		store:    store,
		hasher:   hasher,
		codec:    codec,
		tokenTTL: DefaultTokenTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	authn, err := NewAuthenticator(store, codec, svc.revoker)
	if err != nil {
		return nil, err
	}
	svc.authn = authn
	return svc, nil
}

// Authenticator returns the authenticator sharing this service's store and codec.
func (s *Service) Authenticator() *Authenticator { return s.authn }

// Hasher returns the configured password hasher.
func (s *Service) Hasher() *Hasher { return s.hasher }

// TokenTTL reports the configured access token lifetime.
func (s *Service) TokenTTL() time.Duration { return s.tokenTTL }

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Principal Principal
}

// Login verifies email and password and issues an access token. Unknown emails, inactive
// accounts and wrong passwords are all refused the same way.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		s.hasher.burn(password)
		return s.deny(ctx, ReasonBadCredentials)
	}
	p, err := s.store.FindPrincipalByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.burn(password)
			return s.deny(ctx, ReasonBadCredentials)
		}
		return LoginResult{}, fmt.Errorf("%w: find principal: %w", ErrStoreFailure, err)
	}
	if !s.hasher.Verify(password, p.PasswordHash) {
		return s.deny(ctx, ReasonBadCredentials)
	}
	if !p.Active {
		return s.deny(ctx, ReasonPrincipalInactive)
	}
	token, exp, err := s.issue(p)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.store.TouchLastLogin(ctx, p.ID); err != nil {
		return LoginResult{}, fmt.Errorf("%w: touch last login: %w", ErrStoreFailure, err)
	}
	obs.ObserveAuthDecision("login", "")
	obs.Logger().InfoContext(ctx, "login", "principal_id", p.ID, "role", string(p.Role))
	return LoginResult{Token: token, ExpiresAt: exp, Principal: p}, nil
}

func (s *Service) deny(ctx context.Context, reason string) (LoginResult, error) {
	obs.ObserveAuthDecision("login_deny", reason)
	obs.Logger().InfoContext(ctx, "login refused", "reason", reason)
	return LoginResult{}, refuse(reason, nil)
}

// IssueToken issues a token for an existing active principal without a password check.
// It backs operator tooling.
func (s *Service) IssueToken(ctx context.Context, principalID string) (LoginResult, error) {
	p, err := s.store.FindPrincipalByID(ctx, strings.TrimSpace(principalID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, err
		}
		return LoginResult{}, fmt.Errorf("%w: find principal: %w", ErrStoreFailure, err)
	}
	if !p.Active {
		return LoginResult{}, fmt.Errorf("%w: principal %s is inactive", ErrValidation, p.ID)
	}
	token, exp, err := s.issue(p)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: exp, Principal: p}, nil
}

func (s *Service) issue(p Principal) (string, time.Time, error) {
	exp := s.codec.Now().Add(s.tokenTTL).UTC().Truncate(time.Second)
	token, err := s.codec.Issue(p.ID, p.Role, exp)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// PasswordChange carries the principal before and after a password change. Password
// hashes are never serialized.
type PasswordChange struct {
	Before Principal
	After  Principal
}

// ChangePassword replaces the password of principalID. Callers may change their own
// password; admins may change anyone's. Previously issued tokens stay valid.
func (s *Service) ChangePassword(ctx context.Context, caller AuthContext, principalID, newPassword string) (PasswordChange, error) {
	if !caller.Authenticated() {
		return PasswordChange{}, ErrUnauthenticated
	}
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		principalID = caller.PrincipalID()
	}
	if principalID != caller.PrincipalID() && caller.Role() != RoleAdmin {
		return PasswordChange{}, ErrForbidden
	}
	if err := ValidateNewPassword(newPassword); err != nil {
		return PasswordChange{}, err
	}
	before, err := s.store.FindPrincipalByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PasswordChange{}, err
		}
		return PasswordChange{}, fmt.Errorf("%w: find principal: %w", ErrStoreFailure, err)
	}
	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return PasswordChange{}, err
	}
	if err := s.store.UpdatePasswordHash(ctx, principalID, digest); err != nil {
		return PasswordChange{}, fmt.Errorf("%w: update password: %w", ErrStoreFailure, err)
	}
	after, err := s.store.FindPrincipalByID(ctx, principalID)
	if err != nil {
		return PasswordChange{}, fmt.Errorf("%w: reload principal: %w", ErrStoreFailure, err)
	}
	obs.Logger().InfoContext(ctx, "password changed", "principal_id", principalID, "actor_id", caller.PrincipalID())
	return PasswordChange{Before: before, After: after}, nil
}

// Logout revokes the caller's current token when a revocation list is configured.
// It reports whether a revocation was recorded.
func (s *Service) Logout(ctx context.Context, caller AuthContext) (bool, error) {
	if !caller.Authenticated() {
		return false, ErrUnauthenticated
	}
	if s.revoker == nil || caller.TokenID() == "" {
		return false, nil
	}
	if err := s.revoker.Revoke(ctx, caller.TokenID(), caller.ExpiresAt()); err != nil {
		return false, fmt.Errorf("%w: revoke token: %w", ErrStoreFailure, err)
	}
	return true, nil
}
