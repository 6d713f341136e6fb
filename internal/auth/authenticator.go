package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"hrgate.org/internal/obs"
)

// ReasonUnknownRole is used when the stored role of a principal is not recognized.
const ReasonUnknownRole = "unknown_role"

// Authenticator turns a bearer credential into an AuthContext. Role, active flag and
// scope always come from the store, never from token claims.
type Authenticator struct {
	store   CredentialStore
	codec   *Codec
	revoker Revoker
}

// NewAuthenticator wires an Authenticator to an explicit store handle. revoker may be nil.
func NewAuthenticator(store CredentialStore, codec *Codec, revoker Revoker) (*Authenticator, error) {
	if store == nil {
		return nil, errors.New("auth: credential store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	return &Authenticator{store: store, codec: codec, revoker: revoker}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", refuse(ReasonMissingCredential, nil)
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", refuse(ReasonBadScheme, nil)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", refuse(ReasonMissingCredential, nil)
	}
	return token, nil
}

// AuthenticateRequest authenticates the Authorization header of r.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (AuthContext, error) {
	return a.Authenticate(r.Context(), r.Header.Get("Authorization"))
}

// Authenticate validates the header and re-resolves the principal. Refusals match
// ErrUnauthenticated; store problems match ErrStoreFailure.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (AuthContext, error) {
	ac, err := a.authenticate(ctx, header)
	switch {
	case err == nil:
		obs.ObserveAuthDecision("allow", "")
	case errors.Is(err, ErrUnauthenticated):
		reason := RefusalReason(err)
		obs.ObserveAuthDecision("deny", reason)
		obs.Logger().DebugContext(ctx, "authentication refused", "reason", reason)
	default:
		obs.ObserveAuthDecision("error", "store")
		obs.Logger().ErrorContext(ctx, "authentication store failure", "error", err)
	}
	return ac, err
}

// AuthenticateToken is Authenticate for a raw token without the Bearer scheme.
func (a *Authenticator) AuthenticateToken(ctx context.Context, token string) (AuthContext, error) {
	return a.Authenticate(ctx, "Bearer "+token)
}

func (a *Authenticator) authenticate(ctx context.Context, header string) (AuthContext, error) {
	token, err := BearerToken(header)
	if err != nil {
		return AuthContext{}, err
	}
	claims, err := a.codec.Parse(token)
	if err != nil {
		var inv *InvalidTokenError
		if errors.As(err, &inv) {
			return AuthContext{}, refuse("token_"+inv.Reason, err)
		}
		return AuthContext{}, refuse("token_"+ReasonMalformed, err)
	}
	if a.revoker != nil && claims.TokenID != "" {
		revoked, err := a.revoker.IsRevoked(ctx, claims.TokenID)
		if err != nil {
			return AuthContext{}, fmt.Errorf("%w: revocation lookup: %w", ErrStoreFailure, err)
		}
		if revoked {
			return AuthContext{}, refuse(ReasonRevoked, nil)
		}
	}
	p, err := a.store.FindPrincipalByID(ctx, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthContext{}, refuse(ReasonPrincipalMissing, nil)
		}
		return AuthContext{}, fmt.Errorf("%w: find principal: %w", ErrStoreFailure, err)
	}
	if !p.Active {
		return AuthContext{}, refuse(ReasonPrincipalInactive, nil)
	}
	if !p.Role.Valid() {
		return AuthContext{}, refuse(ReasonUnknownRole, nil)
	}
	scope, err := a.resolveScope(ctx, p.ID)
	if err != nil {
		return AuthContext{}, err
	}
	return AuthContext{
		principalID: p.ID,
		email:       p.Email,
		role:        p.Role,
		active:      p.Active,
		scope:       scope,
		tokenID:     claims.TokenID,
		expiresAt:   claims.ExpiresAt,
		valid:       true,
	}, nil
}

func (a *Authenticator) resolveScope(ctx context.Context, principalID string) (ScopeOption, error) {
	s, err := a.store.FindEmployeeScopeByPrincipalID(ctx, principalID)
	if errors.Is(err, ErrNotFound) {
		return NoScope(), nil
	}
	if err != nil {
		return NoScope(), fmt.Errorf("%w: find employee scope: %w", ErrStoreFailure, err)
	}
	return SomeScope(s), nil
}
