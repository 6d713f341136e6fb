package auth

import "context"

type authContextKey struct{}
type tokenContextKey struct{}

// ContextWithAuth attaches an authenticated AuthContext to ctx. Unauthenticated values
// are not stored.
func ContextWithAuth(ctx context.Context, ac AuthContext) context.Context {
	if !ac.valid {
		return ctx
	}
	return context.WithValue(ctx, authContextKey{}, ac)
}

// FromContext extracts the AuthContext placed by the authentication middleware.
func FromContext(ctx context.Context) (AuthContext, bool) {
	if ctx == nil {
		return AuthContext{}, false
	}
	ac, ok := ctx.Value(authContextKey{}).(AuthContext)
	if !ok || !ac.valid {
		return AuthContext{}, false
	}
	return ac, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
