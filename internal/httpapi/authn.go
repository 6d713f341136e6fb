package httpapi

import (
	"errors"
	"net/http"

	"hrgate.org/internal/audit"
	"hrgate.org/internal/auth"
	"hrgate.org/internal/authz"
	"hrgate.org/internal/directory"
	"hrgate.org/internal/obs"
)

type authedHandler func(w http.ResponseWriter, r *http.Request, ac auth.AuthContext)

// authed authenticates the bearer token on every call and hands the resulting context to h.
func (a *API) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, err := a.authn.AuthenticateRequest(r)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		token, _ := auth.BearerToken(r.Header.Get("Authorization"))
		ctx := auth.ContextWithAuth(r.Context(), ac)
		ctx = auth.ContextWithToken(ctx, token)
		h(w, r.WithContext(ctx), ac)
	}
}

// require checks rule and writes the refusal when it fails.
func require(w http.ResponseWriter, r *http.Request, ac auth.AuthContext, rule authz.Rule) bool {
	if err := authz.Require(ac, rule); err != nil {
		obs.Logger().DebugContext(r.Context(), "authorization denied",
			"principal_id", ac.PrincipalID(), "role", string(ac.Role()), "path", r.URL.Path)
		writeAuthError(w, r, err)
		return false
	}
	return true
}

// auditStatusHeader flags a committed change whose audit record was lost under the
// fail-open policy.
const auditStatusHeader = "X-Audit-Status"

// mutated reports whether the change behind a Writer.Mutate result was committed,
// writing the error response when it was not.
func mutated(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, audit.ErrNotRecorded) {
		w.Header().Set(auditStatusHeader, "not-recorded")
		return true
	}
	writeAuthError(w, r, err)
	return false
}

// writeAuthError is the single mapping from domain errors to HTTP responses. Refusals
// never carry their internal reason.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		w.Header().Set("WWW-Authenticate", `Bearer realm="hrgate"`)
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "access denied")
	case errors.Is(err, auth.ErrStoreFailure), errors.Is(err, audit.ErrWriteFailed):
		obs.Logger().ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	case errors.Is(err, auth.ErrValidation), errors.Is(err, directory.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, directory.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrConflict), errors.Is(err, directory.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.Logger().ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
