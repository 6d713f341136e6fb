package httpapi

import (
	"context"
	"net/http"
	"time"

	"hrgate.org/internal/audit"
	"hrgate.org/internal/auth"
)

// entityUser is the audit entity type for principal changes.
const entityUser = "user"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string        `json:"token"`
	TokenType string        `json:"token_type"`
	ExpiresAt time.Time     `json:"expires_at"`
	Principal principalView `json:"principal"`
}

type principalView struct {
	ID    string    `json:"id"`
	Email string    `json:"email"`
	Role  auth.Role `json:"role"`
}

type changePasswordRequest struct {
	PrincipalID string `json:"principal_id"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		TokenType: "Bearer",
		ExpiresAt: res.ExpiresAt,
		Principal: principalView{ID: res.Principal.ID, Email: res.Principal.Email, Role: res.Principal.Role},
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request, ac auth.AuthContext) {
	revoked, err := a.svc.Logout(r.Context(), ac)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request, ac auth.AuthContext) {
	writeJSON(w, http.StatusOK, ac.View())
}

// handleChangePassword replaces a password and records an UPDATE on the user entity.
// The snapshots never contain the hash.
func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request, ac auth.AuthContext) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	_, err := a.audit.Mutate(r.Context(), a.tx, func(ctx context.Context) (audit.Entry, error) {
		change, err := a.svc.ChangePassword(ctx, ac, req.PrincipalID, req.NewPassword)
		if err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{
			ActorID:    ac.PrincipalID(),
			Verb:       audit.VerbUpdate,
			EntityType: entityUser,
			EntityID:   change.After.ID,
			Before:     change.Before,
			After:      change.After,
		}, nil
	})
	if !mutated(w, r, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
