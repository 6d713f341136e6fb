package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"hrgate.org/internal/audit"
	"hrgate.org/internal/auth"
	"hrgate.org/internal/authz"
	"hrgate.org/internal/directory"
)

const entityDepartment = "department"

type createDepartmentRequest struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
}

// manageCompany lets admins and HR managers of the company change its departments.
func manageCompany(companyID string) authz.Rule {
	return authz.AnyOf(
		authz.Admin(),
		authz.AllOf(authz.Roles(auth.RoleHRManager), authz.Company(companyID)),
	)
}

func (a *API) handleCreateDepartment(w http.ResponseWriter, r *http.Request, ac auth.AuthContext) {
	var req createDepartmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !require(w, r, ac, manageCompany(req.CompanyID)) {
		return
	}
	var created directory.Department
	_, err := a.audit.Mutate(r.Context(), a.tx, func(ctx context.Context) (audit.Entry, error) {
		d, err := a.dir.CreateDepartment(ctx, directory.Department{CompanyID: req.CompanyID, Name: req.Name})
		if err != nil {
			return audit.Entry{}, err
		}
		created = d
		return audit.Entry{
			ActorID:    ac.PrincipalID(),
			Verb:       audit.VerbCreate,
			EntityType: entityDepartment,
			EntityID:   d.ID,
			After:      d,
		}, nil
	})
	if !mutated(w, r, err) {
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/departments/%s", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleGetDepartment(w http.ResponseWriter, r *http.Request, ac auth.AuthContext) {
	d, err := a.dir.GetDepartment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	if !require(w, r, ac, authz.Scoped(d.Target())) {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleUpdateDepartment(w http.ResponseWriter, r *http.Request, ac auth.AuthContext) {
	var patch directory.DepartmentPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	var updated directory.Department
	_, err := a.audit.Mutate(r.Context(), a.tx, func(ctx context.Context) (audit.Entry, error) {
		before, err := a.dir.GetDepartment(ctx, id)
		if err != nil {
			return audit.Entry{}, err
		}
		if err := authz.Require(ac, manageCompany(before.CompanyID)); err != nil {
			return audit.Entry{}, err
		}
		after, err := a.dir.UpdateDepartment(ctx, patch.Apply(before))
		if err != nil {
			return audit.Entry{}, err
		}
		updated = after
		return audit.Entry{
			ActorID:    ac.PrincipalID(),
			Verb:       audit.VerbUpdate,
			EntityType: entityDepartment,
			EntityID:   id,
			Before:     before,
			After:      after,
		}, nil
	})
	if !mutated(w, r, err) {
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeleteDepartment(w http.ResponseWriter, r *http.Request, ac auth.AuthContext) {
	id := r.PathValue("id")
	_, err := a.audit.Mutate(r.Context(), a.tx, func(ctx context.Context) (audit.Entry, error) {
		before, err := a.dir.GetDepartment(ctx, id)
		if err != nil {
			return audit.Entry{}, err
		}
		if err := authz.Require(ac, manageCompany(before.CompanyID)); err != nil {
			return audit.Entry{}, err
		}
		if err := a.dir.DeleteDepartment(ctx, id); err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{
			ActorID:    ac.PrincipalID(),
			Verb:       audit.VerbDelete,
			EntityType: entityDepartment,
			EntityID:   id,
			Before:     before,
		}, nil
	})
	if !mutated(w, r, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListDepartments is a company-scoped read: admins or members of the company.
func (a *API) handleListDepartments(w http.ResponseWriter, r *http.Request, ac auth.AuthContext) {
	companyID := r.PathValue("id")
	if !require(w, r, ac, authz.AnyOf(authz.Admin(), authz.Company(companyID))) {
		return
	}
	list, err := a.dir.ListDepartments(r.Context(), companyID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": list})
}

func (a *API) handleGetEmployee(w http.ResponseWriter, r *http.Request, ac auth.AuthContext) {
	e, err := a.dir.GetEmployee(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	if !require(w, r, ac, authz.Scoped(e.Target())) {
		return
	}
	writeJSON(w, http.StatusOK, e)
}
