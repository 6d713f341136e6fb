package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"hrgate.org/internal/auth"
	"hrgate.org/internal/ids"
)

var _ auth.CredentialStore = (*Store)(nil)

const principalColumns = `id, email, password_hash, role, active, last_login_at, password_changed_at, created_at, updated_at`

func scanPrincipal(row interface{ Scan(...any) error }) (auth.Principal, error) {
	var (
		p         auth.Principal
		role      string
		lastLogin sql.NullTime
		changedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &role, &p.Active, &lastLogin, &changedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return auth.Principal{}, err
	}
	p.Role = auth.Role(role)
	p.LastLoginAt = timePtr(lastLogin)
	p.PasswordChangedAt = timePtr(changedAt)
	return p, nil
}

// FindPrincipalByEmail prefers the active principal when deactivated ones share the email.
func (s *Store) FindPrincipalByEmail(ctx context.Context, email string) (auth.Principal, error) {
	q, err := s.q(ctx)
	if err != nil {
		return auth.Principal{}, err
	}
	row := q.QueryRowContext(ctx, `
		select `+principalColumns+`
		from principals
		where lower(email) = $1
		order by active desc, updated_at desc
		limit 1
	`, auth.NormalizeEmail(email))
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Principal{}, auth.ErrNotFound
	}
	return p, err
}

func (s *Store) FindPrincipalByID(ctx context.Context, id string) (auth.Principal, error) {
	q, err := s.q(ctx)
	if err != nil {
		return auth.Principal{}, err
	}
	row := q.QueryRowContext(ctx, `select `+principalColumns+` from principals where id = $1`, id)
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Principal{}, auth.ErrNotFound
	}
	return p, err
}

func (s *Store) FindEmployeeScopeByPrincipalID(ctx context.Context, principalID string) (auth.EmployeeScope, error) {
	q, err := s.q(ctx)
	if err != nil {
		return auth.EmployeeScope{}, err
	}
	var (
		sc   auth.EmployeeScope
		dept sql.NullString
	)
	err = q.QueryRowContext(ctx, `
		select id, company_id, department_id, status
		from employees
		where principal_id = $1
	`, principalID).Scan(&sc.EmployeeID, &sc.CompanyID, &dept, &sc.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.EmployeeScope{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.EmployeeScope{}, err
	}
	sc.DepartmentID = dept.String
	return sc, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, principalID, hash string) error {
	q, err := s.q(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		update principals
		set password_hash = $2, password_changed_at = now(), updated_at = now()
		where id = $1
	`, principalID, hash)
	if err != nil {
		return err
	}
	return expectOneRow(res, auth.ErrNotFound)
}

func (s *Store) TouchLastLogin(ctx context.Context, principalID string) error {
	q, err := s.q(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `update principals set last_login_at = now() where id = $1`, principalID)
	if err != nil {
		return err
	}
	return expectOneRow(res, auth.ErrNotFound)
}

// CreatePrincipal inserts a principal. A duplicate active email maps to auth.ErrConflict.
func (s *Store) CreatePrincipal(ctx context.Context, p auth.Principal) (auth.Principal, error) {
	q, err := s.q(ctx)
	if err != nil {
		return auth.Principal{}, err
	}
	if !p.Role.Valid() {
		return auth.Principal{}, fmt.Errorf("%w: unknown role %q", auth.ErrValidation, p.Role)
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = ids.WithPrefix("usr")
	}
	row := q.QueryRowContext(ctx, `
		insert into principals (id, email, password_hash, role, active)
		values ($1, $2, $3, $4, $5)
		returning `+principalColumns,
		p.ID, auth.NormalizeEmail(p.Email), p.PasswordHash, string(p.Role), p.Active)
	created, err := scanPrincipal(row)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.Principal{}, auth.ErrConflict
		}
		return auth.Principal{}, err
	}
	return created, nil
}

// SetPrincipalActive flips the soft-delete flag.
func (s *Store) SetPrincipalActive(ctx context.Context, principalID string, active bool) error {
	q, err := s.q(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `update principals set active = $2, updated_at = now() where id = $1`, principalID, active)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		return err
	}
	return expectOneRow(res, auth.ErrNotFound)
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
