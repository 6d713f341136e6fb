package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hrgate.org/internal/directory"
	"hrgate.org/internal/ids"
)

var _ directory.Store = (*Store)(nil)

func (s *Store) CreateDepartment(ctx context.Context, d directory.Department) (directory.Department, error) {
	q, err := s.q(ctx)
	if err != nil {
		return directory.Department{}, err
	}
	d, err = directory.NormalizeDepartment(d)
	if err != nil {
		return directory.Department{}, err
	}
	if d.ID == "" {
		d.ID = ids.WithPrefix("dep")
	}
	err = q.QueryRowContext(ctx, `
		insert into departments (id, company_id, name)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, d.ID, d.CompanyID, d.Name).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return directory.Department{}, fmt.Errorf("%w: department %q already exists", directory.ErrConflict, d.Name)
		}
		return directory.Department{}, err
	}
	d.CreatedAt, d.UpdatedAt = d.CreatedAt.UTC(), d.UpdatedAt.UTC()
	return d, nil
}

func (s *Store) GetDepartment(ctx context.Context, id string) (directory.Department, error) {
	q, err := s.q(ctx)
	if err != nil {
		return directory.Department{}, err
	}
	var d directory.Department
	err = q.QueryRowContext(ctx, `
		select id, company_id, name, created_at, updated_at
		from departments
		where id = $1
	`, id).Scan(&d.ID, &d.CompanyID, &d.Name, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Department{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Department{}, err
	}
	d.CreatedAt, d.UpdatedAt = d.CreatedAt.UTC(), d.UpdatedAt.UTC()
	return d, nil
}

// UpdateDepartment renames a department. The company never changes.
func (s *Store) UpdateDepartment(ctx context.Context, d directory.Department) (directory.Department, error) {
	q, err := s.q(ctx)
	if err != nil {
		return directory.Department{}, err
	}
	d, err = directory.NormalizeDepartment(d)
	if err != nil {
		return directory.Department{}, err
	}
	var companyID string
	err = q.QueryRowContext(ctx, `
		update departments
		set name = $2, updated_at = now()
		where id = $1
		returning company_id, created_at, updated_at
	`, d.ID, d.Name).Scan(&companyID, &d.CreatedAt, &d.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return directory.Department{}, directory.ErrNotFound
	case isUniqueViolation(err):
		return directory.Department{}, fmt.Errorf("%w: department %q already exists", directory.ErrConflict, d.Name)
	case err != nil:
		return directory.Department{}, err
	}
	if companyID != d.CompanyID {
		return directory.Department{}, fmt.Errorf("%w: company_id cannot change", directory.ErrValidation)
	}
	d.CreatedAt, d.UpdatedAt = d.CreatedAt.UTC(), d.UpdatedAt.UTC()
	return d, nil
}

func (s *Store) DeleteDepartment(ctx context.Context, id string) error {
	q, err := s.q(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `delete from departments where id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: department %s still has employees", directory.ErrConflict, id)
		}
		return err
	}
	return expectOneRow(res, directory.ErrNotFound)
}

func (s *Store) ListDepartments(ctx context.Context, companyID string) ([]directory.Department, error) {
	q, err := s.q(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		select id, company_id, name, created_at, updated_at
		from departments
		where company_id = $1
		order by name
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]directory.Department, 0)
	for rows.Next() {
		var d directory.Department
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.Name, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.CreatedAt, d.UpdatedAt = d.CreatedAt.UTC(), d.UpdatedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetEmployee(ctx context.Context, id string) (directory.Employee, error) {
	q, err := s.q(ctx)
	if err != nil {
		return directory.Employee{}, err
	}
	var (
		e                   directory.Employee
		principalID, deptID sql.NullString
	)
	err = q.QueryRowContext(ctx, `
		select id, principal_id, company_id, department_id, first_name, last_name, email, status, created_at, updated_at
		from employees
		where id = $1
	`, id).Scan(&e.ID, &principalID, &e.CompanyID, &deptID, &e.FirstName, &e.LastName, &e.Email, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Employee{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Employee{}, err
	}
	e.PrincipalID = principalID.String
	e.DepartmentID = deptID.String
	e.CreatedAt, e.UpdatedAt = e.CreatedAt.UTC(), e.UpdatedAt.UTC()
	return e, nil
}

// CreateEmployee inserts an employee whose department, when set, must belong to the same company.
func (s *Store) CreateEmployee(ctx context.Context, e directory.Employee) (directory.Employee, error) {
	q, err := s.q(ctx)
	if err != nil {
		return directory.Employee{}, err
	}
	e, err = directory.NormalizeEmployee(e)
	if err != nil {
		return directory.Employee{}, err
	}
	if e.DepartmentID != "" {
		var companyID string
		err := q.QueryRowContext(ctx, `select company_id from departments where id = $1`, e.DepartmentID).Scan(&companyID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return directory.Employee{}, err
		}
		if companyID != e.CompanyID {
			return directory.Employee{}, fmt.Errorf("%w: department %s not in company %s", directory.ErrValidation, e.DepartmentID, e.CompanyID)
		}
	}
	if e.ID == "" {
		e.ID = ids.WithPrefix("emp")
	}
	err = q.QueryRowContext(ctx, `
		insert into employees (id, principal_id, company_id, department_id, first_name, last_name, email, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, e.ID, nullIfEmpty(e.PrincipalID), e.CompanyID, nullIfEmpty(e.DepartmentID),
		e.FirstName, e.LastName, e.Email, e.Status).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) || isForeignKeyViolation(err) {
			return directory.Employee{}, fmt.Errorf("%w: employee %s: %v", directory.ErrConflict, e.ID, err)
		}
		return directory.Employee{}, err
	}
	e.CreatedAt, e.UpdatedAt = e.CreatedAt.UTC(), e.UpdatedAt.UTC()
	return e, nil
}
