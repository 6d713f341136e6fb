// Package directory is the minimal HR directory behind the protected endpoints:
// departments and employees with their tenant scope fields.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hrgate.org/internal/authz"
)

var (
	ErrNotFound   = errors.New("directory: not found")
	ErrConflict   = errors.New("directory: conflict")
	ErrValidation = errors.New("directory: invalid input")
)

// Department belongs to exactly one company.
type Department struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Target returns the scope fields used by authorization rules.
func (d Department) Target() authz.Target {
	return authz.Target{CompanyID: d.CompanyID, DepartmentID: d.ID}
}

// Employee is the directory record a principal's employee scope points at.
type Employee struct {
	ID           string    `json:"id"`
	PrincipalID  string    `json:"principal_id,omitempty"`
	CompanyID    string    `json:"company_id"`
	DepartmentID string    `json:"department_id,omitempty"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Target returns the scope fields used by authorization rules; the employee owns itself.
func (e Employee) Target() authz.Target {
	return authz.Target{CompanyID: e.CompanyID, DepartmentID: e.DepartmentID, OwnerEmployeeID: e.ID}
}

// DepartmentPatch holds optional department changes.
type DepartmentPatch struct {
	Name *string `json:"name"`
}

// Store is the persistence boundary for directory data.
type Store interface {
	CreateDepartment(ctx context.Context, d Department) (Department, error)
	GetDepartment(ctx context.Context, id string) (Department, error)
	UpdateDepartment(ctx context.Context, d Department) (Department, error)
	DeleteDepartment(ctx context.Context, id string) error
	ListDepartments(ctx context.Context, companyID string) ([]Department, error)
	GetEmployee(ctx context.Context, id string) (Employee, error)
	CreateEmployee(ctx context.Context, e Employee) (Employee, error)
}

// NormalizeDepartment trims and validates a department before it is stored.
func NormalizeDepartment(d Department) (Department, error) {
	d.Name = strings.TrimSpace(d.Name)
	d.CompanyID = strings.TrimSpace(d.CompanyID)
	if d.CompanyID == "" {
		return d, fmt.Errorf("%w: company_id is required", ErrValidation)
	}
	if d.Name == "" {
		return d, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(d.Name) > 120 {
		return d, fmt.Errorf("%w: name must be at most 120 characters", ErrValidation)
	}
	return d, nil
}

// Apply returns d with p applied.
func (p DepartmentPatch) Apply(d Department) Department {
	if p.Name != nil {
		d.Name = *p.Name
	}
	return d
}

// NormalizeEmployee trims and validates an employee before it is stored.
func NormalizeEmployee(e Employee) (Employee, error) {
	e.CompanyID = strings.TrimSpace(e.CompanyID)
	e.DepartmentID = strings.TrimSpace(e.DepartmentID)
	e.FirstName = strings.TrimSpace(e.FirstName)
	e.LastName = strings.TrimSpace(e.LastName)
	e.Email = strings.ToLower(strings.TrimSpace(e.Email))
	e.Status = strings.ToLower(strings.TrimSpace(e.Status))
	if e.CompanyID == "" {
		return e, fmt.Errorf("%w: company_id is required", ErrValidation)
	}
	if e.FirstName == "" && e.LastName == "" {
		return e, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if e.Status == "" {
		e.Status = "active"
	}
	return e, nil
}
