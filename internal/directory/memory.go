package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"hrgate.org/internal/ids"
)

type memTxKey struct{}

// memTx journals the prior value of every row written through its context. A nil
// entry means the row did not exist.
type memTx struct {
	store       *MemoryStore
	departments map[string]*Department
	employees   map[string]*Employee
}

// MemoryStore keeps directory data in process memory. InTx gives it rollback so the
// fail-closed audit policy holds without a database.
type MemoryStore struct {
	txMu sync.Mutex

	mu          sync.RWMutex
	departments map[string]Department
	employees   map[string]Employee
	now         func() time.Time
}

// NewMemoryStore returns an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		departments: make(map[string]Department),
		employees:   make(map[string]Employee),
		now:         now,
	}
}

// InTx runs fn and, when it fails, reverts the rows fn wrote through the transaction
// context. Writes made outside that context are kept. Transactions are serialized;
// nested calls join the outer one.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.txFrom(ctx) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memTx{
		store:       m,
		departments: make(map[string]*Department),
		employees:   make(map[string]*Employee),
	}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		m.mu.Lock()
		revert(m.departments, tx.departments)
		revert(m.employees, tx.employees)
		m.mu.Unlock()
		return err
	}
	return nil
}

func revert[T any](rows map[string]T, undo map[string]*T) {
	for id, prev := range undo {
		if prev == nil {
			delete(rows, id)
			continue
		}
		rows[id] = *prev
	}
}

// remember records the current value of rows[id] in undo unless it is already there.
func remember[T any](rows map[string]T, undo map[string]*T, id string) {
	if _, seen := undo[id]; seen {
		return
	}
	if v, ok := rows[id]; ok {
		undo[id] = &v
		return
	}
	undo[id] = nil
}

func (m *MemoryStore) txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	if tx == nil || tx.store != m {
		return nil
	}
	return tx
}

func (m *MemoryStore) CreateDepartment(ctx context.Context, d Department) (Department, error) {
	if err := ctx.Err(); err != nil {
		return Department{}, err
	}
	d, err := NormalizeDepartment(d)
	if err != nil {
		return Department{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nameTaken(d.CompanyID, d.Name, "") {
		return Department{}, fmt.Errorf("%w: department %q already exists", ErrConflict, d.Name)
	}
	if d.ID == "" {
		d.ID = ids.WithPrefix("dep")
	}
	if _, ok := m.departments[d.ID]; ok {
		return Department{}, fmt.Errorf("%w: department %s already exists", ErrConflict, d.ID)
	}
	if tx := m.txFrom(ctx); tx != nil {
		remember(m.departments, tx.departments, d.ID)
	}
	now := m.now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	m.departments[d.ID] = d
	return d, nil
}

func (m *MemoryStore) nameTaken(companyID, name, exceptID string) bool {
	for id, other := range m.departments {
		if id != exceptID && other.CompanyID == companyID && strings.EqualFold(other.Name, name) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetDepartment(ctx context.Context, id string) (Department, error) {
	if err := ctx.Err(); err != nil {
		return Department{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.departments[id]
	if !ok {
		return Department{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) UpdateDepartment(ctx context.Context, d Department) (Department, error) {
	if err := ctx.Err(); err != nil {
		return Department{}, err
	}
	d, err := NormalizeDepartment(d)
	if err != nil {
		return Department{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.departments[d.ID]
	if !ok {
		return Department{}, ErrNotFound
	}
	if existing.CompanyID != d.CompanyID {
		return Department{}, fmt.Errorf("%w: company_id cannot change", ErrValidation)
	}
	if m.nameTaken(d.CompanyID, d.Name, d.ID) {
		return Department{}, fmt.Errorf("%w: department %q already exists", ErrConflict, d.Name)
	}
	if tx := m.txFrom(ctx); tx != nil {
		remember(m.departments, tx.departments, d.ID)
	}
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = m.now().UTC()
	m.departments[d.ID] = d
	return d, nil
}

func (m *MemoryStore) DeleteDepartment(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.departments[id]; !ok {
		return ErrNotFound
	}
	for _, e := range m.employees {
		if e.DepartmentID == id {
			return fmt.Errorf("%w: department %s still has employees", ErrConflict, id)
		}
	}
	if tx := m.txFrom(ctx); tx != nil {
		remember(m.departments, tx.departments, id)
	}
	delete(m.departments, id)
	return nil
}

func (m *MemoryStore) ListDepartments(ctx context.Context, companyID string) ([]Department, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Department, 0)
	for _, d := range m.departments {
		if d.CompanyID == companyID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetEmployee(ctx context.Context, id string) (Employee, error) {
	if err := ctx.Err(); err != nil {
		return Employee{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return Employee{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) CreateEmployee(ctx context.Context, e Employee) (Employee, error) {
	if err := ctx.Err(); err != nil {
		return Employee{}, err
	}
	e, err := NormalizeEmployee(e)
	if err != nil {
		return Employee{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.DepartmentID != "" {
		d, ok := m.departments[e.DepartmentID]
		if !ok || d.CompanyID != e.CompanyID {
			return Employee{}, fmt.Errorf("%w: department %s not in company %s", ErrValidation, e.DepartmentID, e.CompanyID)
		}
	}
	if e.ID == "" {
		e.ID = ids.WithPrefix("emp")
	}
	if _, ok := m.employees[e.ID]; ok {
		return Employee{}, fmt.Errorf("%w: employee %s already exists", ErrConflict, e.ID)
	}
	if tx := m.txFrom(ctx); tx != nil {
		remember(m.employees, tx.employees, e.ID)
	}
	now := m.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	m.employees[e.ID] = e
	return e, nil
}
