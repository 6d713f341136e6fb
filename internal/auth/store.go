package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// CredentialStore is the persistence boundary of the auth subsystem. Implementations return
// ErrNotFound for missing principals or scopes and must not cache principal state.
type CredentialStore interface {
	FindPrincipalByEmail(ctx context.Context, email string) (Principal, error)
	FindPrincipalByID(ctx context.Context, id string) (Principal, error)
	FindEmployeeScopeByPrincipalID(ctx context.Context, principalID string) (EmployeeScope, error)
	UpdatePasswordHash(ctx context.Context, principalID, hash string) error
	TouchLastLogin(ctx context.Context, principalID string) error
}

// NormalizeEmail lower-cases and trims an email for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type memTxKey struct{}

// memTx journals the prior value of every principal written through its context.
// A nil entry means the principal did not exist.
type memTx struct {
	store      *MemoryStore
	principals map[string]*Principal
}

// MemoryStore is an in-process CredentialStore used by tests and local development.
type MemoryStore struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	principals map[string]Principal
	scopes     map[string]EmployeeScope
	now        func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals: make(map[string]Principal),
		scopes:     make(map[string]EmployeeScope),
		now:        time.Now,
	}
}

// InTx runs fn and, when it fails, reverts the principals fn wrote through the
// transaction context. Writes made outside that context are kept. Transactions are
// serialized; nested calls join the outer one.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.txFrom(ctx) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memTx{store: m, principals: make(map[string]*Principal)}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		m.mu.Lock()
		for id, prev := range tx.principals {
			if prev == nil {
				delete(m.principals, id)
				continue
			}
			m.principals[id] = *prev
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryStore) txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	if tx == nil || tx.store != m {
		return nil
	}
	return tx
}

// journalLocked remembers the current value of principal id the first time the
// transaction in ctx writes it. Callers hold m.mu.
func (m *MemoryStore) journalLocked(ctx context.Context, id string) {
	tx := m.txFrom(ctx)
	if tx == nil {
		return
	}
	if _, seen := tx.principals[id]; seen {
		return
	}
	if p, ok := m.principals[id]; ok {
		tx.principals[id] = &p
		return
	}
	tx.principals[id] = nil
}

// PutPrincipal inserts or replaces a principal. Email must be unique among active principals.
func (m *MemoryStore) PutPrincipal(p Principal) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: principal id is required", ErrValidation)
	}
	if !p.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, p.Role)
	}
	p.Email = NormalizeEmail(p.Email)
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Active {
		for id, other := range m.principals {
			if id != p.ID && other.Active && other.Email == p.Email {
				return fmt.Errorf("%w: email %s already in use", ErrConflict, p.Email)
			}
		}
	}
	now := m.now().UTC()
	if existing, ok := m.principals[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.principals[p.ID] = p
	return nil
}

// PutScope attaches an employee scope to a principal.
func (m *MemoryStore) PutScope(principalID string, s EmployeeScope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[principalID] = s
}

// RemoveScope detaches the employee scope of a principal.
func (m *MemoryStore) RemoveScope(principalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scopes, principalID)
}

// SetActive flips the active flag of a principal.
func (m *MemoryStore) SetActive(principalID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[principalID]
	if !ok {
		return ErrNotFound
	}
	p.Active = active
	p.UpdatedAt = m.now().UTC()
	m.principals[principalID] = p
	return nil
}

// SetRole changes the role of a principal.
func (m *MemoryStore) SetRole(principalID string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[principalID]
	if !ok {
		return ErrNotFound
	}
	p.Role = role
	p.UpdatedAt = m.now().UTC()
	m.principals[principalID] = p
	return nil
}

// Principals lists all principals ordered by id.
func (m *MemoryStore) Principals() []Principal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Principal, 0, len(m.principals))
	for _, p := range m.principals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) FindPrincipalByEmail(ctx context.Context, email string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	email = NormalizeEmail(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var fallback *Principal
	for _, p := range m.principals {
		if p.Email != email {
			continue
		}
		if p.Active {
			return p, nil
		}
		cp := p
		fallback = &cp
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Principal{}, ErrNotFound
}

func (m *MemoryStore) FindPrincipalByID(ctx context.Context, id string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) FindEmployeeScopeByPrincipalID(ctx context.Context, principalID string) (EmployeeScope, error) {
	if err := ctx.Err(); err != nil {
		return EmployeeScope{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scopes[principalID]
	if !ok {
		return EmployeeScope{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) UpdatePasswordHash(ctx context.Context, principalID, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[principalID]
	if !ok {
		return ErrNotFound
	}
	m.journalLocked(ctx, principalID)
	now := m.now().UTC()
	p.PasswordHash = hash
	p.PasswordChangedAt = &now
	p.UpdatedAt = now
	m.principals[principalID] = p
	return nil
}

func (m *MemoryStore) TouchLastLogin(ctx context.Context, principalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[principalID]
	if !ok {
		return ErrNotFound
	}
	m.journalLocked(ctx, principalID)
	now := m.now().UTC()
	p.LastLoginAt = &now
	m.principals[principalID] = p
	return nil
}
