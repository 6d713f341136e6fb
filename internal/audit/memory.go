package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Filter selects audit records for Reader.List. Zero fields match everything.
type Filter struct {
	EntityType string
	EntityID   string
	ActorID    string
	Verb       Verb
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Normalize applies the default and maximum page size.
func (f Filter) Normalize() Filter {
	f.EntityType = strings.TrimSpace(f.EntityType)
	f.EntityID = strings.TrimSpace(f.EntityID)
	f.ActorID = strings.TrimSpace(f.ActorID)
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether r passes every set field of f. Limit and Offset are ignored.
func (f Filter) Matches(r Record) bool {
	switch {
	case f.EntityType != "" && r.EntityType != f.EntityType:
		return false
	case f.EntityID != "" && r.EntityID != f.EntityID:
		return false
	case f.ActorID != "" && r.ActorID != f.ActorID:
		return false
	case f.Verb != "" && r.Verb != f.Verb:
		return false
	case !f.Since.IsZero() && r.OccurredAt.Before(f.Since):
		return false
	case !f.Until.IsZero() && !r.OccurredAt.Before(f.Until):
		return false
	}
	return true
}

// Reader lists audit records newest first.
type Reader interface {
	List(ctx context.Context, f Filter) ([]Record, error)
}

// MemorySink keeps records in process memory. It is both a Sink and a Reader.
type MemorySink struct {
	mu      sync.RWMutex
	records []Record
	failErr error
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// FailWith makes subsequent appends return err; nil restores normal behavior.
func (m *MemorySink) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *MemorySink) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of every record in append order.
func (m *MemorySink) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Record(nil), m.records...)
}

func (m *MemorySink) List(ctx context.Context, f Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f = f.Normalize()
	m.mu.RLock()
	matched := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if f.Matches(r) {
			matched = append(matched, r)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})
	if f.Offset >= len(matched) {
		return []Record{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}
