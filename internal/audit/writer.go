package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hrgate.org/internal/ids"
	"hrgate.org/internal/obs"
)

// ErrNotRecorded is returned by Mutate under FailOpen when the mutation committed but
// its audit record could not be written. The change stands.
var ErrNotRecorded = errors.New("audit: mutation committed without a record")

// Sink appends records. Implementations must never update or delete a record.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Transactor runs fn atomically. A sink that participates in the transaction must
// pick it up from the context fn receives.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Direct is a Transactor without atomicity, for stores that cannot roll back.
type Direct struct{}

func (Direct) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// Chain nests transactors so fn runs inside all of them, outermost first.
func Chain(ts ...Transactor) Transactor {
	return chain(ts)
}

type chain []Transactor

func (c chain) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if len(c) == 0 {
		return fn(ctx)
	}
	return c[0].InTx(ctx, func(ctx context.Context) error {
		return c[1:].InTx(ctx, fn)
	})
}

// Policy decides what happens to a business mutation whose audit record cannot be written.
type Policy string

const (
	// FailClosed rolls the mutation back together with the failed record.
	FailClosed Policy = "fail_closed"
	// FailOpen keeps the mutation, logs the failure and counts it.
	FailOpen Policy = "fail_open"
)

// ParsePolicy maps a configuration value to a Policy. Empty selects FailClosed.
func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return FailClosed, nil
	case FailClosed, FailOpen:
		return p, nil
	}
	return "", fmt.Errorf("audit: unknown failure policy %q", raw)
}

// Writer builds records from entries and appends them to its sinks.
type Writer struct {
	primary Sink
	mirrors []Sink
	policy  Policy
	now     func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithMirror adds a best-effort sink. Its failures are logged, never returned.
func WithMirror(s Sink) Option {
	return func(w *Writer) {
		if s != nil {
			w.mirrors = append(w.mirrors, s)
		}
	}
}

// WithPolicy sets the failure policy applied by Mutate.
func WithPolicy(p Policy) Option {
	return func(w *Writer) {
		if p != "" {
			w.policy = p
		}
	}
}

// WithClock overrides the time source for record timestamps.
func WithClock(fn func() time.Time) Option {
	return func(w *Writer) {
		if fn != nil {
			w.now = fn
		}
	}
}

// NewWriter returns a Writer appending to primary.
func NewWriter(primary Sink, opts ...Option) (*Writer, error) {
	if primary == nil {
		return nil, errors.New("audit: primary sink is required")
	}
	w := &Writer{primary: primary, policy: FailClosed, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Policy reports the configured failure policy.
func (w *Writer) Policy() Policy { return w.policy }

// Record appends one record for e, stamped with the request metadata found in ctx.
// Failures are returned and never retried.
func (w *Writer) Record(ctx context.Context, e Entry) (Record, error) {
	if err := ctx.Err(); err != nil {
		obs.ObserveAuditWrite("error")
		return Record{}, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if strings.TrimSpace(e.ActorID) == "" {
		e.ActorID = actorFromContext(ctx)
	}
	rec, err := e.build()
	if err != nil {
		obs.ObserveAuditWrite("invalid")
		return Record{}, err
	}
	meta := MetaFromContext(ctx)
	rec.ID = ids.WithPrefix("aud")
	rec.IP = meta.IP
	rec.UserAgent = meta.UserAgent
	rec.RequestID = meta.RequestID
	rec.OccurredAt = w.now().UTC()

	if err := w.primary.Append(ctx, rec); err != nil {
		obs.ObserveAuditWrite("error")
		return Record{}, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	obs.ObserveAuditWrite("ok")
	for _, m := range w.mirrors {
		if err := m.Append(ctx, rec); err != nil {
			obs.ObserveAuditWrite("mirror_error")
			obs.Logger().WarnContext(ctx, "audit mirror append failed", "audit_id", rec.ID, "error", err)
		}
	}
	return rec, nil
}

// Mutate runs a business mutation and records the entry it returns, applying the
// failure policy. Under FailClosed the mutation and the record share tx, so a failed
// record undoes the mutation. Under FailOpen the mutation commits first and a failed
// record is logged, counted and reported as ErrNotRecorded with a zero Record.
func (w *Writer) Mutate(ctx context.Context, tx Transactor, fn func(ctx context.Context) (Entry, error)) (Record, error) {
	if tx == nil {
		tx = Direct{}
	}
	if w.policy == FailOpen {
		return w.mutateOpen(ctx, tx, fn)
	}
	var rec Record
	err := tx.InTx(ctx, func(ctx context.Context) error {
		e, err := fn(ctx)
		if err != nil {
			return err
		}
		rec, err = w.Record(ctx, e)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (w *Writer) mutateOpen(ctx context.Context, tx Transactor, fn func(ctx context.Context) (Entry, error)) (Record, error) {
	var e Entry
	err := tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if e, err = fn(ctx); err != nil {
			return err
		}
		if strings.TrimSpace(e.ActorID) == "" {
			e.ActorID = actorFromContext(ctx)
		}
		_, err = e.build()
		return err
	})
	if err != nil {
		return Record{}, err
	}
	rec, err := w.Record(ctx, e)
	if err != nil {
		obs.ObserveAuditWriteFailure()
		obs.Logger().ErrorContext(ctx, "audit record lost after committed mutation",
			"verb", string(e.Verb), "entity_type", e.EntityType, "entity_id", e.EntityID, "error", err)
		return Record{}, fmt.Errorf("%w: %v", ErrNotRecorded, err)
	}
	return rec, nil
}
