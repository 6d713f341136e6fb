package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidEntry marks an entry whose verb and snapshots do not line up.
	ErrInvalidEntry = errors.New("audit: invalid entry")
	// ErrWriteFailed marks a record that could not be appended to the primary sink.
	ErrWriteFailed = errors.New("audit: write failed")
)

// Verb is the kind of state change being recorded.
type Verb string

const (
	VerbCreate Verb = "CREATE"
	VerbUpdate Verb = "UPDATE"
	VerbDelete Verb = "DELETE"
)

// ParseVerb accepts a verb in any case.
func ParseVerb(raw string) (Verb, error) {
	v := Verb(strings.ToUpper(strings.TrimSpace(raw)))
	switch v {
	case VerbCreate, VerbUpdate, VerbDelete:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown verb %q", ErrInvalidEntry, raw)
}

// Entry is what callers hand to the Writer: actor, verb, entity and snapshots.
// Before must be nil for CREATE and After must be nil for DELETE.
type Entry struct {
	ActorID    string
	Verb       Verb
	EntityType string
	EntityID   string
	Before     any
	After      any
}

// Record is an appended, immutable audit row.
type Record struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actor_id"`
	Verb       Verb            `json:"verb"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before"`
	After      json.RawMessage `json:"after"`
	IP         string          `json:"ip,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil, nil
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: snapshot is not valid JSON", ErrInvalidEntry)
		}
		return append(json.RawMessage(nil), raw...), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode snapshot: %v", ErrInvalidEntry, err)
	}
	if bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	return data, nil
}

// build validates e and converts its snapshots to JSON.
func (e Entry) build() (Record, error) {
	rec := Record{
		ActorID:    strings.TrimSpace(e.ActorID),
		EntityType: strings.TrimSpace(e.EntityType),
		EntityID:   strings.TrimSpace(e.EntityID),
	}
	verb, err := ParseVerb(string(e.Verb))
	if err != nil {
		return Record{}, err
	}
	rec.Verb = verb
	if rec.ActorID == "" {
		return Record{}, fmt.Errorf("%w: actor is required", ErrInvalidEntry)
	}
	if rec.EntityType == "" || rec.EntityID == "" {
		return Record{}, fmt.Errorf("%w: entity type and id are required", ErrInvalidEntry)
	}
	if rec.Before, err = snapshot(e.Before); err != nil {
		return Record{}, err
	}
	if rec.After, err = snapshot(e.After); err != nil {
		return Record{}, err
	}
	switch verb {
	case VerbCreate:
		if rec.Before != nil || rec.After == nil {
			return Record{}, fmt.Errorf("%w: CREATE needs an after snapshot only", ErrInvalidEntry)
		}
	case VerbDelete:
		if rec.Before == nil || rec.After != nil {
			return Record{}, fmt.Errorf("%w: DELETE needs a before snapshot only", ErrInvalidEntry)
		}
	case VerbUpdate:
		if rec.Before == nil || rec.After == nil {
			return Record{}, fmt.Errorf("%w: UPDATE needs both snapshots", ErrInvalidEntry)
		}
	}
	return rec, nil
}
