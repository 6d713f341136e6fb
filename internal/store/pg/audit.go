package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"hrgate.org/internal/audit"
)

var (
	_ audit.Sink   = (*Store)(nil)
	_ audit.Reader = (*Store)(nil)
)

// Append inserts one audit record. The table rejects updates and deletes.
func (s *Store) Append(ctx context.Context, rec audit.Record) error {
	q, err := s.q(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into audit_records (id, actor_id, verb, entity_type, entity_id, before, after, ip, user_agent, request_id, occurred_at)
		values ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10, $11)
	`, rec.ID, rec.ActorID, string(rec.Verb), rec.EntityType, rec.EntityID,
		jsonArg(rec.Before), jsonArg(rec.After),
		nullIfEmpty(rec.IP), nullIfEmpty(rec.UserAgent), nullIfEmpty(rec.RequestID), rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("pg: append audit record: %w", err)
	}
	return nil
}

// List returns records matching f, newest first.
func (s *Store) List(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	q, err := s.q(ctx)
	if err != nil {
		return nil, err
	}
	f = f.Normalize()
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Verb != "" {
		add("verb = $%d", string(f.Verb))
	}
	if !f.Since.IsZero() {
		add("occurred_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("occurred_at < $%d", f.Until)
	}

	var b strings.Builder
	b.WriteString(`select id, actor_id, verb, entity_type, entity_id, before, after, ip, user_agent, request_id, occurred_at from audit_records`)
	if len(where) > 0 {
		b.WriteString(" where ")
		b.WriteString(strings.Join(where, " and "))
	}
	args = append(args, f.Limit, f.Offset)
	fmt.Fprintf(&b, " order by occurred_at desc, id desc limit $%d offset $%d", len(args)-1, len(args))

	rows, err := q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.Record, 0, f.Limit)
	for rows.Next() {
		var (
			rec                  audit.Record
			verb                 string
			before, after        []byte
			ip, agent, requestID sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.ActorID, &verb, &rec.EntityType, &rec.EntityID,
			&before, &after, &ip, &agent, &requestID, &rec.OccurredAt); err != nil {
			return nil, err
		}
		rec.Verb = audit.Verb(verb)
		rec.Before = rawOrNil(before)
		rec.After = rawOrNil(after)
		rec.IP = ip.String
		rec.UserAgent = agent.String
		rec.RequestID = requestID.String
		rec.OccurredAt = rec.OccurredAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
