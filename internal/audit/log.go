package audit

import (
	"context"
	"log/slog"
	"strings"

	"hrgate.org/internal/auth"
	"hrgate.org/internal/obs"
)

// RequestMeta is the provenance recorded with every audit record.
type RequestMeta struct {
	IP        string
	UserAgent string
	RequestID string
}

type metaKey struct{}

// WithRequestMeta attaches request provenance to the context for audit logging.
func WithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	m.IP = strings.TrimSpace(m.IP)
	m.UserAgent = strings.TrimSpace(m.UserAgent)
	m.RequestID = strings.TrimSpace(m.RequestID)
	return context.WithValue(ctx, metaKey{}, m)
}

// WithRequestID sets only the request identifier, keeping other metadata.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	m := MetaFromContext(ctx)
	m.RequestID = requestID
	return context.WithValue(ctx, metaKey{}, m)
}

// MetaFromContext returns the request provenance attached to ctx, if any.
func MetaFromContext(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	m, _ := ctx.Value(metaKey{}).(RequestMeta)
	return m
}

// LogSink writes each record as one structured log line with type=audit.
type LogSink struct {
	logger func() *slog.Logger
}

// NewLogSink returns a sink writing to the shared service logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: obs.Logger}
}

func (s *LogSink) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("audit_id", rec.ID),
		slog.String("actor_id", rec.ActorID),
		slog.String("verb", string(rec.Verb)),
		slog.String("entity_type", rec.EntityType),
		slog.String("entity_id", rec.EntityID),
		slog.Any("before", rec.Before),
		slog.Any("after", rec.After),
		slog.Time("occurred_at", rec.OccurredAt),
	}
	if rec.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", rec.RequestID))
	}
	if rec.IP != "" {
		attrs = append(attrs, slog.String("ip", rec.IP))
	}
	if rec.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", rec.UserAgent))
	}
	s.logger().LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}

// actorFromContext falls back to the authenticated caller when an entry names no actor.
func actorFromContext(ctx context.Context) string {
	if ac, ok := auth.FromContext(ctx); ok {
		return ac.PrincipalID()
	}
	return ""
}
