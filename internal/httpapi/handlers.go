package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"hrgate.org/internal/audit"
	"hrgate.org/internal/auth"
	"hrgate.org/internal/directory"
	"hrgate.org/internal/obs"
	"hrgate.org/internal/session"
	"hrgate.org/internal/stream"
)

const serviceName = "hrgate-api"

type pinger interface {
	Ping(ctx context.Context) error
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the backing services that are configured.
type ReadyProbe struct {
	DB      pinger
	Revoker pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.Ping(ctx); err != nil {
			return err
		}
	}
	if rp.Revoker != nil {
		return rp.Revoker.Ping(ctx)
	}
	return nil
}

// Deps are the collaborators the API routes to. Tx must cover both the directory and
// credential stores and the audit sink so that fail-closed auditing can roll back.
type Deps struct {
	Auth      *auth.Service
	Directory directory.Store
	Audit     *audit.Writer
	Records   audit.Reader
	Tx        audit.Transactor
	Ready     readinessChecker

	// Feed enables GET /v1/audit/stream. It must also be installed as an audit writer
	// mirror to receive records.
	Feed *stream.Feed
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	svc       *auth.Service
	authn     *auth.Authenticator
	dir       directory.Store
	audit     *audit.Writer
	records   audit.Reader
	feed      *stream.Feed
	tx        audit.Transactor
	ready     readinessChecker
	version   string
	limiter   *ipLimiter
	origins   []string
	proxies   []netip.Prefix
	bodyLimit int64
	idle      session.Config
}

// Option configures the API.
type Option func(*API)

// WithLoginRateLimit throttles POST /v1/auth/login per client IP.
func WithLoginRateLimit(perMinute, burst int) Option {
	return func(a *API) { a.limiter = newIPLimiter(perMinute, burst) }
}

// WithCORSOrigins sets the allowed browser origins.
func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.origins = append([]string(nil), origins...) }
}

// WithTrustedProxies names the reverse proxies whose X-Forwarded-For header is used as
// the caller address for rate limiting and audit records.
func WithTrustedProxies(proxies ...netip.Prefix) Option {
	return func(a *API) { a.proxies = append([]netip.Prefix(nil), proxies...) }
}

// WithSessionPolicy publishes the client idle policy on /v1/info.
func WithSessionPolicy(cfg session.Config) Option {
	return func(a *API) { a.idle = cfg }
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.bodyLimit = n
		}
	}
}

func New(d Deps, version string, opts ...Option) (*API, error) {
	if d.Auth == nil {
		return nil, errors.New("httpapi: auth service is required")
	}
	if d.Directory == nil || d.Audit == nil {
		return nil, errors.New("httpapi: directory store and audit writer are required")
	}
	a := &API{
		mux:       http.NewServeMux(),
		svc:       d.Auth,
		authn:     d.Auth.Authenticator(),
		dir:       d.Directory,
		audit:     d.Audit,
		records:   d.Records,
		feed:      d.Feed,
		tx:        d.Tx,
		ready:     d.Ready,
		version:   version,
		limiter:   newIPLimiter(10, 5),
		bodyLimit: 1 << 20,
		idle: session.Config{
			Timeout:       session.DefaultTimeout,
			WarnBefore:    session.DefaultWarnBefore,
			CheckInterval: session.DefaultCheckInterval,
		},
	}
	if a.tx == nil {
		a.tx = audit.Direct{}
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.Handle("POST /v1/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), a.limiter))
	a.mux.HandleFunc("POST /v1/auth/logout", a.authed(a.handleLogout))
	a.mux.HandleFunc("GET /v1/auth/me", a.authed(a.handleMe))
	a.mux.HandleFunc("POST /v1/auth/password", a.authed(a.handleChangePassword))

	a.mux.HandleFunc("POST /v1/departments", a.authed(a.handleCreateDepartment))
	a.mux.HandleFunc("GET /v1/departments/{id}", a.authed(a.handleGetDepartment))
	a.mux.HandleFunc("PATCH /v1/departments/{id}", a.authed(a.handleUpdateDepartment))
	a.mux.HandleFunc("DELETE /v1/departments/{id}", a.authed(a.handleDeleteDepartment))
	a.mux.HandleFunc("GET /v1/companies/{id}/departments", a.authed(a.handleListDepartments))
	a.mux.HandleFunc("GET /v1/employees/{id}", a.authed(a.handleGetEmployee))

	a.mux.HandleFunc("GET /v1/audit", a.authed(a.handleListAudit))
	a.mux.HandleFunc("GET /v1/audit/stream", a.authed(a.handleAuditFeed))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.bodyLimit)
	h = CORS(a.origins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestIDBehind(a.proxies)(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		obs.Logger().WarnContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"session": map[string]any{
			"timeout_seconds":     int(a.idle.Timeout.Seconds()),
			"warn_before_seconds": int(a.idle.WarnBefore.Seconds()),
		},
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return 0, errors.New("value out of range")
	}
	return v, nil
}
