package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrgate_auth_decisions_total",
			Help: "Authentication decisions by outcome and internal reason.",
		},
		[]string{"outcome", "reason"},
	)

	authzDenials = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hrgate_authz_denials_total",
		Help: "Authorization rules that refused an authenticated caller.",
	})

	auditWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrgate_audit_writes_total",
			Help: "Audit record writes by result.",
		},
		[]string{"result"},
	)

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hrgate_audit_write_failures_total",
		Help: "Audit writes that failed after the business mutation was committed.",
	})

	passwordHashSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hrgate_password_hash_seconds",
		Help:    "Time spent hashing or verifying passwords.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hrgate_ready",
		Help: "1 when the service reported ready on its last probe.",
	})

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authDecisions, authzDenials,
			auditWrites, auditWriteFailures,
			passwordHashSeconds, readyGauge,
			buildInfo,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthDecision counts an authentication outcome ("allow" or "deny").
func ObserveAuthDecision(outcome, reason string) {
	if reason == "" {
		reason = "none"
	}
	authDecisions.WithLabelValues(outcome, reason).Inc()
}

// ObserveAuthzDenial counts a refused authorization rule.
func ObserveAuthzDenial() { authzDenials.Inc() }

// ObserveAuditWrite counts an audit write result ("ok" or "error").
func ObserveAuditWrite(result string) { auditWrites.WithLabelValues(result).Inc() }

// ObserveAuditWriteFailure counts an audit failure tolerated by the fail-open policy.
func ObserveAuditWriteFailure() { auditWriteFailures.Inc() }

// ObservePasswordHash records time spent in the password hasher.
func ObservePasswordHash(d time.Duration) { passwordHashSeconds.Observe(d.Seconds()) }

// SetReady mirrors the readiness probe result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument measures in-flight requests, request counts and latency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// collectionsWithID lists path segments followed by an identifier.
var collectionsWithID = map[string]bool{
	"departments": true,
	"employees":   true,
	"companies":   true,
}

// CanonicalPath collapses identifiers so metric label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimRight(raw, "/")
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.TrimPrefix(raw, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if collectionsWithID[parts[i-1]] && parts[i] != "" {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
