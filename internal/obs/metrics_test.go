package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime/debug"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                 "/",
		"/metrics":                         "/metrics",
		"/v1/departments":                  "/v1/departments",
		"/v1/departments/01HX":             "/v1/departments/:id",
		"/v1/departments/01HX/":            "/v1/departments/:id",
		"/v1/companies/acme/departments":   "/v1/companies/:id/departments",
		"/v1/employees/e-1?fields=name":    "/v1/employees/:id",
		"/v1/auth/login":                   "/v1/auth/login",
		"/v1/audit?entity_type=department": "/v1/audit",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/employees/:id", "418"))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/employees/e-42", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/employees/:id", "418"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestObserveAuthDecision(t *testing.T) {
	before := testutil.ToFloat64(authDecisions.WithLabelValues("deny", "none"))
	ObserveAuthDecision("deny", "")
	if got := testutil.ToFloat64(authDecisions.WithLabelValues("deny", "none")); got-before != 1 {
		t.Fatalf("expected empty reason to be recorded as none, delta=%v", got-before)
	}
}

func TestLoggerEmitsTSKey(t *testing.T) {
	var buf bytes.Buffer
	restore := SetLogger(NewLogger(&buf, "debug"))
	defer restore()

	Logger().Debug("hello", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARN").String() != "WARN" {
		t.Fatal("expected warn level")
	}
	if ParseLevel("bogus").String() != "INFO" {
		t.Fatal("expected info fallback")
	}
}

func TestResolveBuildFallsBackToVCSStamp(t *testing.T) {
	stamped := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{
			{Key: "vcs", Value: "git"},
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		}}, true
	}
	b := resolveBuild("1.2.0", "", stamped)
	if b.Version != "1.2.0" || b.Commit != "0123456789ab" || b.GoVersion == "" {
		t.Fatalf("unexpected build: %+v", b)
	}

	b = resolveBuild("", "feedbeef", stamped)
	if b.Version != "dev" || b.Commit != "feedbeef" {
		t.Fatalf("explicit commit must win: %+v", b)
	}

	b = resolveBuild("1.2.0", "", func() (*debug.BuildInfo, bool) { return nil, false })
	if b.Commit != "unknown" {
		t.Fatalf("expected unknown commit, got %q", b.Commit)
	}
}

func TestInitBuildInfoPublishesGauge(t *testing.T) {
	b := InitBuildInfo("9.9.9", "abc")
	if got := testutil.ToFloat64(buildInfo.WithLabelValues("9.9.9", "abc", b.GoVersion)); got != 1 {
		t.Fatalf("hrgate_build_info = %v, want 1", got)
	}
}
