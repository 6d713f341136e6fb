package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hrgate.org/internal/audit"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hrgate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
  cors_origins: ["https://hr.example.com"]
database:
  store: postgres
  dsn: "postgres://hrgate@localhost/hrgate"
auth:
  secret: "`+testSecret+`"
  token_ttl: 10m
  hash_cost: 4
revocation:
  backend: redis
  redis_addr: "localhost:6379"
audit:
  failure_policy: fail_open
session:
  timeout: 30m
  warn_before: 2m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("HTTP.Addr = %q, want :9090", cfg.HTTP.Addr)
	}
	if cfg.Auth.TokenTTL != 10*time.Minute {
		t.Errorf("Auth.TokenTTL = %s, want 10m", cfg.Auth.TokenTTL)
	}
	if cfg.AuditPolicy() != audit.FailOpen {
		t.Errorf("AuditPolicy() = %s, want fail_open", cfg.AuditPolicy())
	}
	if got := cfg.SessionPolicy(); got.Timeout != 30*time.Minute || got.WarnBefore != 2*time.Minute {
		t.Errorf("SessionPolicy() = %+v", got)
	}
	if cfg.HTTP.ReadTimeout != 15*time.Second {
		t.Errorf("defaults not kept: ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/hrgate.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "auth: [secret: broken")); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"short secret", func(c *Config) { c.Auth.Secret = "short" }, "auth.secret"},
		{"postgres without dsn", func(c *Config) { c.Database.Store = StorePostgres }, "database.dsn"},
		{"unknown store", func(c *Config) { c.Database.Store = "sqlite" }, "database.store"},
		{"redis without addr", func(c *Config) { c.Revocation.Backend = RevocationRedis }, "redis_addr"},
		{"unknown policy", func(c *Config) { c.Audit.FailurePolicy = "retry" }, "failure policy"},
		{"warning exceeds timeout", func(c *Config) { c.Session.WarnBefore = 2 * time.Hour }, "warning window"},
		{"hash cost", func(c *Config) { c.Auth.HashCost = 99 }, "hash cost"},
		{"bad proxy", func(c *Config) { c.HTTP.TrustedProxies = []string{"10.0.0.0/33"} }, "trusted_proxies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.Secret = testSecret
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}

	cfg := Default()
	cfg.Auth.Secret = testSecret
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with a secret should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"HRGATE_JWT_SECRET":      testSecret,
		"HRGATE_PG_DSN":          "postgres://localhost/hrgate",
		"HRGATE_TOKEN_TTL":       "5m",
		"HRGATE_CORS_ORIGINS":    "https://a.example, https://b.example",
		"HRGATE_REVOCATION":      "none",
		"HRGATE_TRUSTED_PROXIES": "10.0.0.0/8, 192.0.2.7",
	}
	cfg := Default()
	err := applyEnvOverrides(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if cfg.Database.Store != StorePostgres {
		t.Errorf("a DSN should select the postgres store, got %q", cfg.Database.Store)
	}
	if cfg.Auth.TokenTTL != 5*time.Minute {
		t.Errorf("TokenTTL = %s", cfg.Auth.TokenTTL)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.HTTP.CORSOrigins)
	}
	if cfg.Revocation.Backend != RevocationNone {
		t.Errorf("Revocation.Backend = %q", cfg.Revocation.Backend)
	}
	proxies, err := cfg.TrustedProxies()
	if err != nil {
		t.Fatalf("TrustedProxies: %v", err)
	}
	if len(proxies) != 2 || proxies[0].String() != "10.0.0.0/8" || proxies[1].String() != "192.0.2.7/32" {
		t.Errorf("TrustedProxies = %v", proxies)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := Default()
	err = applyEnvOverrides(bad, func(k string) (string, bool) {
		if k == "HRGATE_TOKEN_TTL" {
			return "soon", true
		}
		return "", false
	})
	if err == nil || !strings.Contains(err.Error(), "HRGATE_TOKEN_TTL") {
		t.Fatalf("expected parse error naming the variable, got %v", err)
	}
}
