// Package config loads hrgate settings from an optional YAML file, applies
// HRGATE_* environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hrgate.org/internal/audit"
	"hrgate.org/internal/auth"
	"hrgate.org/internal/session"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Revocation backends.
const (
	RevocationNone   = "none"
	RevocationMemory = "memory"
	RevocationRedis  = "redis"
)

type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	GRPC       GRPCConfig       `yaml:"grpc"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Revocation RevocationConfig `yaml:"revocation"`
	Audit      AuditConfig      `yaml:"audit"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Session    SessionConfig    `yaml:"session"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`

	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For is honored.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// GRPCConfig controls the delegation listener. An empty Addr disables it.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Store string `yaml:"store"`
	DSN   string `yaml:"dsn"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	HashCost int           `yaml:"hash_cost"`
}

type RevocationConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type AuditConfig struct {
	FailurePolicy string `yaml:"failure_policy"`
}

// RateLimitConfig throttles login attempts per client IP.
type RateLimitConfig struct {
	LoginPerMinute int `yaml:"login_per_minute"`
	LoginBurst     int `yaml:"login_burst"`
}

type SessionConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	WarnBefore    time.Duration `yaml:"warn_before"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{Store: StoreMemory},
		Auth: AuthConfig{
			Issuer:   auth.DefaultIssuer,
			TokenTTL: auth.DefaultTokenTTL,
			HashCost: auth.DefaultHashCost,
		},
		Revocation: RevocationConfig{Backend: RevocationMemory},
		Audit:      AuditConfig{FailurePolicy: string(audit.FailClosed)},
		RateLimit:  RateLimitConfig{LoginPerMinute: 10, LoginBurst: 5},
		Session: SessionConfig{
			Timeout:       session.DefaultTimeout,
			WarnBefore:    session.DefaultWarnBefore,
			CheckInterval: session.DefaultCheckInterval,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path when it is not empty, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for tools that only need part of the configuration.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("HRGATE_HTTP_ADDR", &cfg.HTTP.Addr)
	str("HRGATE_GRPC_ADDR", &cfg.GRPC.Addr)
	str("HRGATE_STORE", &cfg.Database.Store)
	str("HRGATE_PG_DSN", &cfg.Database.DSN)
	str("HRGATE_JWT_SECRET", &cfg.Auth.Secret)
	str("HRGATE_JWT_ISSUER", &cfg.Auth.Issuer)
	dur("HRGATE_TOKEN_TTL", &cfg.Auth.TokenTTL)
	num("HRGATE_HASH_COST", &cfg.Auth.HashCost)
	str("HRGATE_REVOCATION", &cfg.Revocation.Backend)
	str("HRGATE_REDIS_ADDR", &cfg.Revocation.RedisAddr)
	str("HRGATE_REDIS_PASSWORD", &cfg.Revocation.RedisPassword)
	num("HRGATE_REDIS_DB", &cfg.Revocation.RedisDB)
	str("HRGATE_AUDIT_FAILURE_POLICY", &cfg.Audit.FailurePolicy)
	num("HRGATE_LOGIN_PER_MINUTE", &cfg.RateLimit.LoginPerMinute)
	dur("HRGATE_SESSION_TIMEOUT", &cfg.Session.Timeout)
	dur("HRGATE_SESSION_WARN_BEFORE", &cfg.Session.WarnBefore)
	str("HRGATE_LOG_LEVEL", &cfg.Logging.Level)

	list := func(key string, dst *[]string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		*dst = nil
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				*dst = append(*dst, item)
			}
		}
	}
	list("HRGATE_CORS_ORIGINS", &cfg.HTTP.CORSOrigins)
	list("HRGATE_TRUSTED_PROXIES", &cfg.HTTP.TrustedProxies)
	// A DSN without an explicit store selects postgres.
	if _, ok := lookup("HRGATE_STORE"); !ok && cfg.Database.DSN != "" && cfg.Database.Store == StoreMemory {
		cfg.Database.Store = StorePostgres
	}
	return errors.Join(errs...)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if len(c.Auth.Secret) < auth.MinSecretBytes {
		errs = append(errs, fmt.Errorf("auth.secret must be at least %d bytes", auth.MinSecretBytes))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if _, err := auth.NewHasher(c.Auth.HashCost); err != nil {
		errs = append(errs, err)
	}
	switch c.Database.Store {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.store %q is not one of memory, postgres", c.Database.Store))
	}
	switch c.Revocation.Backend {
	case RevocationNone, RevocationMemory:
	case RevocationRedis:
		if strings.TrimSpace(c.Revocation.RedisAddr) == "" {
			errs = append(errs, errors.New("revocation.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("revocation.backend %q is not one of none, memory, redis", c.Revocation.Backend))
	}
	if _, err := audit.ParsePolicy(c.Audit.FailurePolicy); err != nil {
		errs = append(errs, err)
	}
	if c.RateLimit.LoginPerMinute < 0 || c.RateLimit.LoginBurst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if err := c.SessionPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.TrustedProxies(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SessionPolicy converts the session section for session.New.
func (c *Config) SessionPolicy() session.Config {
	return session.Config{
		Timeout:       c.Session.Timeout,
		WarnBefore:    c.Session.WarnBefore,
		CheckInterval: c.Session.CheckInterval,
	}
}

// TrustedProxies parses http.trusted_proxies. A bare address is a single-host prefix.
func (c *Config) TrustedProxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.HTTP.TrustedProxies))
	for _, raw := range c.HTTP.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("http.trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("http.trusted_proxies: %w", err)
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}

// AuditPolicy returns the parsed failure policy. Validate has already rejected bad values.
func (c *Config) AuditPolicy() audit.Policy {
	p, err := audit.ParsePolicy(c.Audit.FailurePolicy)
	if err != nil {
		return audit.FailClosed
	}
	return p
}
