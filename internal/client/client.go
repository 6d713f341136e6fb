// Package client is the Go SDK for the hrgate HTTP API. A Client holds one user's access
// token and owns the idle session that decides when that user is logged out.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"hrgate.org/internal/audit"
	"hrgate.org/internal/auth"
	"hrgate.org/internal/directory"
	"hrgate.org/internal/obs"
	"hrgate.org/internal/session"
)

// ErrNotLoggedIn is returned by calls that need a token when the client has none.
var ErrNotLoggedIn = errors.New("client: not logged in")

// LogoutReason says why the client dropped its token.
type LogoutReason string

const (
	LogoutUser         LogoutReason = "user"
	LogoutIdle         LogoutReason = "idle"
	LogoutUnauthorized LogoutReason = "unauthorized"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("hrgate: %d %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("hrgate: %d %s", e.Status, e.Message)
}

// Is maps status codes onto the auth sentinels so callers can use errors.Is.
func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusUnauthorized:
		return target == auth.ErrUnauthenticated
	case http.StatusForbidden:
		return target == auth.ErrForbidden
	case http.StatusBadRequest:
		return target == auth.ErrValidation
	case http.StatusNotFound:
		return target == auth.ErrNotFound
	case http.StatusConflict:
		return target == auth.ErrConflict
	}
	return false
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithSession sets the idle policy applied after login.
func WithSession(cfg session.Config) Option {
	return func(c *Client) { c.sessCfg = cfg }
}

// WithClock drives the idle session from clock instead of the wall clock.
func WithClock(clock session.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// OnLogout registers fn to run whenever the token is dropped.
func OnLogout(fn func(LogoutReason)) Option {
	return func(c *Client) { c.onLogout = fn }
}

// Client calls the API for a single user.
type Client struct {
	base     *url.URL
	hc       *http.Client
	sessCfg  session.Config
	clock    session.Clock
	onLogout func(LogoutReason)

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	sess      *session.Manager
	stopRun   context.CancelFunc
	runDone   chan struct{}
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: base url %q must be http or https", baseURL)
	}
	c := &Client{base: u, hc: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.sessCfg.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Session is the identity returned by Login.
type Session struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Principal struct {
		ID    string    `json:"id"`
		Email string    `json:"email"`
		Role  auth.Role `json:"role"`
	} `json:"principal"`
}

// Login exchanges credentials for a token and starts a fresh idle session. A previous
// session is ended first.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var s Session
	body := map[string]string{"email": email, "password": password}
	if err := c.send(ctx, http.MethodPost, "/v1/auth/login", "", body, &s); err != nil {
		return Session{}, err
	}
	if s.Token == "" {
		return Session{}, errors.New("client: login returned no token")
	}
	mgr, err := session.New(c.sessCfg, c.clock)
	if err != nil {
		return Session{}, err
	}
	if err := mgr.Start(); err != nil {
		return Session{}, err
	}

	c.mu.Lock()
	c.endLocked()
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.token, c.expiresAt, c.sess = s.Token, s.ExpiresAt, mgr
	c.stopRun, c.runDone = cancel, done
	c.mu.Unlock()

	events := mgr.Subscribe(runCtx)
	go func() {
		defer close(done)
		_ = mgr.Run(runCtx, nil)
	}()
	go c.watch(mgr, events)
	return s, nil
}

// watch drops the token when mgr reports idle expiry.
func (c *Client) watch(mgr *session.Manager, events <-chan session.Event) {
	for evt := range events {
		if evt.Kind == session.EventExpired {
			c.drop(mgr, LogoutIdle)
			return
		}
	}
}

// drop forgets the token if mgr still owns the current session.
func (c *Client) drop(mgr *session.Manager, reason LogoutReason) {
	c.mu.Lock()
	if c.sess != mgr || c.token == "" {
		c.mu.Unlock()
		return
	}
	c.endLocked()
	fn := c.onLogout
	c.mu.Unlock()
	obs.Logger().Info("client session ended", "reason", string(reason))
	if fn != nil {
		fn(reason)
	}
}

func (c *Client) endLocked() {
	if c.stopRun != nil {
		c.stopRun()
	}
	if c.sess != nil {
		c.sess.Stop()
	}
	c.token, c.expiresAt, c.sess, c.stopRun = "", time.Time{}, nil, nil
}

// Logout revokes the token server-side and drops it locally. The local token is dropped
// even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	token, mgr := c.token, c.sess
	c.mu.Unlock()
	if token == "" {
		return ErrNotLoggedIn
	}
	err := c.send(ctx, http.MethodPost, "/v1/auth/logout", token, nil, nil)
	c.drop(mgr, LogoutUser)
	return err
}

// Activity reports a user interaction, renewing the idle deadline.
func (c *Client) Activity(kind session.ActivityKind) bool {
	c.mu.Lock()
	mgr := c.sess
	c.mu.Unlock()
	if mgr == nil {
		return false
	}
	return mgr.Activity(kind)
}

// Events streams warning and expiry events of the current session. The channel closes
// when ctx ends or the session ends.
func (c *Client) Events(ctx context.Context) <-chan session.Event {
	c.mu.Lock()
	mgr := c.sess
	c.mu.Unlock()
	if mgr == nil {
		ch := make(chan session.Event)
		close(ch)
		return ch
	}
	return mgr.Subscribe(ctx)
}

// Token returns the current access token, or "" when logged out.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// TokenExpiresAt reports when the current token stops being accepted.
func (c *Client) TokenExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

// LoggedIn reports whether the client holds a token.
func (c *Client) LoggedIn() bool { return c.Token() != "" }

// Close ends the session without calling the server.
func (c *Client) Close() {
	c.mu.Lock()
	done := c.runDone
	c.endLocked()
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Do sends an authenticated request and decodes a JSON answer into out when non-nil.
// A 401 answer drops the token.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	c.mu.Lock()
	token, mgr := c.token, c.sess
	c.mu.Unlock()
	if token == "" {
		return ErrNotLoggedIn
	}
	err := c.send(ctx, method, path, token, body, out)
	if errors.Is(err, auth.ErrUnauthenticated) {
		c.drop(mgr, LogoutUnauthorized)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path, token string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		if e.RequestID == "" {
			e.RequestID = resp.Header.Get("X-Request-ID")
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error, RequestID: e.RequestID}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

// Me returns the caller's identity and scope.
func (c *Client) Me(ctx context.Context) (auth.View, error) {
	var v auth.View
	err := c.Do(ctx, http.MethodGet, "/v1/auth/me", nil, &v)
	return v, err
}

// Probe checks whether token is accepted, without touching the client's own session.
func (c *Client) Probe(ctx context.Context, token string) error {
	return c.send(ctx, http.MethodGet, "/v1/auth/me", token, nil, nil)
}

// ChangePassword sets a new password for principalID.
func (c *Client) ChangePassword(ctx context.Context, principalID, newPassword string) error {
	return c.Do(ctx, http.MethodPost, "/v1/auth/password", map[string]string{
		"principal_id": principalID,
		"new_password": newPassword,
	}, nil)
}

func (c *Client) CreateDepartment(ctx context.Context, companyID, name string) (directory.Department, error) {
	var d directory.Department
	err := c.Do(ctx, http.MethodPost, "/v1/departments", map[string]string{"company_id": companyID, "name": name}, &d)
	return d, err
}

func (c *Client) GetDepartment(ctx context.Context, id string) (directory.Department, error) {
	var d directory.Department
	err := c.Do(ctx, http.MethodGet, "/v1/departments/"+url.PathEscape(id), nil, &d)
	return d, err
}

func (c *Client) RenameDepartment(ctx context.Context, id, name string) (directory.Department, error) {
	var d directory.Department
	err := c.Do(ctx, http.MethodPatch, "/v1/departments/"+url.PathEscape(id), directory.DepartmentPatch{Name: &name}, &d)
	return d, err
}

func (c *Client) DeleteDepartment(ctx context.Context, id string) error {
	return c.Do(ctx, http.MethodDelete, "/v1/departments/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListDepartments(ctx context.Context, companyID string) ([]directory.Department, error) {
	var out struct {
		Departments []directory.Department `json:"departments"`
	}
	err := c.Do(ctx, http.MethodGet, "/v1/companies/"+url.PathEscape(companyID)+"/departments", nil, &out)
	return out.Departments, err
}

func (c *Client) GetEmployee(ctx context.Context, id string) (directory.Employee, error) {
	var e directory.Employee
	err := c.Do(ctx, http.MethodGet, "/v1/employees/"+url.PathEscape(id), nil, &e)
	return e, err
}

// ListAudit queries the audit log. Admin only.
func (c *Client) ListAudit(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("entity_type", f.EntityType)
	set("entity_id", f.EntityID)
	set("actor_id", f.ActorID)
	set("verb", string(f.Verb))
	if !f.Since.IsZero() {
		q.Set("since", f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		q.Set("until", f.Until.UTC().Format(time.RFC3339))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	path := "/v1/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Records []audit.Record `json:"records"`
	}
	err := c.Do(ctx, http.MethodGet, path, nil, &out)
	return out.Records, err
}

// ServerSessionPolicy reads the idle policy the server publishes on /v1/info, for use
// with WithSession.
func (c *Client) ServerSessionPolicy(ctx context.Context) (session.Config, error) {
	var info struct {
		Session struct {
			TimeoutSeconds    int `json:"timeout_seconds"`
			WarnBeforeSeconds int `json:"warn_before_seconds"`
		} `json:"session"`
	}
	if err := c.send(ctx, http.MethodGet, "/v1/info", "", nil, &info); err != nil {
		return session.Config{}, err
	}
	cfg := session.Config{
		Timeout:    time.Duration(info.Session.TimeoutSeconds) * time.Second,
		WarnBefore: time.Duration(info.Session.WarnBeforeSeconds) * time.Second,
	}
	return cfg, cfg.Validate()
}

// WithTimeout returns a context with a default timeout for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
