package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrgate.org/internal/auth"
	"hrgate.org/internal/session"
)

type fakeServer struct {
	*httptest.Server
	revoked atomic.Bool
	meCalls atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["password"] != "secret-pass" {
			w.Header().Set("X-Request-ID", "rid-1")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"not authenticated"}`))
			return
		}
		fs.revoked.Store(false)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      "tok-1",
			"token_type": "Bearer",
			"expires_at": time.Now().Add(15 * time.Minute).UTC(),
			"principal":  map[string]any{"id": "usr_1", "email": req["email"], "role": "employee"},
		})
	})
	mux.HandleFunc("GET /v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		fs.meCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok-1" || fs.revoked.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"not authenticated","request_id":"rid-2"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(auth.View{PrincipalID: "usr_1", Email: "ada@example.com", Role: auth.RoleEmployee})
	})
	mux.HandleFunc("POST /v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		fs.revoked.Store(true)
		_ = json.NewEncoder(w).Encode(map[string]any{"revoked": true})
	})
	mux.HandleFunc("GET /v1/departments/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"access denied"}`))
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func TestAPIErrorMapsStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, auth.ErrUnauthenticated},
		{http.StatusForbidden, auth.ErrForbidden},
		{http.StatusBadRequest, auth.ErrValidation},
		{http.StatusNotFound, auth.ErrNotFound},
		{http.StatusConflict, auth.ErrConflict},
	}
	for _, tc := range cases {
		err := error(&APIError{Status: tc.status, Message: "x"})
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}
	assert.False(t, errors.Is(&APIError{Status: http.StatusInternalServerError}, auth.ErrStoreFailure))
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("ftp://example.com")
	require.Error(t, err)

	_, err = New("http://example.com", WithSession(session.Config{Timeout: time.Minute, WarnBefore: time.Minute}))
	require.Error(t, err)
}

func TestLoginAttachesBearer(t *testing.T) {
	srv := newFakeServer(t)
	c, err := New(srv.URL)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Me(ctx)
	require.ErrorIs(t, err, ErrNotLoggedIn)

	s, err := c.Login(ctx, "ada@example.com", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", s.Token)
	assert.Equal(t, "usr_1", s.Principal.ID)
	assert.True(t, c.LoggedIn())
	assert.Equal(t, s.ExpiresAt, c.TokenExpiresAt())

	v, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", v.PrincipalID)

	_, err = c.GetDepartment(ctx, "dep_1")
	require.ErrorIs(t, err, auth.ErrForbidden)
	assert.True(t, c.LoggedIn(), "403 must not drop the token")
}

func TestLoginFailureKeepsClientLoggedOut(t *testing.T) {
	srv := newFakeServer(t)
	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "ada@example.com", "wrong")
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "rid-1", apiErr.RequestID)
	assert.False(t, c.LoggedIn())
}

func TestUnauthorizedAnswerForcesLogout(t *testing.T) {
	srv := newFakeServer(t)
	reasons := make(chan LogoutReason, 1)
	c, err := New(srv.URL, OnLogout(func(r LogoutReason) { reasons <- r }))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Login(ctx, "ada@example.com", "secret-pass")
	require.NoError(t, err)

	srv.revoked.Store(true)
	_, err = c.Me(ctx)
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
	assert.False(t, c.LoggedIn())
	assert.Equal(t, LogoutUnauthorized, <-reasons)

	calls := srv.meCalls.Load()
	_, err = c.Me(ctx)
	require.ErrorIs(t, err, ErrNotLoggedIn)
	assert.Equal(t, calls, srv.meCalls.Load(), "no request without a token")
}

func TestLogoutRevokesAndDropsToken(t *testing.T) {
	srv := newFakeServer(t)
	reasons := make(chan LogoutReason, 1)
	c, err := New(srv.URL, OnLogout(func(r LogoutReason) { reasons <- r }))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Login(ctx, "ada@example.com", "secret-pass")
	require.NoError(t, err)
	require.NoError(t, c.Logout(ctx))
	assert.True(t, srv.revoked.Load())
	assert.False(t, c.LoggedIn())
	assert.Equal(t, LogoutUser, <-reasons)
	require.ErrorIs(t, c.Logout(ctx), ErrNotLoggedIn)
}

func TestIdleSessionExpiryDropsToken(t *testing.T) {
	srv := newFakeServer(t)
	clock := session.NewManualClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	reasons := make(chan LogoutReason, 1)
	c, err := New(srv.URL,
		WithClock(clock),
		WithSession(session.Config{Timeout: 10 * time.Minute, WarnBefore: 2 * time.Minute, CheckInterval: time.Minute}),
		OnLogout(func(r LogoutReason) { reasons <- r }),
	)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Login(ctx, "ada@example.com", "secret-pass")
	require.NoError(t, err)

	events := c.Events(ctx)
	deadline := time.After(5 * time.Second)
	for {
		clock.Advance(time.Minute)
		select {
		case evt, ok := <-events:
			if ok && evt.Kind == session.EventWarning {
				assert.LessOrEqual(t, evt.MinutesRemaining, 2)
			}
		case r := <-reasons:
			assert.Equal(t, LogoutIdle, r)
			assert.False(t, c.LoggedIn())
			return
		case <-deadline:
			t.Fatal("session never expired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestActivityRenewsDeadline(t *testing.T) {
	srv := newFakeServer(t)
	clock := session.NewManualClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	c, err := New(srv.URL, WithClock(clock), WithSession(session.Config{Timeout: 10 * time.Minute, WarnBefore: 2 * time.Minute}))
	require.NoError(t, err)
	defer c.Close()

	assert.False(t, c.Activity(session.ActivityKey), "no session before login")

	_, err = c.Login(context.Background(), "ada@example.com", "secret-pass")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	assert.True(t, c.Activity(session.ActivityPointer))
	assert.False(t, c.Activity(session.ActivityKind("focus")))
	assert.True(t, c.LoggedIn())
}
