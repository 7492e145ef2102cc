package httpx

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

// authenticatorFunc adapts a function to Authenticator.
type authenticatorFunc func(ctx context.Context, token string) (*domainauth.User, ports.TokenClaims, error)

func (f authenticatorFunc) Authenticate(ctx context.Context, token string) (*domainauth.User, ports.TokenClaims, error) {
	return f(ctx, token)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{header: "", want: ""},
		{header: "Bearer abc", want: "abc"},
		{header: "bearer abc", want: "abc"},
		{header: "  Bearer   abc  ", want: "abc"},
		{header: "Basic abc", want: ""},
		{header: "Bearer", want: ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", tt.header)
		assert.Equal(t, tt.want, bearerToken(r), "header %q", tt.header)
	}
}

func TestRequireAuth_AttachesUser(t *testing.T) {
	user := &domainauth.User{ID: "u-1", Role: domainauth.RoleStaff}
	auth := authenticatorFunc(func(_ context.Context, token string) (*domainauth.User, ports.TokenClaims, error) {
		require.Equal(t, "tok", token)
		return user, ports.TokenClaims{}, nil
	})

	var seen *domainauth.User
	h := RequireAuth(auth, slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		assert.Equal(t, "tok", TokenFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Same(t, user, seen)
}

func TestRequireAuth_BackendFailureIs500(t *testing.T) {
	auth := authenticatorFunc(func(context.Context, string) (*domainauth.User, ports.TokenClaims, error) {
		return nil, ports.TokenClaims{}, errors.New("redis down")
	})
	h := RequireAuth(auth, slog.Default())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "internal", body.Code)
	assert.NotContains(t, body.Error, "redis")
}

func TestRequireRole_WithoutUser(t *testing.T) {
	h := RequireRole(domainauth.RoleAdministrator)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole_Sets(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	tests := []struct {
		name  string
		role  domainauth.Role
		roles []domainauth.Role
		want  int
	}{
		{name: "member", role: domainauth.RoleManager, roles: []domainauth.Role{domainauth.RoleAdministrator, domainauth.RoleManager}, want: http.StatusOK},
		{name: "not member", role: domainauth.RoleOperator, roles: []domainauth.Role{domainauth.RoleAdministrator}, want: http.StatusForbidden},
		{name: "empty set", role: domainauth.RoleAdministrator, roles: nil, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r = r.WithContext(SetUserInContext(r.Context(), &domainauth.User{ID: "u", Role: tt.role}, "tok"))
			rec := httptest.NewRecorder()
			RequireRole(tt.roles...)(ok).ServeHTTP(rec, r)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRecover(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	h := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/explode", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decodeError(t, rec).Code)
	assert.Contains(t, logs.String(), "boom")
	assert.Contains(t, logs.String(), "/explode")
}

func TestLogging(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	assert.Contains(t, logs.String(), `"status":418`)
	assert.Contains(t, logs.String(), `"path":"/brew"`)
}

func TestMetricsMiddleware_RecordsRoutePattern(t *testing.T) {
	f := newAPIFixture(t)

	for range 2 {
		f.do(t, http.MethodGet, "/healthz", "", nil)
	}
	f.do(t, http.MethodGet, "/nowhere", "", nil)
	f.do(t, http.MethodGet, "/api/users/", "", nil)

	m := f.metrics
	assert.InDelta(t, 2, promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "GET /healthz", "200")), 0)
	assert.InDelta(t, 2, promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")), 0)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "admin@example.com", "admin123")

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mrp_auth_logins_total{result="success"} 1`)
	assert.Contains(t, rec.Body.String(), "mrp_auth_http_requests_total")
}
