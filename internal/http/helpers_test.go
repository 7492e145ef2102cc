package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrpworks/mrp-auth/internal/adapters/jwtissuer"
	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	mocks "github.com/mrpworks/mrp-auth/internal/mocks/auth"
	"github.com/mrpworks/mrp-auth/internal/observability/metrics"
	"github.com/mrpworks/mrp-auth/internal/service"
	"github.com/mrpworks/mrp-auth/internal/testutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type apiFixture struct {
	handler  http.Handler
	users    *mocks.MemoryUserRepo
	sessions *mocks.MemorySessionStore
	metrics  *metrics.Metrics
}

func account(t *testing.T, id, email, password string, role domainauth.Role) domainauth.Account {
	t.Helper()
	hash, err := testutil.FastHasher().Hash(password)
	require.NoError(t, err)
	return domainauth.Account{
		User:         domainauth.User{ID: id, Email: email, Role: role},
		PasswordHash: hash,
	}
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	issuer, err := jwtissuer.New(jwtissuer.Options{Secret: testSecret, Issuer: "mrp-test", TTL: time.Hour})
	require.NoError(t, err)

	f := &apiFixture{
		users: mocks.NewMemoryUserRepo(
			testutil.AdminAccount(),
			account(t, "u-manager", "manager@example.com", "manager123", domainauth.RoleManager),
			account(t, "u-staff", "staff@example.com", "staff123", domainauth.RoleStaff),
		),
		sessions: mocks.NewMemorySessionStore(),
		metrics:  metrics.New(),
	}
	authSvc, err := service.NewAuthService(service.AuthServiceOptions{
		Users:    f.users,
		Hasher:   testutil.FastHasher(),
		Tokens:   issuer,
		Sessions: f.sessions,
		Metrics:  f.metrics,
	})
	require.NoError(t, err)
	userSvc, err := service.NewUserService(service.UserServiceOptions{
		Users:   f.users,
		Hasher:  testutil.FastHasher(),
		Revoker: f.sessions,
		Metrics: f.metrics,
	})
	require.NoError(t, err)

	f.handler = NewRouter(RouterServices{Auth: authSvc, Users: userSvc, Metrics: f.metrics})
	return f
}

// do sends a JSON request through the router and returns the recorded response.
func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}
