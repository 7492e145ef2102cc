package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	"github.com/mrpworks/mrp-auth/internal/observability/metrics"
)

// DefaultMetricsPath is where Prometheus metrics are served when MetricsPath is empty.
const DefaultMetricsPath = "/metrics"

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Auth  AuthServiceInterface
	Users UserServiceInterface // optional; user administration routes are skipped when nil
	// Optional: Prometheus collectors. When nil neither the middleware nor the endpoint is mounted.
	Metrics     *metrics.Metrics
	MetricsPath string
	// ReadinessChecks back GET /readyz; the endpoint is omitted when empty.
	ReadinessChecks map[string]Pinger
	Logger          *slog.Logger
}

// NewRouter creates the API router wrapped in recovery, logging and metrics middleware.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	authn := RequireAuth(services.Auth, logger)
	registerAuthRoutes(mux, &AuthHandlers{Svc: services.Auth, Logger: logger}, authn)
	if services.Users != nil {
		registerUserRoutes(mux, &UserHandlers{Svc: services.Users, Logger: logger}, authn)
	}

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	if len(services.ReadinessChecks) > 0 {
		mux.Handle("GET /readyz", readinessHandler(services.ReadinessChecks, logger))
	}
	if services.Metrics != nil {
		path := services.MetricsPath
		if path == "" {
			path = DefaultMetricsPath
		}
		mux.Handle("GET "+path, services.Metrics.Handler())
	}

	var h http.Handler = mux
	h = Metrics(services.Metrics)(h)
	h = Logging(logger)(h)
	return Recover(logger)(h)
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers, authn func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.Handle("POST /api/auth/logout", authn(http.HandlerFunc(h.Logout)))
	mux.Handle("GET /api/auth/me", authn(http.HandlerFunc(h.Me)))
}

func registerUserRoutes(mux *http.ServeMux, h *UserHandlers, authn func(http.Handler) http.Handler) {
	guard := func(hf http.HandlerFunc, roles ...domainauth.Role) http.Handler {
		return authn(RequireRole(roles...)(hf))
	}
	mux.Handle("GET /api/users", guard(h.List, domainauth.RoleAdministrator, domainauth.RoleManager))
	mux.Handle("POST /api/users", guard(h.Create, domainauth.RoleAdministrator))
	mux.Handle("PUT /api/users/{id}/role", guard(h.SetRole, domainauth.RoleAdministrator))
	mux.Handle("PUT /api/users/{id}/password", guard(h.SetPassword, domainauth.RoleAdministrator))
}
