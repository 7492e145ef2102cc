package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// readinessTimeout bounds all dependency checks of one /readyz request.
const readinessTimeout = 2 * time.Second

// Pinger reports whether one dependency (database, Redis) is reachable.
type Pinger func(ctx context.Context) error

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler is the liveness probe. It never touches dependencies.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, r, http.StatusOK, healthResponse{Status: "ok"})
}

// readinessHandler runs every check concurrently and answers 503 if any failed.
// Failure details stay in the log; the body only names the failing dependency.
func readinessHandler(checks map[string]Pinger, logger *slog.Logger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		results := make(map[string]string, len(names))
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, name := range names {
			wg.Add(1)
			go func(name string, ping Pinger) {
				defer wg.Done()
				status := "ok"
				if err := ping(ctx); err != nil {
					status = "unavailable"
					logger.WarnContext(r.Context(), "readiness check failed", "dependency", name, "error", err)
				}
				mu.Lock()
				results[name] = status
				mu.Unlock()
			}(name, checks[name])
		}
		wg.Wait()

		resp := healthResponse{Status: "ok", Checks: results}
		code := http.StatusOK
		for _, s := range results {
			if s != "ok" {
				resp.Status = "unavailable"
				code = http.StatusServiceUnavailable
				break
			}
		}
		writeHealth(w, r, code, resp)
	}
}

func writeHealth(w http.ResponseWriter, r *http.Request, code int, resp healthResponse) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		return
	}
	WriteJSON(w, code, resp)
}
