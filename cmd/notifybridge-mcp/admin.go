// admin.go — the admin HTTP surface (§6.4): /health and /metrics, gated by
// an optional bearer token (cfg.AuthToken) the same way the MCP stdio
// surface's dispatcher would gate a networked caller, since this surface,
// unlike stdio, can be exposed beyond the local machine.
package main

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dev-console/notifybridge/internal/health"
)

func newAdminRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(authMiddleware(app.cfg.AuthToken))

	r.Get("/health", app.handleHealthEndpoint)
	r.Handle("/metrics", app.metrics.Handler())

	return r
}

// authMiddleware enforces a bearer token on every request when token is
// non-empty. An empty token disables auth entirely, matching the
// dispatcher's own nil-Authenticator convention for the stdio surface.
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != token {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// healthEndpointView is the §6.4 admin health response shape.
type healthEndpointView struct {
	Status        string              `json:"status"`
	LastEventTime *jsonTime           `json:"last_event_time,omitempty"`
	BuildInfo     map[string]string   `json:"build_info,omitempty"`
	Endpoints     []health.Status     `json:"endpoints"`
}

func (app *App) handleHealthEndpoint(w http.ResponseWriter, r *http.Request) {
	view := healthEndpointView{
		Status:    string(app.health.Overall()),
		BuildInfo: map[string]string{"service": "notifybridge"},
		Endpoints: app.health.Snapshot(),
	}
	if t := app.counters.lastEventTime(); t != nil {
		jt := jsonTime(*t)
		view.LastEventTime = &jt
	}

	w.Header().Set("Content-Type", "application/json")
	if !app.health.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = jsonEncode(w, view)
}
