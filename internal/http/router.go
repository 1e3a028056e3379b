package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	platformmetrics "accessgate/internal/platform/metrics"
	"accessgate/pkg/platform/httputil"
	adminmw "accessgate/pkg/platform/middleware/admin"
	authmw "accessgate/pkg/platform/middleware/auth"
	"accessgate/pkg/platform/middleware/metadata"
	request "accessgate/pkg/platform/middleware/request"
	"accessgate/pkg/platform/middleware/requesttime"
)

// Registrar mounts a feature's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the pieces the router needs from main.
type Deps struct {
	Logger     *slog.Logger
	AdminToken string
	Metrics    *platformmetrics.Metrics
	// Live streams notification events; nil disables the endpoint.
	Live     http.Handler
	Features []Registrar
	Health   map[string]HealthCheck
	// Backends names the implementation behind each store, e.g. "memory".
	Backends map[string]string
}

// NewRouter wires the public endpoints and the admin surface. Everything
// under /admin requires the admin token and an actor identity.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Get("/health", healthHandler(d.Health, d.Backends))

	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(d.AdminToken, d.Logger))
		r.Use(authmw.RequireActor(d.Logger))
		for _, f := range d.Features {
			f.Register(r)
		}
		if d.Live != nil {
			r.Handle("/admin/approvals/live", d.Live)
		}
	})
	return r
}

type healthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks,omitempty"`
	Backends map[string]string `json:"backends,omitempty"`
}

func healthHandler(checks map[string]HealthCheck, backends map[string]string) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Backends: backends}
		status := http.StatusOK
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			if err := checks[name](r.Context()); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
