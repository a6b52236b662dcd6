// Package httptransport assembles the public HTTP surface: the resolution
// API, the health probe and the metrics scrape endpoint.
package httptransport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"controlplane/internal/platform/metrics"
	"controlplane/internal/resolution/handler"
	"controlplane/pkg/platform/httputil"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewRouter wires the API handler plus the unauthenticated operational
// endpoints. checks maps dependency names to health probes; a nil checker is
// skipped so optional dependencies (cache, broker) don't fail the probe.
func NewRouter(api *handler.Handler, m *metrics.Metrics, checks map[string]HealthChecker) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Health(req.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
			}
		}
		httputil.WriteJSON(w, status, body)
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	api.Register(r)
	return r
}
