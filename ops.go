package kernel

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/kernel/eventhub"
)

// NewOpsHandler builds an HTTP handler exposing the kernel's operational
// surface: /healthz (context health map), /plugins (plugin states) and
// /metrics (Prometheus). The kernel never starts a listener itself; embed
// the handler into whatever server the host application runs.
func NewOpsHandler(app *ApplicationContext) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(eventhub.NewPrometheusCollector(app.EventHub(), ""))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		health := app.CheckHealth()
		healthy := true
		for _, entry := range health {
			if !entry.Healthy {
				healthy = false
				break
			}
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"phase":      string(app.Phase()),
			"healthy":    healthy,
			"subsystems": health,
		})
	})

	r.Get("/plugins", func(w http.ResponseWriter, req *http.Request) {
		engine := app.Engine()
		plugins := make([]map[string]interface{}, 0)
		for _, id := range engine.Registry().IDs() {
			p, ok := engine.Plugin(id)
			if !ok {
				continue
			}
			plugins = append(plugins, map[string]interface{}{
				"id":     p.ID(),
				"state":  string(p.State()),
				"health": p.Health(),
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"engineState": string(engine.State()),
			"plugins":     plugins,
		})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
