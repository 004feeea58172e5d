package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandler serves the worker's ops surface: /healthz is liveness,
// /readyz reports not-ready while draining or while a backing service fails
// its ping, /metrics exposes the prometheus registry.
func HealthHandler(r *Runner, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if !r.Ready() {
			http.Error(w, "draining", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(req.Context(), time.Second)
		defer cancel()

		failing := make([]string, 0)

		for name, ping := range r.d.Pings {
			if ping == nil {
				continue
			}
			if err := ping(ctx); err != nil {
				failing = append(failing, name)
			}
		}

		if len(failing) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":  "not_ready",
				"failing": failing,
			})
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return mux
}
