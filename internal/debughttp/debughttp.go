// Package debughttp builds the small HTTP surface every stage binary
// exposes alongside its broker work: liveness, readiness, and Prometheus
// metrics, in the teacher's newMetricsServer style — a plain
// http.NewServeMux wrapping promhttp.HandlerFor, no router library.
package debughttp

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadyFunc reports whether the stage's broker endpoints are open and it
// is ready to serve traffic.
type ReadyFunc func() bool

// NewRouter builds the http.ServeMux exposing /health, /health/ready, and
// /metrics. The health endpoints are this daemon's plain-HTTP analogue to
// the teacher's grpchealth.NewStaticChecker, since this surface has no
// gRPC service to report on.
func NewRouter(reg *prometheus.Registry, ready ReadyFunc) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return mux
}
