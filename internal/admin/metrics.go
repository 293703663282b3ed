package admin

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler exposes every metric registered process-wide (by
// internal/replication and any other package calling
// prometheus.MustRegister in its own init()) on a single /metrics
// endpoint, mirroring the teacher's Prometheus exporter wiring.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
