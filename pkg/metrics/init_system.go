package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// initSystemMetrics registers the runtime and process collectors alongside
// the engine's own uptime and build information.
func (r *Registry) initSystemMetrics() {
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "onechain"}),
	)

	r.UptimeSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "onechain_engine_uptime_seconds",
			Help: "Seconds since the engine was opened",
		},
	)

	r.BuildInfo = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onechain_build_info",
			Help: "Always 1, labelled with the binary version and Go runtime",
		},
		[]string{"version", "go_version"},
	)
}

// SetBuildInfo publishes version on the build info gauge
func (r *Registry) SetBuildInfo(version string) {
	r.BuildInfo.WithLabelValues(version, runtime.Version()).Set(1)
}
