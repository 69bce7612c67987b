package health

import (
	"encoding/json"
	"net/http"
)

// HTTPHandler serves every check. Degraded still answers 200.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return handler(c.Check, false)
}

// ReadinessHandler serves the readiness checks. Anything but healthy is 503.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return handler(c.CheckReadiness, true)
}

// LivenessHandler serves the liveness checks. Anything but healthy is 503.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return handler(c.CheckLiveness, true)
}

// Mount mounts /health, /health/ready and /health/live on mux
func (c *Checker) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/health", c.HTTPHandler())
	mux.HandleFunc("/health/ready", c.ReadinessHandler())
	mux.HandleFunc("/health/live", c.LivenessHandler())
}

func handler(run func() Response, strict bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := run()

		w.Header().Set("Content-Type", "application/json")

		status := http.StatusOK
		switch {
		case response.Status == StatusUnhealthy:
			status = http.StatusServiceUnavailable
		case strict && response.Status != StatusHealthy:
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)

		_ = json.NewEncoder(w).Encode(response)
	}
}
