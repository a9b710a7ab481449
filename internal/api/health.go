package api

import "net/http"

// HealthHandler reports liveness with the service name and version.
func HealthHandler(service, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": service,
			"version": version,
		})
	}
}
