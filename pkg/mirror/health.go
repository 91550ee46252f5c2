package mirror

import (
	"encoding/json"
	"net/http"
)

// MakeHealthHandler serves GET /healthcheck, used by the CLI's
// is-healthy subcommand and external load balancer probes alike.
func MakeHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(struct{}{})
	})
}
