package server

import (
	"io"
	"net/http"
)

// HealthHandler answers liveness probes. Poll state per account lives on
// /accounts; this endpoint only says the process is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok\n")
}
