package httpx

import (
	"encoding/json"
	"net/http"
)

// writeJSON renders payload with the given status. An encode failure
// after the header has gone out cannot be reported to the client
// anymore and is dropped.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError speaks the error envelope every endpoint shares:
// {"error": message}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
