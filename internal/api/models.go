package api

import (
	"encoding/json"
	"net/http"

	perrors "parkwatch/internal/errors"
)

// Monitors
type CreateMonitorRequest struct {
	Query           string `json:"query"`
	Recipient       string `json:"recipient"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Operator login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as {error, message, payload} with the mapped status.
func writeError(w http.ResponseWriter, err error) {
	httpErr := perrors.ToHTTP(err)
	writeJSON(w, httpErr.Code, httpErr)
}
