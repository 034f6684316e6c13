// Package httputil holds the JSON response helpers shared by the debug
// handlers.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/banshee-data/modeld/internal/monitoring"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.L().Warnw("failed to encode json response", "error", err)
	}
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// InternalError reports err as a 500.
func InternalError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, err.Error())
}

// QueryInt parses the query parameter key. Missing, malformed or out of
// range values yield def.
func QueryInt(r *http.Request, key string, def, lo, hi int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return def
	}
	return n
}
