// v1
// internal/httpx/respond.go
package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"homemon/internal/reading"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg}.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// StatusFor maps reading errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, reading.ErrAcquisitionFailure):
		return http.StatusBadGateway
	case errors.Is(err, reading.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Fail logs err and writes the mapped JSON error.
func Fail(w http.ResponseWriter, log *slog.Logger, event string, err error) {
	status := StatusFor(err)
	log.Error(event, slog.Int("status", status), slog.Any("err", err))
	WriteError(w, status, err.Error())
}
