package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/soundweave/internal/fleet"
	"github.com/nerrad567/soundweave/internal/soundtouch"
	"github.com/nerrad567/soundweave/internal/zone"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeDeviceError  = "device_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeDeviceError writes a 502 error response for a failed device exchange.
func writeDeviceError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadGateway, ErrCodeDeviceError, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps domain errors onto HTTP responses:
// invalid requests are the caller's fault (400), unknown speakers are 404,
// missing observed state or unresolved identity cannot be served yet (409),
// and device exchange failures surface as 502.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, zone.ErrInvalidRequest):
		writeBadRequest(w, err.Error())
	case errors.Is(err, zone.ErrUnknownSpeaker), errors.Is(err, fleet.ErrSpeakerNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, zone.ErrStateUnavailable), errors.Is(err, soundtouch.ErrIdentityUnresolved):
		writeConflict(w, err.Error())
	case soundtouch.IsProtocolError(err):
		writeDeviceError(w, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}
