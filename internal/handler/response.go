// Package handler contains chi HTTP handlers and middleware that translate
// HTTP requests and responses to and from the booking service.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
)

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, msgs ...string) {
	if msgs == nil {
		msgs = []string{}
	}
	writeJSON(w, status, model.ErrorResponse{Code: code, Errors: msgs})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps an error kind from the booking engines to a status
// code. Internal errors are not echoed to the client.
func writeServiceError(w http.ResponseWriter, err error) {
	code := model.Code(err)
	switch {
	case model.IsValidationError(err):
		writeError(w, http.StatusBadRequest, code, err.Error())
	case model.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, code, notFoundMessage(err))
	case model.IsConflictError(err):
		writeError(w, http.StatusConflict, code, err.Error())
	case errors.Is(err, model.ErrBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, code, model.ErrBusy.Error())
	default:
		writeError(w, http.StatusInternalServerError, code, "internal server error")
	}
}

func notFoundMessage(err error) string {
	if errors.Is(err, model.ErrEventNotFound) {
		return model.ErrEventNotFound.Error()
	}
	return model.ErrNotFound.Error()
}
