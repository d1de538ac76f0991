package httpapi

import (
	"encoding/json"
	"net/http"

	"inferd/internal/service"
	"inferd/internal/session"
	"inferd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusForError maps service and session errors onto HTTP status codes.
func statusForError(err error) int {
	if service.IsTooBusy(err) {
		return http.StatusTooManyRequests
	}
	if service.IsDependencyUnavailable(err) {
		return http.StatusServiceUnavailable
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	switch session.CodeOf(err) {
	case session.CodeInvalidParameters, session.CodeImageProcessingFailed,
		session.CodeModelInvalid, session.CodeMmprojInvalid:
		return http.StatusBadRequest
	case session.CodeModelNotFound, session.CodeMmprojNotFound:
		return http.StatusNotFound
	case session.CodeAlreadyInitialized:
		return http.StatusConflict
	case session.CodeNotInitialized:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError maps err to a status and writes the uniform JSON error body.
func writeError(w http.ResponseWriter, err error) int {
	status := statusForError(err)
	var code string
	if c := session.CodeOf(err); c != "" && c != session.CodeUnknown {
		code = string(c)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: err.Error(), Code: code})
	return status
}

// writeJSONError writes a consistent JSON error payload with a fixed status.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg})
}
