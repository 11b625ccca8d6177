package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"reqlens/internal/domain"
)

type apiErrorBody struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	if code == "" {
		code = http.StatusText(status)
	}
	writeJSON(w, status, apiErrorBody{Error: apiError{Code: code, Message: message, Details: details}})
}

// writeDomainError maps sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error, details any) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), details)
	case errors.Is(err, domain.ErrInvalidOptions):
		writeError(w, http.StatusBadRequest, "INVALID_OPTIONS", err.Error(), details)
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), details)
	}
}
