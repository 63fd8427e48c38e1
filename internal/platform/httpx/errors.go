package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses. Unmapped errors are reported
// with fallback so internal detail never leaks.
func RespondError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		Error(w, http.StatusNotFound, "Not Found")
	case errors.Is(err, ErrValidation):
		Error(w, http.StatusBadRequest, "Validation Failed")
	case errors.Is(err, ErrForbidden):
		Error(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, ErrUnauthorized):
		Error(w, http.StatusUnauthorized, "Unauthorized")
	default:
		if fallback == "" {
			fallback = http.StatusText(http.StatusInternalServerError)
		}
		Error(w, http.StatusInternalServerError, fallback)
	}
}
