// Package httputil writes JSON responses and maps domain error codes to
// HTTP statuses.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "healthcred/pkg/domain-errors"
)

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status is already sent; an encode failure can only truncate the body.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError translates a domain error into a status code and JSON body.
// Errors without a domain code are reported as internal errors without detail.
func WriteError(w http.ResponseWriter, err error) {
	if domainErr, ok := dErrors.As(err); ok {
		response := map[string]string{"error": string(domainErr.Code)}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		WriteJSON(w, DomainCodeToHTTPStatus(domainErr.Code), response)
		return
	}
	WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(dErrors.CodeInternal),
	})
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeVerificationFailed:
		return http.StatusUnprocessableEntity
	case dErrors.CodeConflict, dErrors.CodeConsistency, dErrors.CodeThresholdExceeded:
		return http.StatusConflict
	case dErrors.CodeTimeout, dErrors.CodeTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
