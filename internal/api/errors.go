package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

const errCodeInternalError = "INTERNAL_ERROR"

// respondServiceError maps a service error onto the wire. Categorized errors
// carry their own HTTP status and client-safe payload; everything else is an
// opaque 500.
func respondServiceError(w http.ResponseWriter, err error) {
	var ce *apperrors.CategorizedError
	if errors.As(err, &ce) {
		serviceErr := ce.ToServiceError()
		respondError(w, ce.StatusCode, serviceErr.Code, serviceErr.Message, serviceErr.Details)
		return
	}
	respondError(w, http.StatusInternalServerError, errCodeInternalError, "An internal error occurred", nil)
}
