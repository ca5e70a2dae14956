package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/modelrelay/modelrelay/pkg/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}

// writeRequestError maps a domain error onto an HTTP status.
func writeRequestError(w http.ResponseWriter, err error) {
	kind := types.KindOf(err)
	status := http.StatusBadGateway
	switch kind {
	case types.ErrConfig, types.ErrValidation:
		status = http.StatusBadRequest
	case types.ErrTimeout:
		status = http.StatusGatewayTimeout
	case types.ErrCancelled:
		// client went away; 499 is conventional but not a net/http constant
		status = 499
	}

	detail := ErrorDetail{Code: string(kind), Message: err.Error()}
	var reqErr *types.RequestError
	if errors.As(err, &reqErr) {
		detail.Details = reqErr.Details
	}
	writeJSON(w, status, ErrorResponse{Error: detail})
}
