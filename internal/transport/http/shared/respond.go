// Package shared centralizes JSON response envelopes so every handler speaks
// the same shape.
package shared

import (
	"encoding/json"
	"net/http"

	dErrors "tally/pkg/domain-errors"
)

// ErrorBody is the uniform error envelope. Message carries only domain
// messages; raw infrastructure errors never reach it.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the HTTP envelope. Uncoded
// errors collapse to a generic 500 so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	WriteJSON(w, dErrors.ToHTTPStatus(code), ErrorBody{
		Error:   string(code),
		Message: dErrors.MessageOf(err),
	})
}
