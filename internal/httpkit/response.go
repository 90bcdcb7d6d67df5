package httpkit

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/instrumentdata/platform/internal/apperr"
)

// WriteJSON writes v as a JSON response body with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to its apperr.StatusCode and writes a
// {"error": message} body. Errors that are not an *apperr.Error map to 500.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, apperr.StatusCode(err), map[string]string{"error": err.Error()})
}

// DecodeJSON decodes the request body into v, returning a Validation-kind
// apperr on malformed JSON.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation(fmt.Sprintf("malformed request body: %s", err.Error()))
	}
	return nil
}
