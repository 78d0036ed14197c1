// Package pkg holds small ingress-layer helpers shared across HTTP handlers:
// JSON encoding/decoding and the error envelope shapes spec.md §7 defines.
package pkg

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// JSON writes data as a JSON body with status, 4-space indented per spec.md
// §6 "Wire — HTTP ingress".
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	_ = enc.Encode(data)
}

// ValidationError is the 400 envelope spec.md §7 specifies: a single
// human-readable message combining every field failure, plus the list of
// offending field paths.
type ValidationError struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

// WriteValidationError writes a 400 response in the ValidationError shape.
func WriteValidationError(w http.ResponseWriter, message string, fields []string) {
	JSON(w, http.StatusBadRequest, ValidationError{Error: message, Fields: fields})
}

// WriteUnauthorized writes the plain-text 401 body spec.md §7 mandates.
func WriteUnauthorized(w http.ResponseWriter) {
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte("Unauthorized"))
}

// WriteNotFound writes the plain-text 404 body spec.md §4.7 mandates for
// unmatched routes.
func WriteNotFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("Method not found"))
}

// DecodeJSON decodes r's body into v, rejecting unknown fields and trailing
// data.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected data after the JSON value")
	}
	return nil
}
