package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// MaxBodyBytes caps JSON request bodies read by ValidateBody.
const MaxBodyBytes = 1 << 20

// BodyValidator checks a raw JSON body against a named schema.
type BodyValidator interface {
	Validate(schema string, body []byte) error
}

// ValidateBody reads the body, validates it against schema and replaces
// r.Body so downstream handlers can decode it again.
func ValidateBody(v BodyValidator, schema string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
			r.Body.Close()
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			if err := v.Validate(schema, bodyBytes); err != nil {
				msg, _ := json.Marshal(map[string]string{"error": err.Error()})
				http.Error(w, string(msg), http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			next.ServeHTTP(w, r)
		})
	}
}
