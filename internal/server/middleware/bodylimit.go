package middleware

import (
	"net/http"

	"github.com/restmailer/restmailer/internal/pkg"
)

// BodyLimit rejects requests whose declared Content-Length exceeds maxBody
// with a 400, per spec.md §4.7, and additionally caps the actual body read
// via http.MaxBytesReader for callers that omit Content-Length.
func BodyLimit(maxBody int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBody {
				pkg.WriteValidationError(w, "body exceeds max_body limit", nil)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
			next.ServeHTTP(w, r)
		})
	}
}
