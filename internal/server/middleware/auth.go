package middleware

import (
	"net/http"

	"github.com/restmailer/restmailer/internal/pkg"
)

// Auth builds middleware checking the Authorization header against tokens.
// An empty tokens set bypasses auth entirely — the caller is responsible
// for emitting the startup warning spec.md §4.7 requires in that case.
func Auth(tokens []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		allowed[t] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get("Authorization")
			if _, ok := allowed[token]; !ok {
				pkg.WriteUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
