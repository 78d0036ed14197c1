package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type requestIDKeyType struct{}

// RequestIDKey is the context key under which the request ID is stored.
var RequestIDKey = requestIDKeyType{}

const requestIDHeader = "X-Request-ID"

// RequestID assigns each request a correlation ID, reusing one supplied by
// the caller via X-Request-ID or minting a fresh uuid, and echoes it back
// on the response so logs and traces can be joined to a client's report.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID stored in ctx, or "" if absent.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
