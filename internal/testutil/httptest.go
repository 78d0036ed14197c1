package testutil

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SetupRouter creates a chi router with a route registration function.
// Used in handler tests to mount specific handler methods.
func SetupRouter(register func(r chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	register(r)
	return r
}

// WithURLParam adds a chi URL parameter to the request context, for
// testing a handler method directly without routing through a full Mux.
func WithURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AuthorizedRequest sets the Authorization header to one of the configured
// tokens, for testing routes behind the Auth middleware.
func AuthorizedRequest(r *http.Request, token string) *http.Request {
	r.Header.Set("Authorization", token)
	return r
}
