package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/restmailer/restmailer/internal/handler"
	"github.com/restmailer/restmailer/internal/observability"
	"github.com/restmailer/restmailer/internal/server/middleware"
)

// Config holds everything needed to build the ingress router.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBody      int64
	AuthTokens   []string
	Handler      *handler.Message
	Metrics      *observability.Metrics
}

// New builds the chi router and wraps it in an *http.Server, mirroring the
// teacher's middleware stack (RealIP, RequestID, Recoverer, Timeout, CORS)
// generalized to this service's five routes.
func New(cfg Config) *http.Server {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	if cfg.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(cfg.Metrics))
	}
	r.Use(middleware.TracingMiddleware())
	r.Use(middleware.BodyLimit(cfg.MaxBody))

	h := cfg.Handler

	r.Get("/", h.Root)
	r.Get("/docs", h.Docs)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.AuthTokens))
		r.Get("/message/{guid}", h.Get)
		r.Post("/message/send", h.Send)
		r.Post("/message/async-send", h.AsyncSend)
	})

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { handler.NotFound(w, r) })

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
