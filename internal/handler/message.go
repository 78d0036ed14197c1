// Package handler implements spec.md §4.7's ingress: the thin HTTP
// collaborator that validates a submission, allocates a guid, and hands it
// to the Delivery Engine either synchronously or via the background worker.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/restmailer/restmailer/internal/config"
	"github.com/restmailer/restmailer/internal/mail"
	"github.com/restmailer/restmailer/internal/observability"
	"github.com/restmailer/restmailer/internal/pkg"
	"github.com/restmailer/restmailer/internal/registry"
)

// Deliverer is the subset of engine.Deliverer the sync send path needs.
type Deliverer interface {
	Deliver(ctx context.Context, guid string) bool
}

// Enqueuer is the subset of worker.Enqueuer the async send path needs.
type Enqueuer interface {
	EnqueueDeliver(guid string) error
}

// Message handles the /message/* and / routes.
type Message struct {
	registry    *registry.Registry
	deliverer   Deliverer
	enqueuer    Enqueuer
	defaults    mail.Defaults
	docsEnabled bool
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// New builds a Message handler. cfg supplies the defaulting values
// Normalize fills unset MailMessage fields with. metrics may be nil, in
// which case no Prometheus collectors are recorded.
func New(reg *registry.Registry, deliverer Deliverer, enqueuer Enqueuer, cfg config.MailConfig, docsEnabled bool, metrics *observability.Metrics, logger *slog.Logger) *Message {
	if logger == nil {
		logger = slog.Default()
	}
	return &Message{
		registry:  reg,
		deliverer: deliverer,
		enqueuer:  enqueuer,
		defaults: mail.Defaults{
			FromUser:           cfg.DefUsername,
			SendTimeoutSeconds: int(cfg.DefMailSendTimeout.Seconds()),
			IgnoreStarttlsCert: cfg.DefIgnoreStarttlsCert,
		},
		docsEnabled: docsEnabled,
		metrics:     metrics,
		logger:      logger,
	}
}

// Root serves GET / — spec.md §4.7's unauthenticated liveness text.
func (m *Message) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("restmailer is serving requests"))
}

// Docs serves GET /docs when enabled, 404 otherwise.
func (m *Message) Docs(w http.ResponseWriter, r *http.Request) {
	if !m.docsEnabled {
		pkg.WriteNotFound(w)
		return
	}
	pkg.JSON(w, http.StatusOK, map[string]interface{}{
		"service": "restmailer",
		"endpoints": []map[string]string{
			{"method": "GET", "path": "/", "auth": "none"},
			{"method": "GET", "path": "/docs", "auth": "none"},
			{"method": "GET", "path": "/message/{guid}", "auth": "required"},
			{"method": "POST", "path": "/message/send", "auth": "required"},
			{"method": "POST", "path": "/message/async-send", "auth": "required"},
		},
	})
}

// Get serves GET /message/{guid}.
func (m *Message) Get(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")
	item, ok := m.registry.Get(guid)
	if !ok {
		pkg.WriteNotFound(w)
		return
	}
	pkg.JSON(w, http.StatusOK, item.WithoutAttachmentBodies())
}

// Send serves POST /message/send: validate, allocate, deliver synchronously.
func (m *Message) Send(w http.ResponseWriter, r *http.Request) {
	msg, _, ok := m.intake(w, r)
	if !ok {
		return
	}

	sent := m.deliverer.Deliver(r.Context(), msg.Guid)

	final, _ := m.registry.Get(msg.Guid)
	status := http.StatusOK
	if !sent {
		status = http.StatusTeapot
	}
	pkg.JSON(w, status, final.WithoutAttachmentBodies())
}

// AsyncSend serves POST /message/async-send: validate, allocate, schedule,
// return immediately with state=sending.
func (m *Message) AsyncSend(w http.ResponseWriter, r *http.Request) {
	msg, item, ok := m.intake(w, r)
	if !ok {
		return
	}

	if err := m.enqueuer.EnqueueDeliver(msg.Guid); err != nil {
		m.registry.AppendEvent(msg.Guid, "mailer", "failed to enqueue background delivery: "+err.Error())
		m.registry.SetState(msg.Guid, registry.StateError)
		final, _ := m.registry.Get(msg.Guid)
		pkg.JSON(w, http.StatusTeapot, final.WithoutAttachmentBodies())
		return
	}

	if m.metrics != nil {
		m.metrics.EmailsQueuedTotal.WithLabelValues("async").Inc()
	}
	pkg.JSON(w, http.StatusOK, item.WithoutAttachmentBodies())
}

// intake decodes, validates, normalizes, and inserts a submission, writing
// an error response and returning ok=false on any failure.
func (m *Message) intake(w http.ResponseWriter, r *http.Request) (mail.Message, registry.Item, bool) {
	var msg mail.Message
	if err := pkg.DecodeJSON(r, &msg); err != nil {
		pkg.WriteValidationError(w, "body: "+err.Error(), nil)
		return mail.Message{}, registry.Item{}, false
	}

	if err := pkg.Validate(msg); err != nil {
		message, fields := pkg.ValidationMessage(err)
		pkg.WriteValidationError(w, message, fields)
		return mail.Message{}, registry.Item{}, false
	}

	msg = mail.Normalize(msg, m.defaults)
	msg.Guid = strings.ReplaceAll(uuid.New().String(), "-", "")

	item := registry.Item{
		Message: msg,
		TsAdded: nowSeconds(),
		State:   registry.StateSending,
	}
	m.registry.Insert(msg.Guid, item)

	return msg, item, true
}

// NotFound serves any unmatched route, spec.md §4.7's catch-all.
func NotFound(w http.ResponseWriter, r *http.Request) {
	pkg.WriteNotFound(w)
}

func nowSeconds() int64 { return time.Now().Unix() }
