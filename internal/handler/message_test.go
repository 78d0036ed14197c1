package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restmailer/restmailer/internal/config"
	"github.com/restmailer/restmailer/internal/registry"
	"github.com/restmailer/restmailer/internal/testutil"
)

type stubDeliverer struct {
	result bool
}

func (s *stubDeliverer) Deliver(ctx context.Context, guid string) bool { return s.result }

type stubEnqueuer struct {
	err error
}

func (s *stubEnqueuer) EnqueueDeliver(guid string) error { return s.err }

func newTestHandler(deliverResult bool, enqueueErr error) (*Message, *registry.Registry) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(logger)
	h := New(reg, &stubDeliverer{result: deliverResult}, &stubEnqueuer{err: enqueueErr}, config.MailConfig{
		Domain:             "example.com",
		DefMailSendTimeout: 30e9,
	}, true, nil, logger)
	return h, reg
}

func TestRoot(t *testing.T) {
	h, _ := newTestHandler(true, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.Root(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "restmailer is serving requests", rec.Body.String())
}

func TestDocs_Enabled(t *testing.T) {
	h, _ := newTestHandler(true, nil)
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	rec := httptest.NewRecorder()
	h.Docs(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDocs_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(logger)
	h := New(reg, &stubDeliverer{}, &stubEnqueuer{}, config.MailConfig{}, false, nil, logger)

	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	rec := httptest.NewRecorder()
	h.Docs(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGet_Found(t *testing.T) {
	h, reg := newTestHandler(true, nil)
	item := testutil.NewTestItem("guid-1")
	reg.Insert("guid-1", item)

	req := httptest.NewRequest(http.MethodGet, "/message/guid-1", nil)
	req = testutil.WithURLParam(req, "guid", "guid-1")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body registry.Item
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, registry.StateSending, body.State)
}

func TestGet_NotFound(t *testing.T) {
	h, _ := newTestHandler(true, nil)
	req := httptest.NewRequest(http.MethodGet, "/message/missing", nil)
	req = testutil.WithURLParam(req, "guid", "missing")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func validSendBody() []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"address_to": "recipient@example.com",
		"subject":    "hi",
		"data": []map[string]string{
			{"type": "text", "text": "hello"},
		},
	})
	return body
}

func TestSend_Success(t *testing.T) {
	h, _ := newTestHandler(true, nil)
	req := httptest.NewRequest(http.MethodPost, "/message/send", bytes.NewReader(validSendBody()))
	rec := httptest.NewRecorder()
	h.Send(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSend_DeliveryFailureReturnsTeapot(t *testing.T) {
	h, _ := newTestHandler(false, nil)
	req := httptest.NewRequest(http.MethodPost, "/message/send", bytes.NewReader(validSendBody()))
	rec := httptest.NewRecorder()
	h.Send(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestSend_ValidationError(t *testing.T) {
	h, _ := newTestHandler(true, nil)
	body, _ := json.Marshal(map[string]interface{}{"subject": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/message/send", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Send(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsyncSend_ReturnsImmediatelyInSendingState(t *testing.T) {
	h, _ := newTestHandler(true, nil)
	req := httptest.NewRequest(http.MethodPost, "/message/async-send", bytes.NewReader(validSendBody()))
	rec := httptest.NewRecorder()
	h.AsyncSend(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body registry.Item
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, registry.StateSending, body.State)
}

func TestNotFound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	rec := httptest.NewRecorder()
	NotFound(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Method not found", rec.Body.String())
}
