package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automa-app/automa-go/internal/config"
)

type recordingHandler struct {
	deliveries []Delivery
	err        error
}

func (h *recordingHandler) HandleDelivery(_ context.Context, d Delivery) error {
	h.deliveries = append(h.deliveries, d)
	return h.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(secret string) Config {
	return Config{
		Listen: "127.0.0.1:0",
		Endpoints: []EndpointConfig{
			{
				Path:            "/webhooks/automa",
				Secret:          secret,
				SignatureHeader: "X-Automa-Signature",
				MaxBodySize:     1024,
			},
		},
	}
}

func TestHandleWebhook_ValidSignature(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"type":"task.created","task":{"id":28}}`)
	signature := computeSignature(body, secret)

	h := &recordingHandler{}
	server := New(testConfig(secret), h, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/automa", bytes.NewReader(body))
	req.Header.Set("X-Automa-Signature", signature)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp AcceptedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, h.deliveries, 1)
	assert.Equal(t, h.deliveries[0].ID, resp.DeliveryID)
	assert.Equal(t, "/webhooks/automa", h.deliveries[0].Endpoint)
	assert.JSONEq(t, string(body), string(h.deliveries[0].Payload))
	assert.NotEmpty(t, h.deliveries[0].RequestID)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	h := &recordingHandler{}
	server := New(testConfig("test-secret"), h, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/automa", strings.NewReader(`{"type":"task.created"}`))
	req.Header.Set("X-Automa-Signature", strings.Repeat("0", 64))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, h.deliveries)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	// Error should be generic (no details leaked)
	assert.Equal(t, "forbidden", resp.Error)
}

func TestHandleWebhook_ReserializedBodyRejected(t *testing.T) {
	secret := "test-secret"
	signed := []byte(`{"type":"task.created","task":{"id":28}}`)
	sent := []byte("{\n  \"type\": \"task.created\",\n  \"task\": {\"id\": 28}\n}")

	h := &recordingHandler{}
	server := New(testConfig(secret), h, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/automa", bytes.NewReader(sent))
	req.Header.Set("X-Automa-Signature", computeSignature(signed, secret))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, h.deliveries)
}

func TestHandleWebhook_MissingSignature(t *testing.T) {
	h := &recordingHandler{}
	server := New(testConfig("secret"), h, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/automa", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, h.deliveries)
}

func TestHandleWebhook_BodyTooLarge(t *testing.T) {
	secret := "test-secret"
	body := []byte(`"` + strings.Repeat("a", 2048) + `"`)

	h := &recordingHandler{}
	server := New(testConfig(secret), h, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/automa", bytes.NewReader(body))
	req.Header.Set("X-Automa-Signature", computeSignature(body, secret))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, h.deliveries)
}

func TestHandleWebhook_HandlerError(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{}`)

	h := &recordingHandler{err: errors.New("journal unavailable")}
	server := New(testConfig(secret), h, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/automa", bytes.NewReader(body))
	req.Header.Set("X-Automa-Signature", computeSignature(body, secret))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleWebhook_UnknownPath(t *testing.T) {
	server := New(testConfig("secret"), &recordingHandler{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/unknown", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHandleWebhook_WrongMethod(t *testing.T) {
	server := New(testConfig("secret"), &recordingHandler{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/webhooks/automa", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	server := New(testConfig("secret"), &recordingHandler{}, testLogger())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	secret := "test-secret"
	h := &recordingHandler{}
	server := New(testConfig(secret), h, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()

	body := []byte(`{"ping":true}`)
	req, err := http.NewRequest(http.MethodPost, "http://"+ln.Addr().String()+"/webhooks/automa", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Automa-Signature", computeSignature(body, secret))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Len(t, h.deliveries, 1)
}

func TestNew_AppliesDefaults(t *testing.T) {
	cfg := Config{
		Listen: "127.0.0.1:0",
		Endpoints: []EndpointConfig{
			{Path: "/webhooks/test", Secret: "secret"},
		},
	}

	server := New(cfg, &recordingHandler{}, testLogger())

	require.Len(t, server.config.Endpoints, 1)
	ep := server.config.Endpoints[0]
	assert.EqualValues(t, DefaultMaxBodySize, ep.MaxBodySize)
	assert.Equal(t, DefaultSignatureHeader, ep.SignatureHeader)
}

func TestFromGlobalConfig(t *testing.T) {
	cfg, err := FromGlobalConfig(&config.WebhooksConfig{
		Listen: "127.0.0.1:8081",
		Endpoints: []config.WebhookEndpoint{
			{Path: "/a", Secret: "s1", MaxBodySize: "2MB"},
			{Path: "/b", Secret: "s2", SignatureHeader: "X-Sig", MaxBodySize: "4096"},
			{Path: "/c", Secret: "s3", MaxBodySize: "2MiB"},
			{Path: "/e", Secret: "s4"},
		},
	})
	require.NoError(t, err)
	require.Len(t, cfg.Endpoints, 4)
	assert.EqualValues(t, 2_000_000, cfg.Endpoints[0].MaxBodySize)
	assert.Equal(t, DefaultSignatureHeader, cfg.Endpoints[0].SignatureHeader)
	assert.EqualValues(t, 4096, cfg.Endpoints[1].MaxBodySize)
	assert.Equal(t, "X-Sig", cfg.Endpoints[1].SignatureHeader)
	assert.EqualValues(t, 2*1024*1024, cfg.Endpoints[2].MaxBodySize)
	assert.EqualValues(t, DefaultMaxBodySize, cfg.Endpoints[3].MaxBodySize)

	_, err = FromGlobalConfig(&config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{{Path: "/c"}}})
	assert.Error(t, err)

	_, err = FromGlobalConfig(&config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{{Path: "/d", Secret: "s", MaxBodySize: "-1"}}})
	assert.Error(t, err)

	_, err = FromGlobalConfig(&config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{{Path: "/f", Secret: "s", MaxBodySize: "0"}}})
	assert.Error(t, err)

	_, err = FromGlobalConfig(nil)
	assert.Error(t, err)
}
