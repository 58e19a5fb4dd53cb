package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// Jalur validasi bisa dites tanpa DB/Redis: handler harus nolak
// sebelum nyentuh backend apa pun.

func newValidationHandler() *OrdersHandler {
	return &OrdersHandler{
		Validate: validator.New(),
		Service:  "order-api",
		Log:      zap.NewNop(),
	}
}

func TestCreateOrderRejectsInvalidJSON(t *testing.T) {
	h := newValidationHandler()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("{not json"))

	h.createOrder(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid json")
}

func TestCreateOrderRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"no items", `{"externalId":"e-1","customerId":"c-1"}`},
		{"empty items", `{"externalId":"e-1","customerId":"c-1","items":[]}`},
		{"no customer", `{"externalId":"e-1","items":[{"productId":"p-1","quantity":1}]}`},
		{"zero quantity", `{"externalId":"e-1","customerId":"c-1","items":[{"productId":"p-1","quantity":0}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newValidationHandler()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tc.body))

			h.createOrder(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestReplayRejectsMissingWindow(t *testing.T) {
	h := newValidationHandler()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders/replay", strings.NewReader(`{"destination":"orders-replay"}`))

	h.replayOrders(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplayRejectsInvalidJSON(t *testing.T) {
	h := newValidationHandler()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders/replay", strings.NewReader("[["))

	h.replayOrders(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	r := NewRouter()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
