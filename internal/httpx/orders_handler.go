package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/ariefcatur/go-order-saga/internal/replay"
)

type OrdersHandler struct {
	Repo     *orders.Repo
	Events   *orders.EventRepo
	Producer *kafkax.Producer // topic: orders
	Redis    *redis.Client
	Replay   *replay.Engine
	Validate *validator.Validate
	Service  string
	Log      *zap.Logger
}

type CreateOrderReq struct {
	ExternalID string             `json:"externalId" validate:"required"`
	CustomerID string             `json:"customerId" validate:"required"`
	Items      []orders.ItemInput `json:"items" validate:"required,min=1,dive"`
}

type CreateOrderResp struct {
	OrderID    string `json:"orderId"`
	Status     string `json:"status"`
	TotalCents int    `json:"total"`
	Idempotent bool   `json:"idempotent"`
}

type CancelOrderReq struct {
	Reason string `json:"reason"`
}

type ReplayReq struct {
	From        time.Time `json:"from" validate:"required"`
	To          time.Time `json:"to" validate:"required"`
	Destination string    `json:"destination"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Post("/orders", h.createOrder)
		r.Post("/orders/{id}/cancel", h.cancelOrder)
		r.Post("/orders/replay", h.replayOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/events", h.getOrderEvents)
		r.Get("/products", h.listProducts)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// createOrder: persist + emit ORDER_CREATED, balas 202 langsung.
// Saga jalan async; client polling GET /orders/{id} atau subscribe stream.
func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, items, existed, err := h.Repo.CreateOrderTx(ctx, req.ExternalID, req.CustomerID, req.Items)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, orders.ErrNoProduct) {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	if existed {
		// redelivered POST -> order lama, tanpa event baru
		writeJSON(w, http.StatusAccepted, CreateOrderResp{
			OrderID: order.ID, Status: string(order.Status), TotalCents: order.TotalCents, Idempotent: true,
		})
		return
	}

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, order.ID)
	_ = h.Redis.Set(ctx, statusKey, `{"status":"pending"}`, redisx.TTLStatusCache).Err()

	env, err := orders.NewEnvelope(orders.EventOrderCreated, h.Service, order.ID, orders.OrderCreatedPayload{
		OrderID:    order.ID,
		CustomerID: req.CustomerID,
		Items:      items,
		TotalCents: order.TotalCents,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := h.Events.Append(ctx, order.ID, orders.EventOrderCreated, env.Payload, h.Service); err != nil {
		h.Log.Error("append order_created", zap.Error(err))
	}
	h.Producer.Publish(orders.PartitionKey(order.ID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
	)

	writeJSON(w, http.StatusAccepted, CreateOrderResp{
		OrderID: order.ID, Status: string(orders.StatusPending), TotalCents: order.TotalCents,
	})
}

// cancelOrder: emit ORDER_CANCELLED; inventory reactor yang release hold.
func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req CancelOrderReq
	_ = json.NewDecoder(r.Body).Decode(&req) // body optional

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Repo.Cancel(ctx, orderID); err != nil {
		switch {
		case errors.Is(err, orders.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		case errors.Is(err, orders.ErrTerminal):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order already terminal"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, statusKey, `{"status":"cancelled"}`, redisx.TTLStatusCache).Err()

	env, err := orders.NewEnvelope(orders.EventOrderCancelled, h.Service, orderID, orders.OrderCancelledPayload{
		OrderID: orderID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := h.Events.Append(ctx, orderID, orders.EventOrderCancelled, env.Payload, h.Service); err != nil {
		h.Log.Error("append order_cancelled", zap.Error(err))
	}
	h.Producer.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCancelled)},
	)

	writeJSON(w, http.StatusAccepted, map[string]string{"orderId": orderID, "status": string(orders.StatusCancelled)})
}

func (h *OrdersHandler) replayOrders(w http.ResponseWriter, r *http.Request) {
	var req ReplayReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	n, err := h.Replay.Run(ctx, req.From, req.To, req.Destination)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"replayed": n})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	// 2) fallback DB
	status, err := h.Repo.GetOrderStatus(ctx, orderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	b, _ := json.Marshal(map[string]any{"status": status})
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *OrdersHandler) getOrderEvents(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	evs, err := h.Events.ListByOrder(ctx, orderID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := make([]map[string]any, 0, len(evs))
	for _, e := range evs {
		out = append(out, map[string]any{
			"eventType": e.EventType,
			"payload":   e.Payload,
			"source":    e.ProducingService,
			"createdAt": e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Repo.ListProducts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
