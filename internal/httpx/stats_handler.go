package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/ariefcatur/go-order-saga/internal/stats"
)

type StatsHandler struct {
	Events *orders.EventRepo
	Redis  *redis.Client
	Hub    *stats.Hub
	Log    *zap.Logger
}

func (h *StatsHandler) Register(r *chi.Mux) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Get("/stats", h.getStats)
		r.Get("/stats/history", h.getHistory)
	})
	// stream hidup lama, tanpa timeout middleware
	r.Get("/stats/stream", h.streamAll)
	r.Get("/orders/{id}/stream", h.streamOrder)
}

// getStats: baca snapshot terakhir yang ditulis aggregator ke Redis.
func (h *StatsHandler) getStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	s, err := h.Redis.Get(ctx, redisx.KeyStatsSnapshot).Result()
	if err != nil || s == "" {
		writeJSON(w, http.StatusOK, stats.Snapshot{PerType: map[orders.EventType]int{}})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(s))
}

func (h *StatsHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		if v, err := strconv.Atoi(d); err == nil && v > 0 {
			days = v
		}
	}
	out, err := h.Events.DailyStats(ctx, days)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *StatsHandler) streamAll(w http.ResponseWriter, r *http.Request) {
	ch, cancel := h.Hub.Subscribe()
	defer cancel()
	h.stream(w, r, ch)
}

// streamOrder: client cuma dapat update order miliknya (watch primitive).
func (h *StatsHandler) streamOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ch, cancel := h.Hub.Watch(orderID)
	defer cancel()
	h.stream(w, r, ch)
}

// stream: push frame sebagai server-sent events.
func (h *StatsHandler) stream(w http.ResponseWriter, r *http.Request, ch <-chan stats.Frame) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fl.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(f)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			_, _ = w.Write(b)
			_, _ = w.Write([]byte("\n\n"))
			fl.Flush()
		}
	}
}
