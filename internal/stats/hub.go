package stats

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
)

const (
	FrameEvent = "EVENT"
	FrameStats = "STATS_UPDATE"
)

// Frame: unit push ke subscriber live.
type Frame struct {
	Type    string           `json:"type"` // EVENT | STATS_UPDATE
	OrderID string           `json:"orderId,omitempty"`
	Event   *orders.Envelope `json:"event,omitempty"`
	Stats   *Snapshot        `json:"stats,omitempty"`
}

// Hub: fan-out frame ke subscriber in-process, dengan Redis pub/sub di
// tengah supaya instance API lain juga kebagian (status cache jadi store
// eksternal, bukan memori proses).
type Hub struct {
	Redis *redis.Client
	Log   *zap.Logger

	mu   sync.Mutex
	next int
	subs map[int]subscriber
}

type subscriber struct {
	ch      chan Frame
	orderID string // kosong = semua
}

func NewHub(rdb *redis.Client, log *zap.Logger) *Hub {
	return &Hub{Redis: rdb, Log: log, subs: map[int]subscriber{}}
}

// Publish: kirim ke channel Redis; Run() yang fan-out ke subscriber lokal.
func (h *Hub) Publish(ctx context.Context, f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		h.Log.Error("marshal frame", zap.Error(err))
		return
	}
	if err := h.Redis.Publish(ctx, redisx.ChannelFrames, b).Err(); err != nil {
		h.Log.Warn("publish frame", zap.Error(err))
	}
}

// Run: loop pub/sub; blocking sampai ctx selesai.
func (h *Hub) Run(ctx context.Context) {
	sub := h.Redis.Subscribe(ctx, redisx.ChannelFrames)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var f Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				h.Log.Warn("bad frame", zap.Error(err))
				continue
			}
			h.fanout(f)
		}
	}
}

func (h *Hub) fanout(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if s.orderID != "" && (f.Type != FrameEvent || f.OrderID != s.orderID) {
			continue
		}
		// subscriber lambat di-skip, bukan ditunggu
		select {
		case s.ch <- f:
		default:
		}
	}
}

// Subscribe: semua frame. cancel wajib dipanggil.
func (h *Hub) Subscribe() (<-chan Frame, func()) {
	return h.subscribe("")
}

// Watch: hanya frame EVENT untuk satu order (dipakai client ngikutin
// order miliknya sendiri).
func (h *Hub) Watch(orderID string) (<-chan Frame, func()) {
	return h.subscribe(orderID)
}

func (h *Hub) subscribe(orderID string) (<-chan Frame, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Frame, 32)
	h.subs[id] = subscriber{ch: ch, orderID: orderID}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
	}
}
