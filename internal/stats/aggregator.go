package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
)

type Broadcaster interface {
	Publish(ctx context.Context, f Frame)
}

const windowSize = 100

type RecentEvent struct {
	EventID   string           `json:"eventId"`
	EventType orders.EventType `json:"eventType"`
	OrderID   string           `json:"orderId"`
	Source    string           `json:"source"`
	Timestamp time.Time        `json:"timestamp"`
}

type Snapshot struct {
	TotalEvents  int                      `json:"totalEvents"`
	ReplayEvents int                      `json:"replayEvents"`
	PerType      map[orders.EventType]int `json:"perType"`
	Recent       []RecentEvent            `json:"recent"`
	UpdatedAt    time.Time                `json:"updatedAt"`
}

// Aggregator: observe semua topic di group sendiri. Murni observasional,
// tidak pernah mutasi state bisnis.
type Aggregator struct {
	Hub   Broadcaster
	Redis *redis.Client // optional: simpan snapshot buat GET /stats di API
	Log   *zap.Logger

	// push STATS_UPDATE tiap N event
	StatsEvery int

	mu      sync.Mutex
	total   int
	replays int
	perType map[orders.EventType]int
	recent  []RecentEvent // ring, max windowSize
}

// Handle: counter += 1, push EVENT frame, dan STATS_UPDATE tiap N event.
// Event replay ikut dihitung (ditandai), tapi tetap nol side effect bisnis.
func (a *Aggregator) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := orders.DecodeEnvelope(m.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", kafkax.ErrDrop, err)
	}

	isReplay := false
	if env.EventType == orders.EventOrderCreated {
		if p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload); err == nil {
			isReplay = p.IsReplay
		}
	}

	a.mu.Lock()
	if a.perType == nil {
		a.perType = map[orders.EventType]int{}
	}
	a.total++
	if isReplay {
		a.replays++
	}
	a.perType[env.EventType]++
	a.recent = append(a.recent, RecentEvent{
		EventID:   env.EventID,
		EventType: env.EventType,
		OrderID:   env.Metadata.CorrelationID,
		Source:    env.Metadata.Source,
		Timestamp: env.Timestamp,
	})
	if len(a.recent) > windowSize {
		a.recent = a.recent[len(a.recent)-windowSize:]
	}
	every := a.StatsEvery
	if every <= 0 {
		every = 10
	}
	pushStats := a.total%every == 0
	a.mu.Unlock()

	a.Hub.Publish(ctx, Frame{
		Type:    FrameEvent,
		OrderID: env.Metadata.CorrelationID,
		Event:   &env,
	})
	if pushStats {
		snap := a.Snapshot()
		a.Hub.Publish(ctx, Frame{Type: FrameStats, Stats: &snap})
		a.saveSnapshot(ctx, snap)
	}
	return nil
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	perType := make(map[orders.EventType]int, len(a.perType))
	for k, v := range a.perType {
		perType[k] = v
	}
	recent := make([]RecentEvent, len(a.recent))
	copy(recent, a.recent)
	return Snapshot{
		TotalEvents:  a.total,
		ReplayEvents: a.replays,
		PerType:      perType,
		Recent:       recent,
		UpdatedAt:    time.Now().UTC(),
	}
}

func (a *Aggregator) saveSnapshot(ctx context.Context, snap Snapshot) {
	if a.Redis == nil {
		return
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := a.Redis.Set(ctx, redisx.KeyStatsSnapshot, b, redisx.TTLSnapshot).Err(); err != nil {
		a.Log.Warn("save snapshot", zap.Error(err))
	}
}
