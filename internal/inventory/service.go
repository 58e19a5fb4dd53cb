package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orders"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Store nulis marker audit (INVENTORY_RESERVED/RELEASED) atomik dengan
// mutasi stoknya; handler tinggal lanjut dari return value-nya.
type Store interface {
	ReserveAll(ctx context.Context, orderID string, items []orders.Item, payload json.RawMessage, service string) (bool, []orders.UnavailableItem, error)
	ReleaseAll(ctx context.Context, orderID string, items []orders.Item, payload json.RawMessage, service string) (bool, error)
}

type OrderStore interface {
	UpdateStatus(ctx context.Context, orderID string, to orders.Status) (bool, error)
	GetOrderItems(ctx context.Context, orderID string) ([]orders.Item, error)
}

type EventStore interface {
	Append(ctx context.Context, orderID string, t orders.EventType, payload json.RawMessage, service string) error
	Has(ctx context.Context, orderID string, t orders.EventType, service string) (bool, error)
}

type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type Service struct {
	Repo        Store
	Orders      OrderStore
	Events      EventStore
	Dedup       Deduper
	Producer    Publisher // topic: inventory
	ServiceName string
	Log         *zap.Logger
}

// Handle: satu handler untuk ORDER_CREATED (reserve) dan ORDER_CANCELLED
// (release). Dua-duanya datang lewat topic orders, partisi per order_id.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := orders.DecodeEnvelope(m.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", kafkax.ErrDrop, err)
	}
	switch env.EventType {
	case orders.EventOrderCreated:
		return s.handleCreated(ctx, env)
	case orders.EventOrderCancelled:
		return s.handleCancelled(ctx, env)
	default:
		return nil // ignore
	}
}

func (s *Service) handleCreated(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", kafkax.ErrDrop, err)
	}
	if p.IsReplay {
		s.Log.Info("replay event, skipping", zap.String("order_id", p.OrderID))
		return nil
	}
	if seen, _ := s.Dedup.Seen(ctx, env.EventID); seen {
		return nil
	}

	payload := orders.InventoryReservedPayload{OrderID: p.OrderID, Items: p.Items}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", kafkax.ErrDrop, err)
	}

	// marker + side effect satu transaksi; ok=true juga buat retry
	// setelah commit, supaya status/publish yang sempat gagal diselesaikan
	ok, unavailable, err := s.Repo.ReserveAll(ctx, p.OrderID, p.Items, raw, s.ServiceName)
	if err != nil {
		return err
	}
	if !ok {
		// stok kurang = outcome bisnis terminal, bukan error sistem
		if _, err := s.Orders.UpdateStatus(ctx, p.OrderID, orders.StatusInventoryFailed); err != nil {
			return err
		}
		return s.publish(ctx, env.EventID, orders.EventInventoryFailed, p.OrderID, orders.InventoryFailedPayload{
			OrderID:          p.OrderID,
			UnavailableItems: unavailable,
		})
	}

	if _, err := s.Orders.UpdateStatus(ctx, p.OrderID, orders.StatusInventoryReserved); err != nil {
		return err
	}
	return s.publish(ctx, env.EventID, orders.EventInventoryReserved, p.OrderID, payload)
}

func (s *Service) handleCancelled(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", kafkax.ErrDrop, err)
	}
	if seen, _ := s.Dedup.Seen(ctx, env.EventID); seen {
		return nil
	}

	// hanya release kalau memang pernah reserve
	reserved, err := s.Events.Has(ctx, p.OrderID, orders.EventInventoryReserved, s.ServiceName)
	if err != nil {
		return err
	}
	if !reserved {
		_ = s.Dedup.Mark(ctx, env.EventID)
		return nil
	}

	items, err := s.Orders.GetOrderItems(ctx, p.OrderID)
	if err != nil {
		return err
	}
	payload := orders.InventoryReleasedPayload{OrderID: p.OrderID, Items: items}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	released, err := s.Repo.ReleaseAll(ctx, p.OrderID, items, raw, s.ServiceName)
	if err != nil {
		return err
	}
	if !released {
		// sudah release di cancel sebelumnya
		_ = s.Dedup.Mark(ctx, env.EventID)
		return nil
	}
	return s.publish(ctx, env.EventID, orders.EventInventoryReleased, p.OrderID, payload)
}

func (s *Service) publish(ctx context.Context, sourceEventID string, t orders.EventType, orderID string, payload any) error {
	env, err := orders.NewEnvelope(t, s.ServiceName, orderID, payload)
	if err != nil {
		return err
	}
	if err := s.Events.Append(ctx, orderID, t, env.Payload, s.ServiceName); err != nil {
		return err
	}
	s.Producer.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(t)},
	)
	_ = s.Dedup.Mark(ctx, sourceEventID)
	return nil
}
