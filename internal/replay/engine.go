package replay

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orders"
)

type OrderSource interface {
	ListOrdersBetween(ctx context.Context, from, to time.Time) ([]orders.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]orders.Item, error)
}

type Publisher interface {
	PublishTo(topic string, key, value []byte, headers ...kafkago.Header)
}

// Engine: publish ulang order historis sebagai ORDER_CREATED dengan
// isReplay=true, key = order_id asli. Reactor bisnis wajib skip flag
// ini sebelum side effect apa pun -- ini kontrak keselamatan, bukan
// optimisasi.
type Engine struct {
	Orders      OrderSource
	Producer    Publisher
	ServiceName string
	DefaultDest string // e.g., orders-replay
	Log         *zap.Logger
}

func (e *Engine) Run(ctx context.Context, from, to time.Time, dest string) (int, error) {
	if dest == "" {
		dest = e.DefaultDest
	}
	if !to.After(from) {
		return 0, fmt.Errorf("invalid window: from=%s to=%s", from, to)
	}

	list, err := e.Orders.ListOrdersBetween(ctx, from, to)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, o := range list {
		items, err := e.Orders.GetOrderItems(ctx, o.ID)
		if err != nil {
			return n, err
		}
		env, err := orders.NewEnvelope(orders.EventOrderCreated, e.ServiceName, o.ID, orders.OrderCreatedPayload{
			OrderID:    o.ID,
			CustomerID: o.CustomerID,
			Items:      items,
			TotalCents: o.TotalCents,
			IsReplay:   true,
		})
		if err != nil {
			return n, err
		}
		e.Producer.PublishTo(dest, orders.PartitionKey(o.ID), kafkax.MustMarshal(env),
			kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
			kafkago.Header{Key: "x-replay", Value: []byte("1")},
		)
		n++
	}
	e.Log.Info("replay published",
		zap.Int("orders", n),
		zap.String("destination", dest),
		zap.Time("from", from),
		zap.Time("to", to))
	return n, nil
}
