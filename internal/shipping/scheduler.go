package shipping

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/orders"
)

// Scheduler: transisi dispatched/delivered disimpan sebagai due_at di DB
// dan di-poll, bukan timer in-memory -- proses restart tinggal lanjut
// dari shipment yang masih pending.
type Scheduler struct {
	Service  *Service
	Interval time.Duration
	Batch    int
	Log      *zap.Logger
}

func (sc *Scheduler) Run(ctx context.Context) {
	interval := sc.Interval
	if interval <= 0 {
		interval = time.Second
	}
	batch := sc.Batch
	if batch <= 0 {
		batch = 50
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sc.tick(ctx, batch)
		}
	}
}

func (sc *Scheduler) tick(ctx context.Context, batch int) {
	s := sc.Service

	due, err := s.Repo.ClaimDueDispatch(ctx, batch)
	if err != nil {
		sc.Log.Error("claim dispatch failed", zap.Error(err))
	}
	for _, d := range due {
		if _, err := s.Orders.UpdateStatus(ctx, d.OrderID, orders.StatusInTransit); err != nil {
			sc.Log.Error("order in_transit failed", zap.String("order_id", d.OrderID), zap.Error(err))
			continue
		}
		if err := s.publish(ctx, orders.EventShipmentDispatched, d.OrderID, orders.ShipmentDispatchedPayload{
			OrderID: d.OrderID, TrackingNumber: d.TrackingNumber,
		}); err != nil {
			sc.Log.Error("publish dispatched failed", zap.String("order_id", d.OrderID), zap.Error(err))
		}
	}

	due, err = s.Repo.ClaimDueDelivery(ctx, batch)
	if err != nil {
		sc.Log.Error("claim delivery failed", zap.Error(err))
	}
	for _, d := range due {
		// delivered lalu completed; dua transisi terpisah di state machine
		if _, err := s.Orders.UpdateStatus(ctx, d.OrderID, orders.StatusDelivered); err != nil {
			sc.Log.Error("order delivered failed", zap.String("order_id", d.OrderID), zap.Error(err))
			continue
		}
		if _, err := s.Orders.UpdateStatus(ctx, d.OrderID, orders.StatusCompleted); err != nil {
			sc.Log.Error("order completed failed", zap.String("order_id", d.OrderID), zap.Error(err))
		}
		if err := s.publish(ctx, orders.EventShipmentDelivered, d.OrderID, orders.ShipmentDeliveredPayload{
			OrderID: d.OrderID, TrackingNumber: d.TrackingNumber,
		}); err != nil {
			sc.Log.Error("publish delivered failed", zap.String("order_id", d.OrderID), zap.Error(err))
		}
		// join selesai total -> tracker entry dibuang
		if err := s.Repo.DeleteReadiness(ctx, d.OrderID); err != nil {
			sc.Log.Error("delete readiness failed", zap.String("order_id", d.OrderID), zap.Error(err))
		}
	}
}
