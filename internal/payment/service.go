package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orders"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Store interface {
	GetByOrderID(ctx context.Context, orderID string) (orders.PaymentRecord, bool, error)
	Create(ctx context.Context, rec orders.PaymentRecord) (bool, error)
}

type OrderStore interface {
	UpdateStatus(ctx context.Context, orderID string, to orders.Status) (bool, error)
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
	Gateway     Gateway
	Producer    Publisher // topic: payments
	ServiceName string
	Timeout     time.Duration
	Log         *zap.Logger
}

// HandleOrderCreated: dipasang sebagai handler consumer group payment.
// Declined payment = outcome terminal; tidak ada retry di layer ini.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	env, err := orders.DecodeEnvelope(m.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", kafkax.ErrDrop, err)
	}
	if env.EventType != orders.EventOrderCreated {
		return nil // ignore
	}
	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", kafkax.ErrDrop, err)
	}

	// safety contract: replay tidak boleh nyentuh side effect apa pun
	if p.IsReplay {
		s.Log.Info("replay event, skipping", zap.String("order_id", p.OrderID))
		return nil
	}

	// dedup fast path via Redis (pakai event_id); DB tetap kebenaran
	if seen, _ := s.Dedup.Seen(ctx, env.EventID); seen {
		return nil
	}

	// idempotency: record sudah ada -> jangan charge ulang, tapi status
	// dan event-nya bisa saja belum kelar (retry setelah gagal parsial)
	if rec, exists, err := s.Repo.GetByOrderID(ctx, p.OrderID); err != nil {
		return err
	} else if exists {
		return s.finish(ctx, env.EventID, p, rec)
	}

	if _, err := s.Orders.UpdateStatus(ctx, p.OrderID, orders.StatusPaymentProcessing); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.Timeout)
	txnID, err := s.Gateway.Charge(cctx, p.OrderID, p.TotalCents)
	cancel()

	switch {
	case err == nil:
		return s.completed(ctx, env.EventID, p, txnID)
	case errors.Is(err, ErrDeclined):
		return s.failed(ctx, env.EventID, p, "CARD_DECLINED", err.Error())
	default:
		return fmt.Errorf("charge order %s: %w", p.OrderID, err) // infra error -> retry di consumer
	}
}

// finish: record persisted dari attempt sebelumnya. Charge tidak diulang;
// sisa langkah (status transition + publish) dilanjutkan kalau audit log
// belum punya row event-nya -- tanpa ini, retry berhenti di exists-path
// dan PAYMENT_PROCESSED tidak pernah terbit.
func (s *Service) finish(ctx context.Context, eventID string, p orders.OrderCreatedPayload, rec orders.PaymentRecord) error {
	t := orders.EventPaymentProcessed
	status := orders.StatusPaymentCompleted
	if rec.Status == orders.PaymentFailed {
		t = orders.EventPaymentFailed
		status = orders.StatusPaymentFailed
	}
	done, err := s.Events.Has(ctx, p.OrderID, t, s.ServiceName)
	if err != nil {
		return err
	}
	if done {
		_ = s.Dedup.Mark(ctx, eventID)
		return nil
	}
	if _, err := s.Orders.UpdateStatus(ctx, p.OrderID, status); err != nil {
		return err
	}
	if t == orders.EventPaymentFailed {
		return s.publish(ctx, eventID, t, p.OrderID, orders.PaymentFailedPayload{
			OrderID:   p.OrderID,
			ErrorCode: "CARD_DECLINED",
			Message:   "payment declined",
		})
	}
	return s.publish(ctx, eventID, t, p.OrderID, orders.PaymentProcessedPayload{
		OrderID:       p.OrderID,
		AmountCents:   rec.AmountCents,
		TransactionID: rec.TransactionID,
	})
}

func (s *Service) completed(ctx context.Context, eventID string, p orders.OrderCreatedPayload, txnID string) error {
	inserted, err := s.Repo.Create(ctx, orders.PaymentRecord{
		OrderID:       p.OrderID,
		AmountCents:   p.TotalCents,
		Status:        orders.PaymentCompleted,
		TransactionID: txnID,
	})
	if err != nil {
		return err
	}
	if !inserted {
		// kalah balapan; lanjutkan dari record yang menang
		return s.refinish(ctx, eventID, p)
	}
	if _, err := s.Orders.UpdateStatus(ctx, p.OrderID, orders.StatusPaymentCompleted); err != nil {
		return err
	}
	return s.publish(ctx, eventID, orders.EventPaymentProcessed, p.OrderID, orders.PaymentProcessedPayload{
		OrderID:       p.OrderID,
		AmountCents:   p.TotalCents,
		TransactionID: txnID,
	})
}

func (s *Service) failed(ctx context.Context, eventID string, p orders.OrderCreatedPayload, code, msg string) error {
	inserted, err := s.Repo.Create(ctx, orders.PaymentRecord{
		OrderID:     p.OrderID,
		AmountCents: p.TotalCents,
		Status:      orders.PaymentFailed,
	})
	if err != nil {
		return err
	}
	if !inserted {
		return s.refinish(ctx, eventID, p)
	}
	if _, err := s.Orders.UpdateStatus(ctx, p.OrderID, orders.StatusPaymentFailed); err != nil {
		return err
	}
	return s.publish(ctx, eventID, orders.EventPaymentFailed, p.OrderID, orders.PaymentFailedPayload{
		OrderID:   p.OrderID,
		ErrorCode: code,
		Message:   msg,
	})
}

func (s *Service) refinish(ctx context.Context, eventID string, p orders.OrderCreatedPayload) error {
	rec, exists, err := s.Repo.GetByOrderID(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("payment record for order %s vanished", p.OrderID)
	}
	return s.finish(ctx, eventID, p, rec)
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
