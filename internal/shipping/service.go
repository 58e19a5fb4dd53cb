package shipping

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orders"
)

// Carrier set fixed; tracking number = prefix carrier + random hex.
var Carriers = []string{"DHL", "FEDEX", "UPS", "JNE"}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Store interface {
	MarkReady(ctx context.Context, orderID string, sig Signal) (bool, error)
	DeleteReadiness(ctx context.Context, orderID string) error
	CreateShipment(ctx context.Context, rec orders.ShipmentRecord) (bool, error)
	GetByOrderID(ctx context.Context, orderID string) (orders.ShipmentRecord, bool, error)
	ClaimDueDispatch(ctx context.Context, limit int) ([]DueShipment, error)
	ClaimDueDelivery(ctx context.Context, limit int) ([]DueShipment, error)
}

type OrderStore interface {
	UpdateStatus(ctx context.Context, orderID string, to orders.Status) (bool, error)
}

type EventStore interface {
	Append(ctx context.Context, orderID string, t orders.EventType, payload json.RawMessage, service string) error
	Has(ctx context.Context, orderID string, t orders.EventType, service string) (bool, error)
}

type Service struct {
	Repo        Store
	Orders      OrderStore
	Events      EventStore
	Producer    Publisher // topic: shipping
	ServiceName string
	Log         *zap.Logger

	DispatchDelay time.Duration
	DeliverDelay  time.Duration

	// testing seam; default pickCarrier
	PickCarrier func() string
}

// Handle: join fan-in. PAYMENT_PROCESSED dan INVENTORY_RESERVED bisa
// datang dari dua consumer thread dalam urutan apa pun; keduanya lewat
// jalur yang sama dan shipment dibuat maksimal sekali.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := orders.DecodeEnvelope(m.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", kafkax.ErrDrop, err)
	}

	var sig Signal
	var orderID string
	switch env.EventType {
	case orders.EventPaymentProcessed:
		p, err := kafkax.UnwrapPayload[orders.PaymentProcessedPayload](env.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", kafkax.ErrDrop, err)
		}
		sig, orderID = SignalPayment, p.OrderID
	case orders.EventInventoryReserved:
		p, err := kafkax.UnwrapPayload[orders.InventoryReservedPayload](env.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", kafkax.ErrDrop, err)
		}
		sig, orderID = SignalInventory, p.OrderID
	default:
		return nil // failure events terminal, tidak sampai ke sini
	}

	ready, err := s.Repo.MarkReady(ctx, orderID, sig)
	if err != nil {
		return err
	}
	if !ready {
		return nil // tunggu prasyarat satunya
	}
	return s.createShipment(ctx, orderID)
}

func (s *Service) createShipment(ctx context.Context, orderID string) error {
	pick := s.PickCarrier
	if pick == nil {
		pick = pickCarrier
	}
	carrier := pick()
	now := time.Now().UTC()
	rec := orders.ShipmentRecord{
		OrderID:        orderID,
		Carrier:        carrier,
		TrackingNumber: trackingNumber(carrier),
		DispatchDueAt:  now.Add(s.DispatchDelay),
		DeliverDueAt:   now.Add(s.DispatchDelay + s.DeliverDelay),
	}
	inserted, err := s.Repo.CreateShipment(ctx, rec)
	if err != nil {
		return err
	}
	if !inserted {
		// shipment sudah ada (redelivery / kalah balapan / retry setelah
		// gagal parsial). Kalau SHIPMENT_CREATED belum tercatat, sisa
		// langkahnya dilanjutkan dengan record yang menang; no-op polos
		// di sini bikin join macet permanen.
		existing, found, err := s.Repo.GetByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("shipment for order %s vanished", orderID)
		}
		done, err := s.Events.Has(ctx, orderID, orders.EventShipmentCreated, s.ServiceName)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		rec = existing
	}
	if _, err := s.Orders.UpdateStatus(ctx, orderID, orders.StatusShipped); err != nil {
		return err
	}
	s.Log.Info("shipment created",
		zap.String("order_id", orderID),
		zap.String("carrier", rec.Carrier),
		zap.String("tracking", rec.TrackingNumber))
	return s.publish(ctx, orders.EventShipmentCreated, orderID, orders.ShipmentCreatedPayload{
		OrderID:        orderID,
		Carrier:        rec.Carrier,
		TrackingNumber: rec.TrackingNumber,
	})
}

func (s *Service) publish(ctx context.Context, t orders.EventType, orderID string, payload any) error {
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
	return nil
}

func pickCarrier() string {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return Carriers[int(b[0])%len(Carriers)]
}

func trackingNumber(carrier string) string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return strings.ToUpper(carrier) + "-" + strings.ToUpper(hex.EncodeToString(b[:]))
}
