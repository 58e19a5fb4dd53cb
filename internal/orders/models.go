package orders

import (
	"encoding/json"
	"time"
)

type Order struct {
	ID         string
	ExternalID string
	CustomerID string
	Status     Status // lihat status.go
	TotalCents int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type OrderItem struct {
	OrderID        string
	ProductID      string
	Quantity       int
	UnitPriceCents int
}

type Product struct {
	ID         string
	SKU        string
	Name       string
	PriceCents int
	Quantity   int // stok on hand
	Reserved   int // hold outstanding; invariant: reserved <= quantity
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderEvent: audit trail append-only, satu row per event per service.
// Dipakai juga buat cek idempotency (unique order_id+event_type+producing_service).
type OrderEvent struct {
	ID               string
	OrderID          string
	EventType        EventType
	Payload          json.RawMessage
	ProducingService string
	CreatedAt        time.Time
}

type PaymentRecord struct {
	ID            string
	OrderID       string // unique: maksimal satu payment per order
	AmountCents   int
	Status        PaymentStatus
	TransactionID string
	CreatedAt     time.Time
}

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type ShipmentRecord struct {
	ID             string
	OrderID        string // unique: maksimal satu shipment per order
	Status         ShipmentStatus
	TrackingNumber string
	Carrier        string
	ShippedAt      time.Time
	DeliveredAt    *time.Time
	DispatchDueAt  time.Time
	DeliverDueAt   time.Time
}

type ShipmentStatus string

const (
	ShipmentCreated    ShipmentStatus = "created"
	ShipmentDispatched ShipmentStatus = "dispatched"
	ShipmentDelivered  ShipmentStatus = "delivered"
)
