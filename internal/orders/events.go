package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventOrderCreated       EventType = "ORDER_CREATED"
	EventOrderCancelled     EventType = "ORDER_CANCELLED"
	EventPaymentProcessed   EventType = "PAYMENT_PROCESSED"
	EventPaymentFailed      EventType = "PAYMENT_FAILED"
	EventInventoryReserved  EventType = "INVENTORY_RESERVED"
	EventInventoryFailed    EventType = "INVENTORY_FAILED"
	EventInventoryReleased  EventType = "INVENTORY_RELEASED"
	EventShipmentCreated    EventType = "SHIPMENT_CREATED"
	EventShipmentDispatched EventType = "SHIPMENT_DISPATCHED"
	EventShipmentDelivered  EventType = "SHIPMENT_DELIVERED"
	EventProcessingFailed   EventType = "PROCESSING_FAILED" // dead-letter setelah retry habis
)

const EnvelopeVersion = 1

type Envelope struct {
	EventID   string          `json:"eventId"` // uuid
	EventType EventType       `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"` // RFC3339
	Payload   json.RawMessage `json:"payload"`
	Metadata  Metadata        `json:"metadata"`
}

type Metadata struct {
	Version       int    `json:"version"`
	Source        string `json:"source"`                  // e.g., "order-api"
	CorrelationID string `json:"correlationId,omitempty"` // order_id
}

// NewEnvelope bungkus payload jadi envelope v1. correlation = order_id.
func NewEnvelope(t EventType, source, correlation string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{
		EventID:   uuid.NewString(),
		EventType: t,
		Timestamp: time.Now().UTC(),
		Payload:   b,
		Metadata:  Metadata{Version: EnvelopeVersion, Source: source, CorrelationID: correlation},
	}, nil
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing eventType")
	}
	return env, nil
}

// ---- Payload per event (set tertutup, tagged by EventType) ----

type Item struct {
	ProductID      string `json:"productId"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int    `json:"unitPrice"`
}

type OrderCreatedPayload struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	Items      []Item `json:"items"`
	TotalCents int    `json:"total"`
	IsReplay   bool   `json:"isReplay,omitempty"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

type PaymentProcessedPayload struct {
	OrderID       string `json:"orderId"`
	AmountCents   int    `json:"amount"`
	TransactionID string `json:"transactionId"`
}

type PaymentFailedPayload struct {
	OrderID   string `json:"orderId"`
	ErrorCode string `json:"errorCode"` // e.g., CARD_DECLINED
	Message   string `json:"message"`
}

type UnavailableItem struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type InventoryReservedPayload struct {
	OrderID string `json:"orderId"`
	Items   []Item `json:"items"`
}

type InventoryFailedPayload struct {
	OrderID          string            `json:"orderId"`
	UnavailableItems []UnavailableItem `json:"unavailableItems"`
}

type InventoryReleasedPayload struct {
	OrderID string `json:"orderId"`
	Items   []Item `json:"items"`
}

type ShipmentCreatedPayload struct {
	OrderID        string `json:"orderId"`
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
}

type ShipmentDispatchedPayload struct {
	OrderID        string `json:"orderId"`
	TrackingNumber string `json:"trackingNumber"`
}

type ShipmentDeliveredPayload struct {
	OrderID        string `json:"orderId"`
	TrackingNumber string `json:"trackingNumber"`
}

// NewDeadLetter: envelope PROCESSING_FAILED untuk pesan yang habis retry.
// key = partition key pesan asli (order_id).
func NewDeadLetter(source, topic, key string, retryCount int, cause error) (Envelope, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return NewEnvelope(EventProcessingFailed, source, key, ProcessingFailedPayload{
		OrderID:    key,
		Topic:      topic,
		Status:     "failed",
		RetryCount: retryCount,
		Error:      msg,
	})
}

type ProcessingFailedPayload struct {
	OrderID    string `json:"orderId,omitempty"`
	Topic      string `json:"topic"`
	Status     string `json:"status"` // selalu "failed"
	RetryCount int    `json:"retryCount"`
	Error      string `json:"error"`
}
