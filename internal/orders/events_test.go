package orders

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeWireFormat(t *testing.T) {
	env, err := NewEnvelope(EventOrderCreated, "order-api", "o-1", OrderCreatedPayload{
		OrderID:    "o-1",
		CustomerID: "c-1",
		Items:      []Item{{ProductID: "p-1", Quantity: 2, UnitPriceCents: 5499}},
		TotalCents: 10998,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, 1, env.Metadata.Version)
	assert.Equal(t, "o-1", env.Metadata.CorrelationID)

	// nama field wire dikunci: konsumen non-Go bergantung ke sini
	b, err := json.Marshal(env)
	require.NoError(t, err)
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &m))
	for _, k := range []string{"eventId", "eventType", "timestamp", "payload", "metadata"} {
		assert.Contains(t, m, k)
	}
	var meta map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(m["metadata"], &meta))
	for _, k := range []string{"version", "source", "correlationId"} {
		assert.Contains(t, meta, k)
	}
	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(m["payload"], &payload))
	for _, k := range []string{"orderId", "customerId", "items", "total"} {
		assert.Contains(t, payload, k)
	}
	// isReplay omitempty: tidak muncul di event live
	assert.NotContains(t, payload, "isReplay")
}

func TestDecodeEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventPaymentProcessed, "payment-service", "o-2", PaymentProcessedPayload{
		OrderID: "o-2", AmountCents: 500, TransactionID: "txn-1",
	})
	require.NoError(t, err)

	got, err := DecodeEnvelope(mustJSON(t, env))
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, EventPaymentProcessed, got.EventType)

	var p PaymentProcessedPayload
	require.NoError(t, json.Unmarshal(got.Payload, &p))
	assert.Equal(t, "txn-1", p.TransactionID)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"payload":{}}`))
	assert.Error(t, err, "missing eventType")
}

func TestNewDeadLetter(t *testing.T) {
	env, err := NewDeadLetter("payment-service", TopicOrders, "o-3", 3, errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, EventProcessingFailed, env.EventType)

	var p ProcessingFailedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "failed", p.Status)
	assert.Equal(t, 3, p.RetryCount)
	assert.Equal(t, "o-3", p.OrderID)
	assert.Equal(t, "boom", p.Error)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
