package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orders"
)

// fakeStock meniru semantik ReserveAll/ReleaseAll di DB: marker audit
// atomik dengan mutasi stok, reserve all-or-nothing, release sekali saja.
type fakeStock struct {
	mu       sync.Mutex
	quantity map[string]int
	reserved map[string]int
	resMark  map[string]bool // order_id -> marker INVENTORY_RESERVED
	relMark  map[string]bool // order_id -> marker INVENTORY_RELEASED
}

func newFakeStock(qty map[string]int) *fakeStock {
	return &fakeStock{
		quantity: qty,
		reserved: map[string]int{},
		resMark:  map[string]bool{},
		relMark:  map[string]bool{},
	}
}

func (f *fakeStock) ReserveAll(ctx context.Context, orderID string, items []orders.Item, payload json.RawMessage, service string) (bool, []orders.UnavailableItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resMark[orderID] {
		return true, nil, nil
	}
	var unavailable []orders.UnavailableItem
	for _, it := range items {
		avail := f.quantity[it.ProductID] - f.reserved[it.ProductID]
		if avail < it.Quantity {
			unavailable = append(unavailable, orders.UnavailableItem{
				ProductID: it.ProductID,
				Requested: it.Quantity,
				Available: avail,
			})
		}
	}
	if len(unavailable) > 0 {
		return false, unavailable, nil
	}
	for _, it := range items {
		f.reserved[it.ProductID] += it.Quantity
	}
	f.resMark[orderID] = true
	return true, nil, nil
}

func (f *fakeStock) ReleaseAll(ctx context.Context, orderID string, items []orders.Item, payload json.RawMessage, service string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.relMark[orderID] {
		return false, nil
	}
	for _, it := range items {
		f.reserved[it.ProductID] -= it.Quantity
		if f.reserved[it.ProductID] < 0 {
			f.reserved[it.ProductID] = 0
		}
	}
	f.relMark[orderID] = true
	return true, nil
}

type fakeOrders struct {
	mu       sync.Mutex
	items    map[string][]orders.Item
	statuses map[string][]orders.Status
	failNext map[orders.Status]int // transisi ini gagal N kali dulu
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		items:    map[string][]orders.Item{},
		statuses: map[string][]orders.Status{},
		failNext: map[orders.Status]int{},
	}
}

func (f *fakeOrders) UpdateStatus(ctx context.Context, orderID string, to orders.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext[to] > 0 {
		f.failNext[to]--
		return false, errors.New("db connection reset")
	}
	f.statuses[orderID] = append(f.statuses[orderID], to)
	return true, nil
}

func (f *fakeOrders) GetOrderItems(ctx context.Context, orderID string) ([]orders.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[orderID], nil
}

// fakeEvents mencerminkan unique(order_id, event_type, service) di order_events.
type fakeEvents struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeEvents() *fakeEvents { return &fakeEvents{seen: map[string]bool{}} }

func (f *fakeEvents) key(orderID string, t orders.EventType) string {
	return orderID + "|" + string(t)
}

func (f *fakeEvents) Append(ctx context.Context, orderID string, t orders.EventType, payload json.RawMessage, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[f.key(orderID, t)] = true
	return nil
}

func (f *fakeEvents) Has(ctx context.Context, orderID string, t orders.EventType, service string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[f.key(orderID, t)], nil
}

func (f *fakeEvents) mark(orderID string, t orders.EventType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[f.key(orderID, t)] = true
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDedup() *fakeDedup { return &fakeDedup{seen: map[string]bool{}} }

func (f *fakeDedup) Seen(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[id], nil
}

func (f *fakeDedup) Mark(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[id] = true
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	envelopes []orders.Envelope
}

func (f *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	env, err := orders.DecodeEnvelope(value)
	if err != nil {
		panic(err)
	}
	f.envelopes = append(f.envelopes, env)
}

func (f *fakePublisher) byType(t orders.EventType) []orders.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []orders.Envelope
	for _, env := range f.envelopes {
		if env.EventType == t {
			out = append(out, env)
		}
	}
	return out
}

func newService(stock *fakeStock) (*Service, *fakeOrders, *fakePublisher, *fakeEvents) {
	ord := newFakeOrders()
	pub := &fakePublisher{}
	events := newFakeEvents()
	return &Service{
		Repo:        stock,
		Orders:      ord,
		Events:      events,
		Dedup:       newFakeDedup(),
		Producer:    pub,
		ServiceName: "inventory-service",
		Log:         zap.NewNop(),
	}, ord, pub, events
}

func createdMsg(t *testing.T, orderID string, items []orders.Item, replay bool) kafkago.Message {
	t.Helper()
	total := 0
	for _, it := range items {
		total += it.Quantity * it.UnitPriceCents
	}
	env, err := orders.NewEnvelope(orders.EventOrderCreated, "order-api", orderID, orders.OrderCreatedPayload{
		OrderID:    orderID,
		CustomerID: "c-1",
		Items:      items,
		TotalCents: total,
		IsReplay:   replay,
	})
	require.NoError(t, err)
	return kafkago.Message{Key: orders.PartitionKey(orderID), Value: kafkax.MustMarshal(env)}
}

func cancelledMsg(t *testing.T, orderID string) kafkago.Message {
	t.Helper()
	env, err := orders.NewEnvelope(orders.EventOrderCancelled, "order-api", orderID, orders.OrderCancelledPayload{OrderID: orderID})
	require.NoError(t, err)
	return kafkago.Message{Key: orders.PartitionKey(orderID), Value: kafkax.MustMarshal(env)}
}

func TestReserveSuccess(t *testing.T) {
	stock := newFakeStock(map[string]int{"p-1": 10})
	svc, ord, pub, _ := newService(stock)
	items := []orders.Item{{ProductID: "p-1", Quantity: 3, UnitPriceCents: 100}}

	require.NoError(t, svc.Handle(context.Background(), createdMsg(t, "o-1", items, false)))

	assert.Equal(t, 3, stock.reserved["p-1"])
	assert.Equal(t, []orders.Status{orders.StatusInventoryReserved}, ord.statuses["o-1"])
	assert.Len(t, pub.byType(orders.EventInventoryReserved), 1)
}

func TestReserveAllOrNothing(t *testing.T) {
	stock := newFakeStock(map[string]int{"p-1": 10, "p-2": 1})
	svc, ord, pub, _ := newService(stock)
	items := []orders.Item{
		{ProductID: "p-1", Quantity: 3, UnitPriceCents: 100},
		{ProductID: "p-2", Quantity: 5, UnitPriceCents: 200},
	}

	require.NoError(t, svc.Handle(context.Background(), createdMsg(t, "o-2", items, false)))

	// p-1 cukup tapi p-2 tidak: tidak boleh ada yang ke-reserve
	assert.Equal(t, 0, stock.reserved["p-1"])
	assert.Equal(t, 0, stock.reserved["p-2"])
	assert.Equal(t, []orders.Status{orders.StatusInventoryFailed}, ord.statuses["o-2"])

	failed := pub.byType(orders.EventInventoryFailed)
	require.Len(t, failed, 1)
	p, err := kafkax.UnwrapPayload[orders.InventoryFailedPayload](failed[0].Payload)
	require.NoError(t, err)
	require.Len(t, p.UnavailableItems, 1)
	assert.Equal(t, "p-2", p.UnavailableItems[0].ProductID)
	assert.Equal(t, 5, p.UnavailableItems[0].Requested)
	assert.Equal(t, 1, p.UnavailableItems[0].Available)
}

func TestReserveIdempotentOnRedelivery(t *testing.T) {
	stock := newFakeStock(map[string]int{"p-1": 10})
	svc, _, pub, _ := newService(stock)
	msg := createdMsg(t, "o-3", []orders.Item{{ProductID: "p-1", Quantity: 2, UnitPriceCents: 100}}, false)

	require.NoError(t, svc.Handle(context.Background(), msg))
	require.NoError(t, svc.Handle(context.Background(), msg))

	assert.Equal(t, 2, stock.reserved["p-1"])
	assert.Len(t, pub.envelopes, 1)
}

func TestReserveNotDuplicatedOnRetry(t *testing.T) {
	stock := newFakeStock(map[string]int{"p-1": 10})
	svc, ord, pub, _ := newService(stock)
	ord.failNext[orders.StatusInventoryReserved] = 1
	msg := createdMsg(t, "o-r", []orders.Item{{ProductID: "p-1", Quantity: 3, UnitPriceCents: 100}}, false)

	// attempt pertama: reserve commit, lalu status update gagal
	require.Error(t, svc.Handle(context.Background(), msg))
	assert.Equal(t, 3, stock.reserved["p-1"])
	assert.Empty(t, pub.envelopes)

	// retry: marker sudah ada, stok TIDAK boleh nambah; sisa langkah kelar
	require.NoError(t, svc.Handle(context.Background(), msg))
	assert.Equal(t, 3, stock.reserved["p-1"])
	assert.Equal(t, []orders.Status{orders.StatusInventoryReserved}, ord.statuses["o-r"])
	assert.Len(t, pub.byType(orders.EventInventoryReserved), 1)
}

func TestReserveConcurrentOrdersNeverOversell(t *testing.T) {
	stock := newFakeStock(map[string]int{"p-1": 100})
	svc, _, pub, _ := newService(stock)

	// dua order 60 unit rebutan stok 100: tepat satu yang menang
	var wg sync.WaitGroup
	for _, id := range []string{"o-a", "o-b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			msg := createdMsg(t, id, []orders.Item{{ProductID: "p-1", Quantity: 60, UnitPriceCents: 100}}, false)
			assert.NoError(t, svc.Handle(context.Background(), msg))
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 60, stock.reserved["p-1"])
	assert.LessOrEqual(t, stock.reserved["p-1"], stock.quantity["p-1"])
	assert.Len(t, pub.byType(orders.EventInventoryReserved), 1)
	assert.Len(t, pub.byType(orders.EventInventoryFailed), 1)
}

func TestReplaySkipsSideEffects(t *testing.T) {
	stock := newFakeStock(map[string]int{"p-1": 10})
	svc, ord, pub, _ := newService(stock)

	msg := createdMsg(t, "o-4", []orders.Item{{ProductID: "p-1", Quantity: 2, UnitPriceCents: 100}}, true)
	require.NoError(t, svc.Handle(context.Background(), msg))

	assert.Equal(t, 0, stock.reserved["p-1"])
	assert.Empty(t, ord.statuses["o-4"])
	assert.Empty(t, pub.envelopes)
}

func TestCancelReleasesReservation(t *testing.T) {
	stock := newFakeStock(map[string]int{"p-1": 10})
	svc, ord, pub, _ := newService(stock)
	items := []orders.Item{{ProductID: "p-1", Quantity: 4, UnitPriceCents: 100}}
	ord.items["o-5"] = items

	require.NoError(t, svc.Handle(context.Background(), createdMsg(t, "o-5", items, false)))
	require.Equal(t, 4, stock.reserved["p-1"])

	require.NoError(t, svc.Handle(context.Background(), cancelledMsg(t, "o-5")))
	assert.Equal(t, 0, stock.reserved["p-1"])
	assert.Len(t, pub.byType(orders.EventInventoryReleased), 1)
}

func TestCancelReleasesOnlyOnce(t *testing.T) {
	stock := newFakeStock(map[string]int{"p-1": 10})
	svc, ord, pub, _ := newService(stock)
	items := []orders.Item{{ProductID: "p-1", Quantity: 4, UnitPriceCents: 100}}
	ord.items["o-6"] = items

	require.NoError(t, svc.Handle(context.Background(), createdMsg(t, "o-6", items, false)))
	require.NoError(t, svc.Handle(context.Background(), cancelledMsg(t, "o-6")))
	// cancel kedua (event lain, bukan redelivery): tetap tidak release lagi
	require.NoError(t, svc.Handle(context.Background(), cancelledMsg(t, "o-6")))

	assert.Equal(t, 0, stock.reserved["p-1"])
	assert.Len(t, pub.byType(orders.EventInventoryReleased), 1)
}

func TestCancelWithoutReservationIsNoop(t *testing.T) {
	stock := newFakeStock(map[string]int{"p-1": 10})
	svc, _, pub, _ := newService(stock)

	require.NoError(t, svc.Handle(context.Background(), cancelledMsg(t, "o-7")))
	assert.Empty(t, pub.envelopes)
}

func TestDropsMalformed(t *testing.T) {
	stock := newFakeStock(nil)
	svc, _, _, _ := newService(stock)

	err := svc.Handle(context.Background(), kafkago.Message{Value: []byte("{")})
	assert.ErrorIs(t, err, kafkax.ErrDrop)
}
