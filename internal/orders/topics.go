package orders

const (
	TopicOrders     = "orders"
	TopicPayments   = "payments"
	TopicInventory  = "inventory"
	TopicShipping   = "shipping"
	TopicReplay     = "orders-replay"
	TopicDeadLetter = "orders-dlq"
)

// Group id fixed per jenis reactor: scale out = tambah member ke group
// yang sama, bukan bikin group baru (group baru = duplikasi processing).
const (
	GroupPayment    = "payment-service-group"
	GroupInventory  = "inventory-service-group"
	GroupShipping   = "shipping-service-group"
	GroupAggregator = "status-aggregator-group"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
