package orders

type Status string

const (
	StatusPending           Status = "pending"
	StatusPaymentProcessing Status = "payment_processing"
	StatusPaymentCompleted  Status = "payment_completed"
	StatusPaymentFailed     Status = "payment_failed"
	StatusInventoryReserved Status = "inventory_reserved"
	StatusInventoryFailed   Status = "inventory_failed"
	StatusShipped           Status = "shipped"
	StatusInTransit         Status = "in_transit"
	StatusDelivered         Status = "delivered"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

// Branch payment & inventory jalan paralel, jadi dua-duanya bisa
// saling mendahului sebelum ketemu lagi di shipped.
var validNext = map[Status]map[Status]bool{
	StatusPending: {
		StatusPaymentProcessing: true,
		StatusPaymentCompleted:  true,
		StatusPaymentFailed:     true,
		StatusInventoryReserved: true,
		StatusInventoryFailed:   true,
		StatusCancelled:         true,
	},
	StatusPaymentProcessing: {
		StatusPaymentCompleted:  true,
		StatusPaymentFailed:     true,
		StatusInventoryReserved: true,
		StatusInventoryFailed:   true,
		StatusCancelled:         true,
	},
	StatusPaymentCompleted: {
		StatusInventoryReserved: true,
		StatusInventoryFailed:   true,
		StatusShipped:           true,
		StatusCancelled:         true,
	},
	StatusInventoryReserved: {
		StatusPaymentProcessing: true,
		StatusPaymentCompleted:  true,
		StatusPaymentFailed:     true,
		StatusShipped:           true,
		StatusCancelled:         true,
	},
	StatusShipped:   {StatusInTransit: true, StatusCancelled: true},
	StatusInTransit: {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered: {StatusCompleted: true},
	// terminal
	StatusPaymentFailed:   {},
	StatusInventoryFailed: {},
	StatusCompleted:       {},
	StatusCancelled:       {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func IsTerminal(s Status) bool {
	return len(validNext[s]) == 0
}

// TransitionsInto: daftar status asal yang boleh pindah ke target.
// Dipakai repo untuk conditional UPDATE (WHERE status = ANY(...)).
func TransitionsInto(to Status) []string {
	var from []string
	for s, next := range validNext {
		if next[to] {
			from = append(from, string(s))
		}
	}
	return from
}
