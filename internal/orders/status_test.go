package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPaymentProcessing, true},
		{StatusPending, StatusInventoryReserved, true},
		{StatusPending, StatusCancelled, true},
		{StatusPaymentProcessing, StatusPaymentCompleted, true},
		{StatusPaymentCompleted, StatusShipped, true},
		{StatusInventoryReserved, StatusPaymentCompleted, true},
		{StatusShipped, StatusInTransit, true},
		{StatusInTransit, StatusDelivered, true},
		{StatusDelivered, StatusCompleted, true},

		// terminal states tidak boleh pindah
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusPaymentFailed, StatusPaymentCompleted, false},
		{StatusInventoryFailed, StatusInventoryReserved, false},

		{StatusPending, StatusShipped, false},
		{StatusShipped, StatusPending, false},
		{StatusDelivered, StatusCancelled, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusPaymentFailed, StatusInventoryFailed} {
		assert.True(t, IsTerminal(s), string(s))
	}
	for _, s := range []Status{StatusPending, StatusShipped, StatusInTransit, StatusDelivered} {
		assert.False(t, IsTerminal(s), string(s))
	}
}

func TestTransitionsInto(t *testing.T) {
	from := TransitionsInto(StatusShipped)
	assert.ElementsMatch(t, []string{string(StatusPaymentCompleted), string(StatusInventoryReserved)}, from)

	// semua state non-terminal bisa cancel, kecuali delivered yang
	// tinggal selangkah ke completed
	assert.ElementsMatch(t, []string{
		string(StatusPending),
		string(StatusPaymentProcessing),
		string(StatusPaymentCompleted),
		string(StatusInventoryReserved),
		string(StatusShipped),
		string(StatusInTransit),
	}, TransitionsInto(StatusCancelled))
}
