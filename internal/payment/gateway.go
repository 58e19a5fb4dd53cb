package payment

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDeclined: outcome bisnis terminal, bukan error infra. Jangan retry.
var ErrDeclined = errors.New("payment declined")

// Gateway: di produksi diganti client gateway beneran.
type Gateway interface {
	Charge(ctx context.Context, orderID string, amountCents int) (transactionID string, err error)
}

// SimulatedGateway: latency + probabilitas decline sebagai stand-in.
type SimulatedGateway struct {
	Latency     time.Duration
	FailureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedGateway(latency time.Duration, failureRate float64) *SimulatedGateway {
	return &SimulatedGateway{
		Latency:     latency,
		FailureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, orderID string, amountCents int) (string, error) {
	select {
	case <-time.After(g.Latency):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	g.mu.Lock()
	declined := g.rng.Float64() < g.FailureRate
	g.mu.Unlock()
	if declined {
		return "", ErrDeclined
	}
	return "txn-" + uuid.NewString(), nil
}
