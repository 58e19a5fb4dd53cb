package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepo: append-only audit log. Row tidak pernah di-update/delete.
// unique(order_id, event_type, producing_service) dipakai buat cek idempotency.
type EventRepo struct{ DB *pgxpool.Pool }

// Append: ON CONFLICT DO NOTHING -- redelivery cuma nulis sekali.
func (r *EventRepo) Append(ctx context.Context, orderID string, t EventType, payload json.RawMessage, service string) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO order_events(id, order_id, event_type, payload, producing_service)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, event_type, producing_service) DO NOTHING
	`, uuid.NewString(), orderID, string(t), payload, service)
	return err
}

func (r *EventRepo) Has(ctx context.Context, orderID string, t EventType, service string) (bool, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM order_events
		WHERE order_id=$1 AND event_type=$2 AND producing_service=$3`,
		orderID, string(t), service).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *EventRepo) ListByOrder(ctx context.Context, orderID string) ([]OrderEvent, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, event_type, payload, producing_service, created_at
		FROM order_events WHERE order_id=$1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderEvent
	for rows.Next() {
		var e OrderEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.EventType, &e.Payload, &e.ProducingService, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type DailyStat struct {
	Day          time.Time `json:"day"`
	OrderCount   int       `json:"orderCount"`
	RevenueCents int       `json:"revenue"`
}

// DailyStats: analytics historis dari row persisted, independen dari
// counter live di aggregator. Revenue dihitung dari order completed saja.
func (r *EventRepo) DailyStats(ctx context.Context, days int) ([]DailyStat, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT date_trunc('day', created_at) AS day,
		       COUNT(*),
		       COALESCE(SUM(total_cents) FILTER (WHERE status = $2), 0)
		FROM orders
		WHERE created_at >= now() - make_interval(days => $1)
		GROUP BY day ORDER BY day`, days, string(StatusCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var d DailyStat
		if err := rows.Scan(&d.Day, &d.OrderCount, &d.RevenueCents); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
