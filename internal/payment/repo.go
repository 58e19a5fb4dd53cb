package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-saga/internal/orders"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) GetByOrderID(ctx context.Context, orderID string) (orders.PaymentRecord, bool, error) {
	var rec orders.PaymentRecord
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_id, amount_cents, status, transaction_id, created_at
		FROM payments WHERE order_id=$1`, orderID).
		Scan(&rec.ID, &rec.OrderID, &rec.AmountCents, &rec.Status, &rec.TransactionID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.PaymentRecord{}, false, nil
	}
	if err != nil {
		return orders.PaymentRecord{}, false, err
	}
	return rec, true, nil
}

// Create: unique(order_id) adalah idempotency key; ON CONFLICT DO NOTHING
// jadi backstop kalau dua handler balapan.
func (r *Repo) Create(ctx context.Context, rec orders.PaymentRecord) (inserted bool, err error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO payments(id, order_id, amount_cents, status, transaction_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING`,
		rec.ID, rec.OrderID, rec.AmountCents, string(rec.Status), rec.TransactionID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
