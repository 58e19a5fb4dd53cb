package shipping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-saga/internal/orders"
)

// Readiness join dibackup row DB, bukan map in-process: unique(order_id)
// + conditional upsert bikin join tetap benar walau reactor di-scale
// horizontal atau dua event mendarat bersamaan di proses beda.
type Repo struct{ DB *pgxpool.Pool }

type Signal string

const (
	SignalPayment   Signal = "payment_at"
	SignalInventory Signal = "inventory_at"
)

// MarkReady: set timestamp prasyarat (idempotent via COALESCE) dan
// return apakah kedua prasyarat sudah terpenuhi.
func (r *Repo) MarkReady(ctx context.Context, orderID string, sig Signal) (ready bool, err error) {
	col := string(sig)
	if sig != SignalPayment && sig != SignalInventory {
		return false, fmt.Errorf("unknown readiness signal %q", sig)
	}
	q := fmt.Sprintf(`
		INSERT INTO shipping_readiness(order_id, %[1]s) VALUES ($1, now())
		ON CONFLICT (order_id) DO UPDATE
			SET %[1]s = COALESCE(shipping_readiness.%[1]s, now())
		RETURNING payment_at IS NOT NULL AND inventory_at IS NOT NULL`, col)
	err = r.DB.QueryRow(ctx, q, orderID).Scan(&ready)
	return ready, err
}

// DeleteReadiness: entry dibuang setelah shipment delivered.
func (r *Repo) DeleteReadiness(ctx context.Context, orderID string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM shipping_readiness WHERE order_id=$1`, orderID)
	return err
}

// CreateShipment: check-then-create sebagai satu statement;
// unique(order_id) adalah backstop terakhir kalau readiness check balapan.
// inserted=false artinya shipment sudah ada (kalah balapan / redelivery).
func (r *Repo) CreateShipment(ctx context.Context, rec orders.ShipmentRecord) (inserted bool, err error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO shipments(id, order_id, status, tracking_number, carrier,
		                      shipped_at, dispatch_due_at, deliver_due_at)
		VALUES ($1, $2, $3, $4, $5, now(), $6, $7)
		ON CONFLICT (order_id) DO NOTHING`,
		rec.ID, rec.OrderID, string(orders.ShipmentCreated), rec.TrackingNumber, rec.Carrier,
		rec.DispatchDueAt, rec.DeliverDueAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

type DueShipment struct {
	ID             string
	OrderID        string
	TrackingNumber string
}

// ClaimDueDispatch: conditional UPDATE sekaligus jadi claim -- dua
// scheduler tidak bisa ambil row yang sama.
func (r *Repo) ClaimDueDispatch(ctx context.Context, limit int) ([]DueShipment, error) {
	return r.claimDue(ctx, `
		UPDATE shipments SET status=$1
		WHERE id IN (
			SELECT id FROM shipments
			WHERE status=$2 AND dispatch_due_at <= now()
			ORDER BY dispatch_due_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, order_id, tracking_number`,
		string(orders.ShipmentDispatched), string(orders.ShipmentCreated), limit)
}

func (r *Repo) ClaimDueDelivery(ctx context.Context, limit int) ([]DueShipment, error) {
	return r.claimDue(ctx, `
		UPDATE shipments SET status=$1, delivered_at=now()
		WHERE id IN (
			SELECT id FROM shipments
			WHERE status=$2 AND deliver_due_at <= now()
			ORDER BY deliver_due_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, order_id, tracking_number`,
		string(orders.ShipmentDelivered), string(orders.ShipmentDispatched), limit)
}

func (r *Repo) claimDue(ctx context.Context, q string, args ...any) ([]DueShipment, error) {
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DueShipment
	for rows.Next() {
		var d DueShipment
		if err := rows.Scan(&d.ID, &d.OrderID, &d.TrackingNumber); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repo) GetByOrderID(ctx context.Context, orderID string) (orders.ShipmentRecord, bool, error) {
	var rec orders.ShipmentRecord
	var deliveredAt *time.Time
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_id, status, tracking_number, carrier, shipped_at,
		       delivered_at, dispatch_due_at, deliver_due_at
		FROM shipments WHERE order_id=$1`, orderID).
		Scan(&rec.ID, &rec.OrderID, &rec.Status, &rec.TrackingNumber, &rec.Carrier,
			&rec.ShippedAt, &deliveredAt, &rec.DispatchDueAt, &rec.DeliverDueAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ShipmentRecord{}, false, nil
	}
	if err != nil {
		return orders.ShipmentRecord{}, false, err
	}
	rec.DeliveredAt = deliveredAt
	return rec, true, nil
}
