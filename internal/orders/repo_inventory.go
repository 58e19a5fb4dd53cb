package orders

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type InventoryRepo struct{ DB *pgxpool.Pool }

// ReserveAll: satu transaksi ACID per order, all-or-nothing.
// Audit row INVENTORY_RESERVED ditulis DI DALAM transaksi yang sama dengan
// mutasi stok: marker dan efeknya atomik, jadi retry setelah commit
// (misal status update gagal sesudahnya) ketemu conflict di marker dan
// tidak reserve dua kali. Conditional UPDATE encode reserved <= quantity
// di WHERE clause, tidak perlu row lock eksplisit.
func (r *InventoryRepo) ReserveAll(ctx context.Context, orderID string, items []Item, payload json.RawMessage, service string) (ok bool, unavailable []UnavailableItem, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO order_events(id, order_id, event_type, payload, producing_service)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, event_type, producing_service) DO NOTHING`,
		uuid.NewString(), orderID, string(EventInventoryReserved), payload, service)
	if err != nil {
		return false, nil, err
	}
	if ct.RowsAffected() == 0 {
		// sudah pernah reserve untuk order ini; efek sudah ter-apply
		return true, nil, nil
	}

	for _, it := range items {
		var quantity, reserved int
		err := tx.QueryRow(ctx, `
			UPDATE products SET reserved = reserved + $2, updated_at = now()
			WHERE id = $1 AND quantity - reserved >= $2
			RETURNING quantity, reserved`, it.ProductID, it.Quantity).
			Scan(&quantity, &reserved)
		if err == nil {
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, nil, err
		}
		// stok kurang (atau product tidak ada) -> catat available buat payload
		var avail int
		if err := tx.QueryRow(ctx, `SELECT quantity - reserved FROM products WHERE id=$1`, it.ProductID).Scan(&avail); err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return false, nil, err
			}
			avail = 0
		}
		unavailable = append(unavailable, UnavailableItem{
			ProductID: it.ProductID, Requested: it.Quantity, Available: avail,
		})
	}

	if len(unavailable) > 0 {
		return false, unavailable, nil // rollback via defer, marker ikut batal
	}
	if err := tx.Commit(ctx); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

// ReleaseAll: lepas hold saat ORDER_CANCELLED. Marker INVENTORY_RELEASED
// atomik dengan decrement-nya, pola yang sama dengan ReserveAll: release
// maksimal sekali per order walau handler di-retry. released=false
// artinya sudah pernah release, tidak ada yang berubah.
func (r *InventoryRepo) ReleaseAll(ctx context.Context, orderID string, items []Item, payload json.RawMessage, service string) (released bool, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO order_events(id, order_id, event_type, payload, producing_service)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, event_type, producing_service) DO NOTHING`,
		uuid.NewString(), orderID, string(EventInventoryReleased), payload, service)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			UPDATE products SET reserved = GREATEST(0, reserved - $2), updated_at = now()
			WHERE id = $1`, it.ProductID, it.Quantity); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
