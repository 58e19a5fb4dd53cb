package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ItemInput struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type Repo struct{ DB *pgxpool.Pool }

var (
	ErrNotFound  = errors.New("order not found")
	ErrTerminal  = errors.New("order already in terminal state")
	ErrNoProduct = errors.New("product not found")
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateOrderTx: idempotent via external_id.
// - jika external_id sudah ada -> return existing order (existed=true), tanpa insert.
// - harga selalu diambil dari table products (hindari trust dari client).
func (r *Repo) CreateOrderTx(ctx context.Context, externalID, customerID string, items []ItemInput) (order Order, lines []Item, existed bool, err error) {
	row := r.DB.QueryRow(ctx, `SELECT id, status, total_cents FROM orders WHERE external_id=$1`, externalID)
	if err = row.Scan(&order.ID, &order.Status, &order.TotalCents); err == nil {
		order.ExternalID = externalID
		order.CustomerID = customerID
		return order, nil, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return Order{}, nil, false, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	rows, err := tx.Query(ctx, `SELECT id, price_cents FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return Order{}, nil, false, err
	}
	prices := map[string]int{}
	for rows.Next() {
		var id string
		var price int
		if err := rows.Scan(&id, &price); err != nil {
			rows.Close()
			return Order{}, nil, false, err
		}
		prices[id] = price
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Order{}, nil, false, err
	}

	total := 0
	for _, it := range items {
		price, ok := prices[it.ProductID]
		if !ok {
			return Order{}, nil, false, fmt.Errorf("%w: %s", ErrNoProduct, it.ProductID)
		}
		total += price * it.Quantity
		lines = append(lines, Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitPriceCents: price})
	}

	order = Order{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		CustomerID: customerID,
		Status:     StatusPending,
		TotalCents: total,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, customer_id, status, total_cents)
		VALUES ($1, $2, $3, $4, $5)
	`, order.ID, externalID, customerID, string(StatusPending), total)
	if err != nil {
		// dua POST external_id sama bisa lolos pre-select dua-duanya;
		// yang kalah balik ke order milik pemenang, bukan 500
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			var existing Order
			err := r.DB.QueryRow(ctx, `SELECT id, status, total_cents FROM orders WHERE external_id=$1`, externalID).
				Scan(&existing.ID, &existing.Status, &existing.TotalCents)
			if err != nil {
				return Order{}, nil, false, err
			}
			existing.ExternalID = externalID
			existing.CustomerID = customerID
			return existing, nil, true, nil
		}
		return Order{}, nil, false, err
	}

	for _, it := range lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, quantity, unit_price_cents)
			VALUES ($1, $2, $3, $4)`,
			order.ID, it.ProductID, it.Quantity, it.UnitPriceCents,
		)
		if err != nil {
			return Order{}, nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, nil, false, err
	}
	return order, lines, false, nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, external_id, customer_id, status, total_cents, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.ExternalID, &o.CustomerID, &o.Status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

func (r *Repo) GetOrderItems(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, quantity, unit_price_cents FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateStatus: conditional UPDATE, hanya lolos kalau transisi valid
// (lihat status.go). changed=false artinya state sekarang tidak boleh
// pindah ke target -- bukan error, redelivery memang expected.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, to Status) (changed bool, err error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND status = ANY($3)`,
		orderID, string(to), TransitionsInto(to))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// Cancel: state non-terminal apa pun boleh ke cancelled.
func (r *Repo) Cancel(ctx context.Context, orderID string) error {
	changed, err := r.UpdateStatus(ctx, orderID, StatusCancelled)
	if err != nil {
		return err
	}
	if !changed {
		if _, err := r.GetOrder(ctx, orderID); err != nil {
			return err
		}
		return ErrTerminal
	}
	return nil
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, price_cents, quantity, reserved, created_at, updated_at
		FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.Quantity, &p.Reserved, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListOrdersBetween: sumber data replay engine.
func (r *Repo) ListOrdersBetween(ctx context.Context, from, to time.Time) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, external_id, customer_id, status, total_cents, created_at, updated_at
		FROM orders WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.ExternalID, &o.CustomerID, &o.Status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
