package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/repairflow/internal/platform/db"
	"github.com/odyssey-erp/repairflow/internal/shared"
	"github.com/odyssey-erp/repairflow/internal/work"
)

// Repository persists the parts ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const transferColumns = `uuid::text, product_uuid::text, warehouse_uuid::text, order_uuid::text, quantity,
	COALESCE(remarks, ''), COALESCE(created_by::text, ''), created_at, updated_at`

func getTransfer(ctx context.Context, q querier, uuid string, lock bool) (Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM product_transfers WHERE uuid = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var t Transfer
	err := q.QueryRow(ctx, query, uuid).Scan(&t.UUID, &t.ProductUUID, &t.WarehouseUUID, &t.OrderUUID, &t.Quantity,
		&t.Remarks, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if db.IsNoRows(err) {
		return Transfer{}, fmt.Errorf("transfer %s: %w", uuid, shared.ErrNotFound)
	}
	if err != nil {
		return Transfer{}, fmt.Errorf("load transfer %s: %w", uuid, err)
	}
	return t, nil
}

func getStock(ctx context.Context, q querier, productUUID, warehouseUUID string, lock bool) (Stock, error) {
	query := `SELECT quantity, updated_at FROM product_stocks WHERE product_uuid = $1 AND warehouse_uuid = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	stock := Stock{ProductUUID: productUUID, WarehouseUUID: warehouseUUID, Quantity: decimal.Zero}
	err := q.QueryRow(ctx, query, productUUID, warehouseUUID).Scan(&stock.Quantity, &stock.UpdatedAt)
	if db.IsNoRows(err) {
		return stock, nil
	}
	if err != nil {
		return Stock{}, fmt.Errorf("load stock: %w", err)
	}
	return stock, nil
}

const summaryQuery = `SELECT t.product_uuid::text, COALESCE(p.name, ''), t.warehouse_uuid::text, COALESCE(w.name, ''),
	SUM(t.quantity), COALESCE(p.unit_price, 0)
FROM product_transfers t
LEFT JOIN products p ON p.uuid = t.product_uuid
LEFT JOIN warehouses w ON w.uuid = t.warehouse_uuid
WHERE t.order_uuid = $1
GROUP BY t.product_uuid, p.name, t.warehouse_uuid, w.name, p.unit_price
HAVING SUM(t.quantity) <> 0
ORDER BY t.product_uuid, t.warehouse_uuid`

func scanSummary(rows pgx.Rows) (TransferSummary, error) {
	var s TransferSummary
	err := rows.Scan(&s.ProductUUID, &s.ProductName, &s.WarehouseUUID, &s.WarehouseName, &s.Quantity, &s.UnitPrice)
	return s, err
}

// GetTransfer loads a transfer.
func (r *Repository) GetTransfer(ctx context.Context, uuid string) (Transfer, error) {
	return getTransfer(ctx, r.pool, uuid, false)
}

// GetStock loads the stock of a product in a warehouse.
func (r *Repository) GetStock(ctx context.Context, productUUID, warehouseUUID string) (Stock, error) {
	return getStock(ctx, r.pool, productUUID, warehouseUUID, false)
}

// EachOrderSummary streams summary rows, closing the cursor as soon as fn stops.
func (r *Repository) EachOrderSummary(ctx context.Context, orderUUID string, fn func(TransferSummary) bool) error {
	rows, err := r.pool.Query(ctx, summaryQuery, orderUUID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return err
		}
		if !fn(sum) {
			return nil
		}
	}
	return rows.Err()
}

// NegativeStocks lists overdrawn stock rows, most negative first.
func (r *Repository) NegativeStocks(ctx context.Context, limit int) ([]Stock, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_uuid::text, warehouse_uuid::text, quantity, updated_at
FROM product_stocks WHERE quantity < 0 ORDER BY quantity LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list negative stocks: %w", err)
	}
	defer rows.Close()
	var out []Stock
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.ProductUUID, &s.WarehouseUUID, &s.Quantity, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ============================================================================
// TRANSACTIONAL
// ============================================================================

func (r *txRepo) LockOrder(ctx context.Context, orderUUID string) (work.Order, error) {
	order := work.Order{UUID: orderUUID}
	err := r.tx.QueryRow(ctx, `SELECT o.status, EXISTS (
		SELECT 1 FROM challan_entries ce
		JOIN challans c ON c.uuid = ce.challan_uuid
		WHERE ce.order_uuid = o.uuid AND c.is_delivery_complete
	)
FROM orders o WHERE o.uuid = $1 FOR SHARE OF o`, orderUUID).Scan(&order.Status, &order.Delivered)
	if db.IsNoRows(err) {
		return work.Order{}, fmt.Errorf("order %s: %w", orderUUID, shared.ErrNotFound)
	}
	if err != nil {
		return work.Order{}, fmt.Errorf("lock order %s: %w", orderUUID, err)
	}
	return order, nil
}

func (r *txRepo) LockStock(ctx context.Context, productUUID, warehouseUUID string) (Stock, error) {
	if _, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, shared.StockLockKey(productUUID, warehouseUUID)); err != nil {
		return Stock{}, fmt.Errorf("lock stock: %w", err)
	}
	return getStock(ctx, r.tx, productUUID, warehouseUUID, true)
}

func (r *txRepo) SaveStock(ctx context.Context, s Stock) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO product_stocks (product_uuid, warehouse_uuid, quantity, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (product_uuid, warehouse_uuid) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at`,
		s.ProductUUID, s.WarehouseUUID, s.Quantity, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save stock: %w", err)
	}
	return nil
}

func (r *txRepo) InsertTransfer(ctx context.Context, t Transfer) error {
	var createdBy *string
	if t.CreatedBy != "" {
		createdBy = &t.CreatedBy
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO product_transfers (uuid, product_uuid, warehouse_uuid, order_uuid, quantity,
	remarks, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.UUID, t.ProductUUID, t.WarehouseUUID, t.OrderUUID, t.Quantity, t.Remarks, createdBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (r *txRepo) LockTransfer(ctx context.Context, uuid string) (Transfer, error) {
	return getTransfer(ctx, r.tx, uuid, true)
}

func (r *txRepo) UpdateTransfer(ctx context.Context, t Transfer) error {
	tag, err := r.tx.Exec(ctx, `UPDATE product_transfers SET quantity = $2, updated_at = $3 WHERE uuid = $1`,
		t.UUID, t.Quantity, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transfer %s: %w", t.UUID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepo) DeleteTransfer(ctx context.Context, uuid string) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM product_transfers WHERE uuid = $1`, uuid)
	if err != nil {
		return fmt.Errorf("delete transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transfer %s: %w", uuid, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepo) OrderSummaries(ctx context.Context, orderUUID string) ([]TransferSummary, error) {
	rows, err := r.tx.Query(ctx, summaryQuery, orderUUID)
	if err != nil {
		return nil, fmt.Errorf("order summaries: %w", err)
	}
	defer rows.Close()
	var out []TransferSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
