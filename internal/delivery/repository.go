package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/repairflow/internal/platform/db"
	"github.com/odyssey-erp/repairflow/internal/shared"
	"github.com/odyssey-erp/repairflow/internal/work"
)

// Repository persists challans in PostgreSQL.
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

// ============================================================================
// CHALLANS
// ============================================================================

const challanColumns = `id, uuid::text, challan_type, customer_uuid::text, employee_uuid::text, courier_uuid::text,
	vehicle_uuid::text, payment_method, is_delivery_complete, delivery_date, COALESCE(created_by::text, ''),
	created_at, updated_at`

func getChallan(ctx context.Context, q querier, uuid string, lock bool) (Challan, error) {
	query := `SELECT ` + challanColumns + ` FROM challans WHERE uuid = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var c Challan
	err := q.QueryRow(ctx, query, uuid).Scan(&c.ID, &c.UUID, &c.Type, &c.CustomerUUID, &c.EmployeeUUID,
		&c.CourierUUID, &c.VehicleUUID, &c.PaymentMethod, &c.IsDeliveryComplete, &c.DeliveryDate, &c.CreatedBy,
		&c.CreatedAt, &c.UpdatedAt)
	if db.IsNoRows(err) {
		return Challan{}, fmt.Errorf("challan %s: %w", uuid, shared.ErrNotFound)
	}
	if err != nil {
		return Challan{}, fmt.Errorf("load challan %s: %w", uuid, err)
	}
	return c, nil
}

func listEntries(ctx context.Context, q querier, challanUUID string) ([]Entry, error) {
	rows, err := q.Query(ctx, `SELECT uuid::text, challan_uuid::text, order_uuid::text, created_at
FROM challan_entries WHERE challan_uuid = $1 ORDER BY created_at, uuid`, challanUUID)
	if err != nil {
		return nil, fmt.Errorf("list challan entries: %w", err)
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UUID, &e.ChallanUUID, &e.OrderUUID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetChallan loads a challan with its entries.
func (r *Repository) GetChallan(ctx context.Context, uuid string) (Challan, error) {
	c, err := getChallan(ctx, r.pool, uuid, false)
	if err != nil {
		return Challan{}, err
	}
	c.Entries, err = listEntries(ctx, r.pool, uuid)
	if err != nil {
		return Challan{}, err
	}
	return c, nil
}

// ReadyOrders lists ready orders that are not on any challan yet, oldest first.
func (r *Repository) ReadyOrders(ctx context.Context, limit int) ([]OrderRef, error) {
	rows, err := r.pool.Query(ctx, `SELECT o.id, o.uuid::text, o.serial_no, o.status, o.created_at
FROM orders o
WHERE o.status = $1
  AND NOT EXISTS (SELECT 1 FROM challan_entries ce WHERE ce.order_uuid = o.uuid)
ORDER BY o.ready_for_delivery_date NULLS LAST, o.id
LIMIT $2`, work.StatusReadyForDelivery, limit)
	if err != nil {
		return nil, fmt.Errorf("list ready orders: %w", err)
	}
	defer rows.Close()
	out := []OrderRef{}
	for rows.Next() {
		var o OrderRef
		if err := rows.Scan(&o.ID, &o.UUID, &o.SerialNo, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// IsDelivered reports whether a completed challan carries the order.
func (r *Repository) IsDelivered(ctx context.Context, orderUUID string) (bool, error) {
	var delivered bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM challan_entries ce
	JOIN challans c ON c.uuid = ce.challan_uuid
	WHERE ce.order_uuid = $1 AND c.is_delivery_complete
)`, orderUUID).Scan(&delivered)
	if err != nil {
		return false, fmt.Errorf("check delivered: %w", err)
	}
	return delivered, nil
}

// ============================================================================
// TRANSACTIONAL
// ============================================================================

func (t *txRepo) InsertChallan(ctx context.Context, c *Challan) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO challans
	(uuid, challan_type, customer_uuid, employee_uuid, courier_uuid, vehicle_uuid, payment_method,
	 is_delivery_complete, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NULLIF($8, '')::uuid, $9, $9)
RETURNING id`, c.UUID, c.Type, c.CustomerUUID, c.EmployeeUUID, c.CourierUUID, c.VehicleUUID, c.PaymentMethod,
		c.CreatedBy, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert challan: %w", err)
	}
	return nil
}

func (t *txRepo) LockChallan(ctx context.Context, uuid string) (Challan, error) {
	return getChallan(ctx, t.tx, uuid, true)
}

func (t *txRepo) UpdateChallan(ctx context.Context, c Challan) error {
	tag, err := t.tx.Exec(ctx, `UPDATE challans
SET is_delivery_complete = $2, delivery_date = $3, updated_at = $4
WHERE uuid = $1`, c.UUID, c.IsDeliveryComplete, c.DeliveryDate, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update challan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("challan %s: %w", c.UUID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) ListEntries(ctx context.Context, challanUUID string) ([]Entry, error) {
	return listEntries(ctx, t.tx, challanUUID)
}

func (t *txRepo) LockOrder(ctx context.Context, orderUUID string) (OrderRef, error) {
	var o OrderRef
	err := t.tx.QueryRow(ctx, `SELECT o.id, o.uuid::text, o.serial_no, o.status, o.created_at,
	COALESCE((SELECT ce.challan_uuid::text FROM challan_entries ce WHERE ce.order_uuid = o.uuid), '')
FROM orders o WHERE o.uuid = $1 FOR UPDATE OF o`, orderUUID).Scan(&o.ID, &o.UUID, &o.SerialNo, &o.Status,
		&o.CreatedAt, &o.ChallanUUID)
	if db.IsNoRows(err) {
		return OrderRef{}, fmt.Errorf("order %s: %w", orderUUID, shared.ErrNotFound)
	}
	if err != nil {
		return OrderRef{}, fmt.Errorf("lock order %s: %w", orderUUID, err)
	}
	return o, nil
}

// InsertEntry relies on the unique index over challan_entries(order_uuid) to catch a concurrent
// manifest of the same order.
func (t *txRepo) InsertEntry(ctx context.Context, e Entry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO challan_entries (uuid, challan_uuid, order_uuid, created_at)
VALUES ($1, $2, $3, $4)`, e.UUID, e.ChallanUUID, e.OrderUUID, e.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: order %s", shared.ErrOrderAlreadyManifested, e.OrderUUID)
	}
	if err != nil {
		return fmt.Errorf("insert challan entry: %w", err)
	}
	return nil
}

func (t *txRepo) DeleteEntry(ctx context.Context, challanUUID, orderUUID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM challan_entries WHERE challan_uuid = $1 AND order_uuid = $2`,
		challanUUID, orderUUID)
	if err != nil {
		return fmt.Errorf("delete challan entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s on challan %s: %w", orderUUID, challanUUID, shared.ErrNotFound)
	}
	return nil
}
