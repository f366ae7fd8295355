package work

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/repairflow/internal/location"
	"github.com/odyssey-erp/repairflow/internal/platform/db"
	"github.com/odyssey-erp/repairflow/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the order lifecycle.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ============================================================================
// ORDERS
// ============================================================================

const orderColumns = `o.id, o.uuid::text, o.serial_no, o.problem_statement, o.accessories, o.quantity,
	o.is_diagnosis_need, o.status, o.warehouse_uuid::text, o.rack_uuid::text, o.floor_uuid::text,
	o.box_uuid::text, o.bill_amount, o.ready_for_delivery_date, COALESCE(o.created_by::text, ''),
	o.created_at, o.updated_at,
	EXISTS (
		SELECT 1 FROM challan_entries ce
		JOIN challans c ON c.uuid = ce.challan_uuid
		WHERE ce.order_uuid = o.uuid AND c.is_delivery_complete
	)`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o    Order
		bill decimal.NullDecimal
	)
	err := row.Scan(&o.ID, &o.UUID, &o.SerialNo, &o.ProblemStatement, &o.Accessories, &o.Quantity,
		&o.IsDiagnosisNeed, &o.Status, &o.Location.WarehouseUUID, &o.Location.RackUUID, &o.Location.FloorUUID,
		&o.Location.BoxUUID, &bill, &o.ReadyForDeliveryDate, &o.CreatedBy,
		&o.CreatedAt, &o.UpdatedAt, &o.Delivered)
	if err != nil {
		return Order{}, err
	}
	if bill.Valid {
		o.BillAmount = &bill.Decimal
	}
	return o, nil
}

func getOrder(ctx context.Context, q querier, uuid string, lock bool) (Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o WHERE o.uuid = $1`
	if lock {
		query += ` FOR UPDATE OF o`
	}
	order, err := scanOrder(q.QueryRow(ctx, query, uuid))
	if db.IsNoRows(err) {
		return Order{}, fmt.Errorf("order %s: %w", uuid, shared.ErrNotFound)
	}
	if err != nil {
		return Order{}, fmt.Errorf("load order %s: %w", uuid, err)
	}
	order.Problems, err = problemLog(ctx, q, uuid)
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func problemLog(ctx context.Context, q querier, orderUUID string) (ProblemLog, error) {
	rows, err := q.Query(ctx, `SELECT stage, problem_uuid::text, recorded_at
FROM order_problem_log WHERE order_uuid = $1 ORDER BY id`, orderUUID)
	if err != nil {
		return nil, fmt.Errorf("load problem log: %w", err)
	}
	defer rows.Close()
	var log ProblemLog
	for rows.Next() {
		var e ProblemEntry
		if err := rows.Scan(&e.Stage, &e.ProblemUUID, &e.RecordedAt); err != nil {
			return nil, err
		}
		log = append(log, e)
	}
	return log, rows.Err()
}

// GetOrder loads an order without locking it.
func (r *Repository) GetOrder(ctx context.Context, uuid string) (Order, error) {
	return getOrder(ctx, r.pool, uuid, false)
}

// ============================================================================
// DIAGNOSES
// ============================================================================

const diagnosisColumns = `uuid::text, order_uuid::text, COALESCE(engineer_uuid::text, ''), problems_uuid,
	problem_statement, proposed_cost, status, is_proceed_to_repair, status_update_date,
	COALESCE(created_by::text, ''), created_at`

func scanDiagnosis(row pgx.Row) (Diagnosis, error) {
	var (
		d    Diagnosis
		cost decimal.NullDecimal
	)
	err := row.Scan(&d.UUID, &d.OrderUUID, &d.EngineerUUID, &d.ProblemsUUID,
		&d.ProblemStatement, &cost, &d.Status, &d.IsProceedToRepair, &d.StatusUpdateDate,
		&d.CreatedBy, &d.CreatedAt)
	if err != nil {
		return Diagnosis{}, err
	}
	if cost.Valid {
		d.ProposedCost = &cost.Decimal
	}
	return d, nil
}

func getDiagnosis(ctx context.Context, q querier, uuid string, lock bool) (Diagnosis, error) {
	query := `SELECT ` + diagnosisColumns + ` FROM diagnoses WHERE uuid = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	d, err := scanDiagnosis(q.QueryRow(ctx, query, uuid))
	if db.IsNoRows(err) {
		return Diagnosis{}, fmt.Errorf("diagnosis %s: %w", uuid, shared.ErrNotFound)
	}
	if err != nil {
		return Diagnosis{}, fmt.Errorf("load diagnosis %s: %w", uuid, err)
	}
	return d, nil
}

func collectDiagnoses(rows pgx.Rows) ([]Diagnosis, error) {
	defer rows.Close()
	var out []Diagnosis
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDiagnosis loads a diagnosis without locking it.
func (r *Repository) GetDiagnosis(ctx context.Context, uuid string) (Diagnosis, error) {
	return getDiagnosis(ctx, r.pool, uuid, false)
}

// ListPendingDiagnoses lists diagnoses not yet sent to repair, newest first.
func (r *Repository) ListPendingDiagnoses(ctx context.Context, limit, offset int) ([]Diagnosis, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM diagnoses WHERE NOT is_proceed_to_repair`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pending diagnoses: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+diagnosisColumns+` FROM diagnoses
WHERE NOT is_proceed_to_repair ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list pending diagnoses: %w", err)
	}
	items, err := collectDiagnoses(rows)
	return items, total, err
}

// ============================================================================
// PROCESSES
// ============================================================================

const processColumns = `uuid::text, diagnosis_uuid::text, order_uuid::text, section_uuid::text,
	COALESCE(engineer_uuid::text, ''), problems_uuid, problem_statement, status, is_transferred_for_qc,
	is_ready_for_delivery, status_update_date, warehouse_uuid::text, rack_uuid::text, floor_uuid::text,
	box_uuid::text, COALESCE(created_by::text, ''), created_at, updated_at`

func listProcesses(ctx context.Context, q querier, diagnosisUUID string, lock bool) ([]Process, error) {
	query := `SELECT ` + processColumns + ` FROM processes WHERE diagnosis_uuid = $1 ORDER BY created_at, uuid`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, diagnosisUUID)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()
	var out []Process
	for rows.Next() {
		var p Process
		if err := rows.Scan(&p.UUID, &p.DiagnosisUUID, &p.OrderUUID, &p.SectionUUID,
			&p.EngineerUUID, &p.ProblemsUUID, &p.ProblemStatement, &p.Status, &p.IsTransferredForQC,
			&p.IsReadyForDelivery, &p.StatusUpdateDate, &p.Location.WarehouseUUID, &p.Location.RackUUID,
			&p.Location.FloorUUID, &p.Location.BoxUUID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListProcesses returns the processes of a diagnosis.
func (r *Repository) ListProcesses(ctx context.Context, diagnosisUUID string) ([]Process, error) {
	return listProcesses(ctx, r.pool, diagnosisUUID, false)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func chainArgs(c location.Chain) []any {
	return []any{c.WarehouseUUID, c.RackUUID, c.FloorUUID, c.BoxUUID}
}
