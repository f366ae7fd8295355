package work

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/repairflow/internal/shared"
)

func (r *txRepo) InsertOrder(ctx context.Context, o Order) (Order, error) {
	args := []any{o.UUID, o.SerialNo, o.ProblemStatement, o.Accessories, o.Quantity, o.IsDiagnosisNeed, o.Status}
	args = append(args, chainArgs(o.Location)...)
	args = append(args, nullable(o.CreatedBy), o.CreatedAt)
	err := r.tx.QueryRow(ctx, `INSERT INTO orders (uuid, serial_no, problem_statement, accessories, quantity,
	is_diagnosis_need, status, warehouse_uuid, rack_uuid, floor_uuid, box_uuid, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
RETURNING id`, args...).Scan(&o.ID)
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	o.UpdatedAt = o.CreatedAt
	return o, nil
}

func (r *txRepo) LockOrder(ctx context.Context, uuid string) (Order, error) {
	return getOrder(ctx, r.tx, uuid, true)
}

func (r *txRepo) UpdateOrder(ctx context.Context, o Order) error {
	args := []any{o.UUID, o.Status, o.BillAmount, o.ReadyForDeliveryDate, o.UpdatedAt}
	args = append(args, chainArgs(o.Location)...)
	tag, err := r.tx.Exec(ctx, `UPDATE orders SET status = $2, bill_amount = $3, ready_for_delivery_date = $4,
	updated_at = $5, warehouse_uuid = $6, rack_uuid = $7, floor_uuid = $8, box_uuid = $9
WHERE uuid = $1`, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", o.UUID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepo) AppendProblems(ctx context.Context, orderUUID string, entries []ProblemEntry) error {
	for _, e := range entries {
		_, err := r.tx.Exec(ctx, `INSERT INTO order_problem_log (order_uuid, stage, problem_uuid, recorded_at)
VALUES ($1, $2, $3, $4) ON CONFLICT (order_uuid, stage, problem_uuid) DO NOTHING`,
			orderUUID, e.Stage, e.ProblemUUID, e.RecordedAt)
		if err != nil {
			return fmt.Errorf("append problem: %w", err)
		}
	}
	return nil
}

func (r *txRepo) ListDiagnoses(ctx context.Context, orderUUID string) ([]Diagnosis, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+diagnosisColumns+` FROM diagnoses WHERE order_uuid = $1 ORDER BY created_at`, orderUUID)
	if err != nil {
		return nil, fmt.Errorf("list diagnoses: %w", err)
	}
	return collectDiagnoses(rows)
}

func (r *txRepo) LockDiagnosis(ctx context.Context, uuid string) (Diagnosis, error) {
	return getDiagnosis(ctx, r.tx, uuid, true)
}

func (r *txRepo) InsertDiagnosis(ctx context.Context, d Diagnosis) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO diagnoses (uuid, order_uuid, engineer_uuid, problems_uuid,
	problem_statement, proposed_cost, status, is_proceed_to_repair, status_update_date, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.UUID, d.OrderUUID, nullable(d.EngineerUUID), d.ProblemsUUID, d.ProblemStatement, d.ProposedCost,
		d.Status, d.IsProceedToRepair, d.StatusUpdateDate, nullable(d.CreatedBy), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert diagnosis: %w", err)
	}
	return nil
}

func (r *txRepo) UpdateDiagnosis(ctx context.Context, d Diagnosis) error {
	tag, err := r.tx.Exec(ctx, `UPDATE diagnoses SET status = $2, is_proceed_to_repair = $3, proposed_cost = $4,
	status_update_date = $5 WHERE uuid = $1`,
		d.UUID, d.Status, d.IsProceedToRepair, d.ProposedCost, d.StatusUpdateDate)
	if err != nil {
		return fmt.Errorf("update diagnosis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("diagnosis %s: %w", d.UUID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepo) LockProcesses(ctx context.Context, diagnosisUUID string) ([]Process, error) {
	return listProcesses(ctx, r.tx, diagnosisUUID, true)
}

func (r *txRepo) InsertProcess(ctx context.Context, p Process) error {
	args := []any{p.UUID, p.DiagnosisUUID, p.OrderUUID, p.SectionUUID, nullable(p.EngineerUUID), p.ProblemsUUID,
		p.ProblemStatement, p.Status, p.IsTransferredForQC, p.IsReadyForDelivery, p.StatusUpdateDate}
	args = append(args, chainArgs(p.Location)...)
	args = append(args, nullable(p.CreatedBy), p.CreatedAt, p.UpdatedAt)
	_, err := r.tx.Exec(ctx, `INSERT INTO processes (uuid, diagnosis_uuid, order_uuid, section_uuid, engineer_uuid,
	problems_uuid, problem_statement, status, is_transferred_for_qc, is_ready_for_delivery, status_update_date,
	warehouse_uuid, rack_uuid, floor_uuid, box_uuid, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`, args...)
	if err != nil {
		return fmt.Errorf("insert process: %w", err)
	}
	return nil
}

func (r *txRepo) UpdateProcess(ctx context.Context, p Process) error {
	args := []any{p.UUID, nullable(p.EngineerUUID), p.ProblemsUUID, p.ProblemStatement, p.Status,
		p.IsTransferredForQC, p.IsReadyForDelivery, p.StatusUpdateDate, p.UpdatedAt}
	args = append(args, chainArgs(p.Location)...)
	tag, err := r.tx.Exec(ctx, `UPDATE processes SET engineer_uuid = $2, problems_uuid = $3, problem_statement = $4,
	status = $5, is_transferred_for_qc = $6, is_ready_for_delivery = $7, status_update_date = $8, updated_at = $9,
	warehouse_uuid = $10, rack_uuid = $11, floor_uuid = $12, box_uuid = $13
WHERE uuid = $1`, args...)
	if err != nil {
		return fmt.Errorf("update process: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("process %s: %w", p.UUID, shared.ErrNotFound)
	}
	return nil
}
