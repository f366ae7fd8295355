package work

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/repairflow/internal/shared"
)

// Every write below locks the order row first and only then touches its diagnoses and processes,
// so two writers of the same order never interleave.

// ============================================================================
// DIAGNOSIS
// ============================================================================

// RecordDiagnosis opens a diagnosis on an order booked for one.
func (s *Service) RecordDiagnosis(ctx context.Context, in DiagnosisInput) (Diagnosis, error) {
	if err := nonNegative("proposed_cost", in.ProposedCost); err != nil {
		return Diagnosis{}, err
	}
	var (
		diagnosis Diagnosis
		eff       effects
	)
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, in.OrderUUID)
		if err != nil {
			return err
		}
		if err := guardOpen(order); err != nil {
			return err
		}
		diagnoses, err := tx.ListDiagnoses(ctx, order.UUID)
		if err != nil {
			return err
		}
		if active := activeDiagnosis(diagnoses); active != nil {
			return fmt.Errorf("%w: diagnosis %s on order %s", shared.ErrDuplicateActiveDiagnosis, active.UUID, order.UUID)
		}
		if err := s.move(&order, EventDiagnosisRecorded, &eff); err != nil {
			return err
		}
		diagnosis = Diagnosis{
			UUID:             s.newID(),
			OrderUUID:        order.UUID,
			EngineerUUID:     in.EngineerUUID,
			ProblemsUUID:     dedupe(in.ProblemsUUID),
			ProblemStatement: strings.TrimSpace(in.ProblemStatement),
			ProposedCost:     in.ProposedCost,
			Status:           DiagnosisPending,
			CreatedBy:        in.Actor,
			CreatedAt:        now,
		}
		if err := tx.InsertDiagnosis(ctx, diagnosis); err != nil {
			return err
		}
		order.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		eff.audit(in.Actor, "diagnosis.recorded", "diagnosis", diagnosis.UUID, map[string]any{"order_uuid": order.UUID}, now)
		return s.appendProblems(ctx, tx, &order, StageDiagnosis, diagnosis.ProblemsUUID, now)
	})
	if err != nil {
		return Diagnosis{}, fmt.Errorf("record diagnosis: %w", err)
	}
	s.flush(ctx, &eff)
	return diagnosis, nil
}

// DecideDiagnosis records the accept/reject decision and carries it onto the order.
func (s *Service) DecideDiagnosis(ctx context.Context, in DecisionInput) (Diagnosis, error) {
	if !in.Status.IsValid() || in.Status == DiagnosisPending {
		return Diagnosis{}, shared.Invalid("status", "must be accepted, rejected or not_repairable")
	}
	if in.IsProceedToRepair && in.Status != DiagnosisAccepted {
		return Diagnosis{}, shared.Invalid("is_proceed_to_repair", "requires an accepted diagnosis")
	}
	if len(in.Sections) > 0 && !in.IsProceedToRepair {
		return Diagnosis{}, shared.Invalid("sections", "can only be registered when proceeding to repair")
	}
	if err := nonNegative("proposed_cost", in.ProposedCost); err != nil {
		return Diagnosis{}, err
	}
	current, err := s.repo.GetDiagnosis(ctx, in.DiagnosisUUID)
	if err != nil {
		return Diagnosis{}, err
	}

	var (
		diagnosis Diagnosis
		eff       effects
	)
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, current.OrderUUID)
		if err != nil {
			return err
		}
		if err := guardOpen(order); err != nil {
			return err
		}
		diagnosis, err = tx.LockDiagnosis(ctx, in.DiagnosisUUID)
		if err != nil {
			return err
		}
		if !diagnosis.IsActive() {
			return fmt.Errorf("%w: diagnosis %s is already decided", shared.ErrInvalidTransition, diagnosis.UUID)
		}
		diagnosis.Status = in.Status
		diagnosis.IsProceedToRepair = in.IsProceedToRepair
		if in.ProposedCost != nil {
			diagnosis.ProposedCost = in.ProposedCost
		}
		diagnosis.StatusUpdateDate = &now
		if err := tx.UpdateDiagnosis(ctx, diagnosis); err != nil {
			return err
		}
		changed, err := s.attach(&order, diagnosis, &eff)
		if err != nil {
			return err
		}
		if changed {
			order.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, order); err != nil {
				return err
			}
		}
		if len(in.Sections) > 0 {
			if _, err := s.registerSections(ctx, tx, order, diagnosis, in.Sections, in.Actor, now); err != nil {
				return err
			}
		}
		eff.audit(in.Actor, "diagnosis.decided", "diagnosis", diagnosis.UUID, map[string]any{
			"status":               string(diagnosis.Status),
			"is_proceed_to_repair": diagnosis.IsProceedToRepair,
		}, now)
		return nil
	})
	if err != nil {
		return Diagnosis{}, fmt.Errorf("decide diagnosis: %w", err)
	}
	s.flush(ctx, &eff)
	return diagnosis, nil
}

// AttachDiagnosisResult re-applies the stored decision of a diagnosis to its order.
// It is a no-op when the order already reflects the decision.
func (s *Service) AttachDiagnosisResult(ctx context.Context, orderUUID, diagnosisUUID string) (Order, error) {
	var (
		order Order
		eff   effects
	)
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.LockOrder(ctx, orderUUID)
		if err != nil {
			return err
		}
		if order.IsTransferredForQC() {
			return fmt.Errorf("%w: order %s is already %s", shared.ErrInvalidTransition, order.UUID, order.EffectiveStatus())
		}
		diagnosis, err := tx.LockDiagnosis(ctx, diagnosisUUID)
		if err != nil {
			return err
		}
		if diagnosis.OrderUUID != order.UUID {
			return shared.Invalid("diagnosis_uuid", "belongs to another order")
		}
		changed, err := s.attach(&order, diagnosis, &eff)
		if err != nil || !changed {
			return err
		}
		order.UpdatedAt = now
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return Order{}, fmt.Errorf("attach diagnosis result: %w", err)
	}
	s.flush(ctx, &eff)
	return order, nil
}

// attach moves the order to match a diagnosis decision and reports whether it changed.
func (s *Service) attach(order *Order, d Diagnosis, eff *effects) (bool, error) {
	if order.IsTransferredForQC() {
		return false, fmt.Errorf("%w: order %s is already with QC", shared.ErrInvalidTransition, order.UUID)
	}
	switch {
	case d.Status == DiagnosisAccepted && d.IsProceedToRepair:
		if order.Status == StatusRepairInProgress {
			return false, nil
		}
		return true, s.move(order, EventDiagnosisAccepted, eff)
	case d.Status.IsDeclined():
		if order.Status == StatusRejected {
			return false, nil
		}
		if err := s.move(order, EventDiagnosisDeclined, eff); err != nil {
			return false, err
		}
		n := s.notification(NotifyDiagnosisDeclined, *order)
		n.DiagnosisUUID = d.UUID
		n.Reason = string(d.Status)
		eff.notifications = append(eff.notifications, n)
		return true, nil
	default:
		if order.Status != StatusDiagnosisPending {
			return false, fmt.Errorf("%w: order %s is %s while diagnosis %s is undecided", shared.ErrInvalidTransition, order.UUID, order.Status, d.UUID)
		}
		return false, nil
	}
}

// GetDiagnosis loads one diagnosis.
func (s *Service) GetDiagnosis(ctx context.Context, uuid string) (Diagnosis, error) {
	return s.repo.GetDiagnosis(ctx, uuid)
}

// ListPendingDiagnoses pages through diagnoses that have not been sent to repair.
func (s *Service) ListPendingDiagnoses(ctx context.Context, page, perPage int) ([]Diagnosis, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	items, total, err := s.repo.ListPendingDiagnoses(ctx, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// ============================================================================
// REPAIR PROCESSES
// ============================================================================

// RecordProcessStep records a repair section's work on a diagnosed order. When the step leaves every
// section of the diagnosis handed over, the order moves to QC in the same transaction.
func (s *Service) RecordProcessStep(ctx context.Context, in ProcessStepInput) (ProcessStepResult, error) {
	if in.ReadyForDelivery && !in.TransferredForQC {
		in.TransferredForQC = true
	}
	if s.locations != nil && !in.Location.IsEmpty() {
		if err := s.locations.ValidateChain(ctx, in.Location); err != nil {
			return ProcessStepResult{}, err
		}
	}
	current, err := s.repo.GetDiagnosis(ctx, in.DiagnosisUUID)
	if err != nil {
		return ProcessStepResult{}, err
	}

	var (
		result ProcessStepResult
		eff    effects
	)
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, current.OrderUUID)
		if err != nil {
			return err
		}
		if err := guardOpen(order); err != nil {
			return err
		}
		diagnosis, err := tx.LockDiagnosis(ctx, in.DiagnosisUUID)
		if err != nil {
			return err
		}
		if diagnosis.Status != DiagnosisAccepted || !diagnosis.IsProceedToRepair {
			return fmt.Errorf("%w: diagnosis %s has not been sent to repair", shared.ErrInvalidTransition, diagnosis.UUID)
		}
		processes, err := tx.LockProcesses(ctx, diagnosis.UUID)
		if err != nil {
			return err
		}

		idx := -1
		for i := range processes {
			if processes[i].SectionUUID == in.SectionUUID {
				idx = i
				break
			}
		}
		if order.Status == StatusQCPending && (idx < 0 || !processes[idx].IsTransferredForQC) {
			return fmt.Errorf("%w: order %s is already with QC", shared.ErrInvalidTransition, order.UUID)
		}
		if order.Status != StatusRepairInProgress && order.Status != StatusQCPending {
			return fmt.Errorf("%w: order %s is %s", shared.ErrInvalidTransition, order.UUID, order.Status)
		}
		if idx < 0 {
			return shared.Invalid("section_uuid", "is not registered on diagnosis "+diagnosis.UUID)
		}

		process := processes[idx]
		before := process
		if in.EngineerUUID != "" {
			process.EngineerUUID = in.EngineerUUID
		}
		if stmt := strings.TrimSpace(in.ProblemStatement); stmt != "" {
			process.ProblemStatement = stmt
		}
		process.ProblemsUUID = dedupe(append(process.ProblemsUUID, in.ProblemsUUID...))
		process.Status = process.Status || in.Done || in.TransferredForQC
		process.IsTransferredForQC = process.IsTransferredForQC || in.TransferredForQC
		process.IsReadyForDelivery = process.IsReadyForDelivery || in.ReadyForDelivery
		if !in.Location.IsEmpty() {
			process.Location = in.Location
			order.Location = order.Location.Merge(in.Location)
		}
		if process.Status != before.Status || process.IsTransferredForQC != before.IsTransferredForQC || process.IsReadyForDelivery != before.IsReadyForDelivery {
			process.StatusUpdateDate = &now
		}
		process.UpdatedAt = now

		processes[idx] = process
		if err := tx.UpdateProcess(ctx, process); err != nil {
			return err
		}

		orderChanged := !in.Location.IsEmpty()
		if order.Status == StatusRepairInProgress && allTransferred(processes) {
			if err := s.move(&order, EventTransferredForQC, &eff); err != nil {
				return err
			}
			result.TransferredForQC = true
			orderChanged = true
			eff.audit(in.Actor, "order.transferred_for_qc", "order", order.UUID, map[string]any{"sections": len(processes)}, now)
		}
		if orderChanged {
			order.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, order); err != nil {
				return err
			}
		}
		if err := s.appendProblems(ctx, tx, &order, StageRepairing, in.ProblemsUUID, now); err != nil {
			return err
		}
		eff.audit(in.Actor, "process.recorded", "process", process.UUID, map[string]any{
			"section_uuid":          process.SectionUUID,
			"is_transferred_for_qc": process.IsTransferredForQC,
		}, now)
		result.Process = process
		result.Order = order
		return nil
	})
	if err != nil {
		return ProcessStepResult{}, fmt.Errorf("record process step: %w", err)
	}
	s.flush(ctx, &eff)
	return result, nil
}

// RegisterSections adds repair sections to an accepted diagnosis. The QC join waits for every
// registered section, so sections must be registered before any of them hands over the last step.
func (s *Service) RegisterSections(ctx context.Context, in SectionsInput) ([]Process, error) {
	if len(dedupe(in.Sections)) == 0 {
		return nil, shared.Invalid("sections", "at least one section is required")
	}
	current, err := s.repo.GetDiagnosis(ctx, in.DiagnosisUUID)
	if err != nil {
		return nil, err
	}
	var (
		processes []Process
		eff       effects
	)
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, current.OrderUUID)
		if err != nil {
			return err
		}
		if err := guardOpen(order); err != nil {
			return err
		}
		diagnosis, err := tx.LockDiagnosis(ctx, in.DiagnosisUUID)
		if err != nil {
			return err
		}
		processes, err = s.registerSections(ctx, tx, order, diagnosis, in.Sections, in.Actor, now)
		if err != nil {
			return err
		}
		eff.audit(in.Actor, "process.sections_registered", "diagnosis", diagnosis.UUID, map[string]any{"sections": len(processes)}, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register sections: %w", err)
	}
	s.flush(ctx, &eff)
	return processes, nil
}

// registerSections inserts an open process for every section not yet on the diagnosis.
// It runs under the order lock and only while the order is in repair.
func (s *Service) registerSections(ctx context.Context, tx TxRepository, order Order, d Diagnosis, sections []string, actor string, now time.Time) ([]Process, error) {
	if d.Status != DiagnosisAccepted || !d.IsProceedToRepair {
		return nil, fmt.Errorf("%w: diagnosis %s has not been sent to repair", shared.ErrInvalidTransition, d.UUID)
	}
	if order.Status != StatusRepairInProgress {
		return nil, fmt.Errorf("%w: order %s is %s, sections are closed", shared.ErrInvalidTransition, order.UUID, order.Status)
	}
	processes, err := tx.LockProcesses(ctx, d.UUID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(processes))
	for _, p := range processes {
		known[p.SectionUUID] = struct{}{}
	}
	for _, section := range dedupe(sections) {
		if _, ok := known[section]; ok {
			continue
		}
		p := Process{
			UUID:          s.newID(),
			DiagnosisUUID: d.UUID,
			OrderUUID:     order.UUID,
			SectionUUID:   section,
			CreatedBy:     actor,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertProcess(ctx, p); err != nil {
			return nil, err
		}
		processes = append(processes, p)
	}
	return processes, nil
}

// ListProcesses returns the processes of a diagnosis.
func (s *Service) ListProcesses(ctx context.Context, diagnosisUUID string) ([]Process, error) {
	return s.repo.ListProcesses(ctx, diagnosisUUID)
}

// allTransferred is the QC join: true once every registered section has handed over.
func allTransferred(processes []Process) bool {
	if len(processes) == 0 {
		return false
	}
	for _, p := range processes {
		if !p.IsTransferredForQC {
			return false
		}
	}
	return true
}
